package synth

type codeEntry struct {
	Code    string
	Display string
}

type observationDef struct {
	Code      string
	Display   string
	Unit      string
	Low, High float64
}

var (
	firstNamesMale = []string{
		"James", "Robert", "John", "Michael", "David", "William", "Richard",
		"Joseph", "Thomas", "Daniel", "Matthew", "Anthony", "Mark", "Steven",
	}

	firstNamesFemale = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Barbara",
		"Susan", "Jessica", "Sarah", "Karen", "Lisa", "Nancy", "Sandra",
	}

	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Wilson",
		"Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin", "Lee",
	}

	cities = []string{
		"Springfield", "Riverside", "Franklin", "Greenville", "Bristol",
		"Clinton", "Fairview", "Salem", "Madison", "Georgetown",
	}

	states = []string{"CA", "TX", "NY", "FL", "IL", "PA", "OH", "GA", "NC", "MI"}

	icd10Conditions = []codeEntry{
		{"E11.9", "Type 2 diabetes mellitus without complications"},
		{"I10", "Essential (primary) hypertension"},
		{"J45.909", "Unspecified asthma, uncomplicated"},
		{"E78.5", "Hyperlipidemia, unspecified"},
		{"J06.9", "Acute upper respiratory infection, unspecified"},
		{"F32.9", "Major depressive disorder, single episode, unspecified"},
		{"N39.0", "Urinary tract infection, site not specified"},
		{"E03.9", "Hypothyroidism, unspecified"},
		{"G43.909", "Migraine, unspecified, not intractable"},
		{"E55.9", "Vitamin D deficiency, unspecified"},
	}

	loincObservations = []observationDef{
		{"8867-4", "Heart rate", "beats/minute", 50, 110},
		{"8310-5", "Body temperature", "degC", 36.0, 38.5},
		{"29463-7", "Body weight", "kg", 40, 150},
		{"8302-2", "Body height", "cm", 140, 200},
		{"8480-6", "Systolic blood pressure", "mmHg", 90, 180},
		{"8462-4", "Diastolic blood pressure", "mmHg", 50, 110},
		{"2708-6", "Oxygen saturation", "%", 92, 100},
		{"2339-0", "Glucose [Mass/volume] in Blood", "mg/dL", 60, 250},
		{"4548-4", "Hemoglobin A1c", "%", 4.0, 12.0},
		{"2160-0", "Creatinine [Mass/volume] in Serum", "mg/dL", 0.5, 2.5},
	}

	encounterClasses = []string{"AMB", "EMER", "IMP", "OBSENC"}

	encounterTypes = []codeEntry{
		{"185349003", "Encounter for check up"},
		{"185345009", "Encounter for symptom"},
		{"185347001", "Encounter for problem"},
		{"390906007", "Follow-up encounter"},
	}
)
