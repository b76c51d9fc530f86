package fhir

import "testing"

func TestParseLibrary_DataRequirements(t *testing.T) {
	data := []byte(`{
		"resourceType": "Library",
		"id": "effective-data-requirements",
		"status": "draft",
		"dataRequirement": [
			{"type": "Encounter", "codeFilter": [{"path": "type", "valueSet": "http://example.org/vs"}]},
			{"type": "Observation", "dateFilter": [{"path": "effective", "valueDuration": {"value": 10.5, "comparator": ">=", "system": "http://unitsofmeasure.org", "code": "d"}}]}
		]
	}`)

	lib, err := ParseLibrary(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lib.DataRequirement) != 2 {
		t.Fatalf("expected 2 data requirements, got %d", len(lib.DataRequirement))
	}
	if lib.DataRequirement[0].CodeFilter[0].ValueSet != "http://example.org/vs" {
		t.Errorf("unexpected valueSet %q", lib.DataRequirement[0].CodeFilter[0].ValueSet)
	}
	d := lib.DataRequirement[1].DateFilter[0].ValueDuration
	if d == nil || d.Value == nil {
		t.Fatal("expected valueDuration with a value")
	}
	if d.Value.String() != "10.5" {
		t.Errorf("expected value 10.5 to be kept verbatim, got %s", d.Value.String())
	}
	if d.Comparator != ">=" {
		t.Errorf("expected comparator >=, got %q", d.Comparator)
	}
}

func TestParseLibrary_WrongType(t *testing.T) {
	if _, err := ParseLibrary([]byte(`{"resourceType":"Measure"}`)); err == nil {
		t.Error("expected error for non-Library resource")
	}
	if _, err := ParseLibrary([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
