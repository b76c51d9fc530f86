// Package synth writes synthetic bulk export directories: NDJSON files per
// resource type plus the export log a bulk client leaves next to them. The
// output is deterministic for a given seed, which makes it usable as a test
// fixture and as demo data for the bundle and report commands.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
	"github.com/ehr/bulk-measure/internal/report"
)

// Config controls the size and shape of a generated export.
type Config struct {
	Patients                 int
	EncountersPerPatient     int
	ObservationsPerEncounter int
	ConditionsPerPatient     int
	Practitioners            int
	// PartSize splits a resource type into "<n>.<Type>.ndjson" parts of at
	// most PartSize lines. Zero writes one "<Type>.ndjson" per type.
	PartSize int
	// Seed of 0 picks a time-based seed.
	Seed        int64
	BaseURL     string
	LogFileName string
}

// DefaultConfig is a small export suitable for local runs.
func DefaultConfig() Config {
	return Config{
		Patients:                 10,
		EncountersPerPatient:     3,
		ObservationsPerEncounter: 2,
		ConditionsPerPatient:     2,
		Practitioners:            3,
		BaseURL:                  "http://localhost/fhir",
		LogFileName:              "log.ndjson",
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Patients < 1 {
		errs = append(errs, errors.New("patients must be at least 1"))
	}
	if c.EncountersPerPatient < 0 || c.ObservationsPerEncounter < 0 || c.ConditionsPerPatient < 0 || c.Practitioners < 0 {
		errs = append(errs, errors.New("resource counts must not be negative"))
	}
	if c.PartSize < 0 {
		errs = append(errs, errors.New("part size must not be negative"))
	}
	return errors.Join(errs...)
}

// File is one NDJSON file written by Write.
type File struct {
	Name         string
	ResourceType string
	Resources    int
	Bytes        int64
}

// Result describes a generated export.
type Result struct {
	ExportID  string
	Dir       string
	Files     []File
	Patients  int
	Resources int
	Bytes     int64
}

// Generator produces synthetic FHIR resources from a seeded source.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded for reproducibility. If seed is 0
// a time-based seed is chosen.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) newID() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// math/rand readers never fail
		panic(err)
	}
	return id.String()
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) pickCode(pool []codeEntry) codeEntry {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func (g *Generator) randomInstant(minYear, maxYear int) string {
	return fmt.Sprintf("%sT%02d:%02d:00Z", g.randomDate(minYear, maxYear), 7+g.rng.Intn(11), g.rng.Intn(60))
}

func codeable(system string, c codeEntry) map[string]interface{} {
	return map[string]interface{}{
		"coding": []interface{}{
			map[string]interface{}{"system": system, "code": c.Code, "display": c.Display},
		},
		"text": c.Display,
	}
}

func reference(resourceType, id string) map[string]interface{} {
	return map[string]interface{}{"reference": resourceType + "/" + id}
}

// Patient produces a Patient resource.
func (g *Generator) Patient() fhir.Resource {
	gender, given := "female", g.pick(firstNamesFemale)
	if g.rng.Intn(2) == 0 {
		gender, given = "male", g.pick(firstNamesMale)
	}
	return fhir.Resource{
		"resourceType": "Patient",
		"id":           g.newID(),
		"active":       true,
		"identifier": []interface{}{
			map[string]interface{}{
				"system": "http://hospital.example/mrn",
				"value":  fmt.Sprintf("MRN-%08d", g.rng.Intn(100000000)),
			},
		},
		"name": []interface{}{
			map[string]interface{}{
				"use":    "official",
				"family": g.pick(lastNames),
				"given":  []interface{}{given},
			},
		},
		"gender":    gender,
		"birthDate": g.randomDate(1940, 2010),
		"address": []interface{}{
			map[string]interface{}{
				"use":   "home",
				"city":  g.pick(cities),
				"state": g.pick(states),
			},
		},
	}
}

// Practitioner produces a Practitioner resource.
func (g *Generator) Practitioner() fhir.Resource {
	return fhir.Resource{
		"resourceType": "Practitioner",
		"id":           g.newID(),
		"active":       true,
		"identifier": []interface{}{
			map[string]interface{}{
				"system": "http://hl7.org/fhir/sid/us-npi",
				"value":  fmt.Sprintf("%010d", 1000000000+g.rng.Intn(900000000)),
			},
		},
		"name": []interface{}{
			map[string]interface{}{
				"family": g.pick(lastNames),
				"given":  []interface{}{g.pick(firstNamesFemale)},
				"prefix": []interface{}{"Dr."},
			},
		},
	}
}

// Encounter produces a finished Encounter for the patient. practitionerID
// may be empty.
func (g *Generator) Encounter(patientID, practitionerID string) fhir.Resource {
	start := g.randomInstant(2015, 2024)
	r := fhir.Resource{
		"resourceType": "Encounter",
		"id":           g.newID(),
		"status":       "finished",
		"class": map[string]interface{}{
			"system": "http://terminology.hl7.org/CodeSystem/v3-ActCode",
			"code":   g.pick(encounterClasses),
		},
		"type":    []interface{}{codeable("http://snomed.info/sct", g.pickCode(encounterTypes))},
		"subject": reference("Patient", patientID),
		"period":  map[string]interface{}{"start": start, "end": start},
	}
	if practitionerID != "" {
		r["participant"] = []interface{}{
			map[string]interface{}{"individual": reference("Practitioner", practitionerID)},
		}
	}
	return r
}

// Observation produces a final vital sign or lab Observation recorded during
// the encounter.
func (g *Generator) Observation(patientID, encounterID string) fhir.Resource {
	def := loincObservations[g.rng.Intn(len(loincObservations))]
	value := def.Low + g.rng.Float64()*(def.High-def.Low)
	return fhir.Resource{
		"resourceType":      "Observation",
		"id":                g.newID(),
		"status":            "final",
		"code":              codeable("http://loinc.org", codeEntry{def.Code, def.Display}),
		"subject":           reference("Patient", patientID),
		"encounter":         reference("Encounter", encounterID),
		"effectiveDateTime": g.randomInstant(2015, 2024),
		"valueQuantity": map[string]interface{}{
			"value":  float64(int(value*10)) / 10,
			"unit":   def.Unit,
			"system": "http://unitsofmeasure.org",
		},
	}
}

// Condition produces a Condition with an ICD-10 code.
func (g *Generator) Condition(patientID string) fhir.Resource {
	status := "active"
	if g.rng.Intn(4) == 0 {
		status = "resolved"
	}
	return fhir.Resource{
		"resourceType": "Condition",
		"id":           g.newID(),
		"clinicalStatus": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system": "http://terminology.hl7.org/CodeSystem/condition-clinical",
					"code":   status,
				},
			},
		},
		"code":          codeable("http://hl7.org/fhir/sid/icd-10-cm", g.pickCode(icd10Conditions)),
		"subject":       reference("Patient", patientID),
		"onsetDateTime": g.randomInstant(2000, 2024),
	}
}

// Resources generates every resource for cfg grouped by type. Types appear in
// the order Patient, Practitioner, Encounter, Observation, Condition.
func (g *Generator) Resources(cfg Config) ([]string, map[string][]fhir.Resource) {
	byType := make(map[string][]fhir.Resource)
	order := []string{"Patient", "Practitioner", "Encounter", "Observation", "Condition"}

	var practitioners []string
	for i := 0; i < cfg.Practitioners; i++ {
		p := g.Practitioner()
		practitioners = append(practitioners, p.ID())
		byType["Practitioner"] = append(byType["Practitioner"], p)
	}

	for i := 0; i < cfg.Patients; i++ {
		patient := g.Patient()
		pid := patient.ID()
		byType["Patient"] = append(byType["Patient"], patient)

		for e := 0; e < cfg.EncountersPerPatient; e++ {
			var prac string
			if len(practitioners) > 0 {
				prac = g.pick(practitioners)
			}
			enc := g.Encounter(pid, prac)
			byType["Encounter"] = append(byType["Encounter"], enc)
			for o := 0; o < cfg.ObservationsPerEncounter; o++ {
				byType["Observation"] = append(byType["Observation"], g.Observation(pid, enc.ID()))
			}
		}
		for c := 0; c < cfg.ConditionsPerPatient; c++ {
			byType["Condition"] = append(byType["Condition"], g.Condition(pid))
		}
	}

	var types []string
	for _, t := range order {
		if len(byType[t]) > 0 {
			types = append(types, t)
		}
	}
	return types, byType
}

// Write generates an export into dir and records it in the export log.
func Write(ctx context.Context, dir string, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.LogFileName == "" {
		cfg.LogFileName = "log.ndjson"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	start := time.Now()
	g := NewGenerator(cfg.Seed)
	res := &Result{ExportID: g.newID(), Dir: dir, Patients: cfg.Patients}

	logFile, err := os.OpenFile(filepath.Join(dir, cfg.LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open export log: %w", err)
	}
	defer logFile.Close()
	events := newEventLog(logFile, res.ExportID)

	events.kickoff(cfg.BaseURL + "/Patient/$export")

	types, byType := g.Resources(cfg)
	for _, rt := range types {
		for i, part := range split(byType[rt], cfg.PartSize) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name := rt + ".ndjson"
			if cfg.PartSize > 0 {
				name = fmt.Sprintf("%d.%s.ndjson", i+1, rt)
			}
			f, err := writeFile(filepath.Join(dir, name), part)
			if err != nil {
				return nil, err
			}
			f.ResourceType = rt
			res.Files = append(res.Files, f)
			res.Resources += f.Resources
			res.Bytes += f.Bytes
			events.downloadComplete(cfg.BaseURL+"/files/"+name, f)
		}
	}

	events.exportComplete(res, time.Since(start))
	return res, nil
}

func split(resources []fhir.Resource, size int) [][]fhir.Resource {
	if size <= 0 || len(resources) <= size {
		return [][]fhir.Resource{resources}
	}
	var parts [][]fhir.Resource
	for len(resources) > size {
		parts = append(parts, resources[:size])
		resources = resources[size:]
	}
	return append(parts, resources)
}

type countingWriter struct {
	f *os.File
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

func writeFile(path string, resources []fhir.Resource) (File, error) {
	f, err := os.Create(path)
	if err != nil {
		return File{}, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := &countingWriter{f: f}
	w := fhir.NewNDJSONWriter(cw)
	for _, r := range resources {
		if err := w.WriteResource(r); err != nil {
			return File{}, fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return File{}, fmt.Errorf("flush %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Resources: w.Count(), Bytes: cw.n}, nil
}

// eventLog writes export log events in the shape bulk export clients use:
// {"level","exportId","eventId","timestamp","eventDetail"}.
type eventLog struct {
	logger zerolog.Logger
}

func newEventLog(f *os.File, exportID string) *eventLog {
	return &eventLog{
		logger: zerolog.New(f).With().Str("exportId", exportID).Logger(),
	}
}

func (l *eventLog) emit(eventID string, detail interface{}) {
	data, err := json.Marshal(detail)
	if err != nil {
		data = []byte("{}")
	}
	l.logger.Info().
		Str("eventId", eventID).
		Str("timestamp", time.Now().UTC().Format(time.RFC3339Nano)).
		RawJSON("eventDetail", data).
		Send()
}

func (l *eventLog) kickoff(exportURL string) {
	l.emit(report.EventKickoff, map[string]interface{}{
		"exportUrl":       exportURL,
		"errorCode":       nil,
		"softwareName":    "bulk-measure synth",
		"softwareVersion": "1",
		"fhirVersion":     "4.0.1",
	})
}

func (l *eventLog) downloadComplete(fileURL string, f File) {
	l.emit(report.EventDownloadComplete, map[string]interface{}{
		"fileUrl":       fileURL,
		"fileSize":      fmt.Sprint(f.Bytes),
		"resourceCount": f.Resources,
	})
}

func (l *eventLog) exportComplete(res *Result, elapsed time.Duration) {
	l.emit(report.EventExportComplete, map[string]interface{}{
		"files":       len(res.Files),
		"resources":   res.Resources,
		"bytes":       res.Bytes,
		"attachments": 0,
		"duration":    elapsed.Milliseconds(),
	})
}
