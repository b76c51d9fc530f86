// Package assembler rebuilds per-patient FHIR collection bundles from a
// directory of bulk-export NDJSON files.
//
// Each non-Patient record is linked to at most one patient: the first
// attribute, in compartment map order, that carries a reference object decides
// the link, and only a literal "Patient/<id>" reference matches. A record whose
// primary attribute points elsewhere is not matched through a later attribute.
package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/platform/compartment"
	"github.com/ehr/bulk-measure/internal/platform/fhir"
	"github.com/ehr/bulk-measure/internal/platform/ndjson"
)

var (
	// ErrNotPatient is returned when the resource passed as the bundle subject
	// is not a Patient.
	ErrNotPatient = errors.New("bundle subject is not a Patient resource")
	// ErrPatientNotFound is returned when a patient id is not present in the
	// export directory.
	ErrPatientNotFound = errors.New("patient not found")
)

// ReferencesPatient reports whether resource links to the patient with the
// given id through its first reference-bearing compartment attribute.
// Resource types absent from m never match.
func ReferencesPatient(resource fhir.Resource, resourceType, patientID string, m *compartment.Map) bool {
	ref, ok := linkedReference(resource, resourceType, m)
	return ok && ref == fhir.PatientReference(patientID)
}

func linkedReference(resource fhir.Resource, resourceType string, m *compartment.Map) (string, bool) {
	_, ref, ok := m.FirstReference(resourceType, resource)
	if !ok {
		return "", false
	}
	return ref.Reference, true
}

// Assembler builds patient bundles using a fixed compartment map.
type Assembler struct {
	Map         *compartment.Map
	Logger      zerolog.Logger
	LogFileName string
}

// New returns an Assembler that skips the default export log file.
func New(m *compartment.Map, logger zerolog.Logger) *Assembler {
	return &Assembler{
		Map:         m,
		Logger:      logger,
		LogFileName: ndjson.DefaultLogFileName,
	}
}

// AssemblePatientBundle builds the collection bundle for patient from the
// files in dir. The patient is the first entry, followed by every matching
// record in file name then line order.
func (a *Assembler) AssemblePatientBundle(ctx context.Context, patient fhir.Resource, dir string) (*fhir.Bundle, error) {
	src, err := a.LoadSource(ctx, dir)
	if err != nil {
		return nil, err
	}
	return src.Bundle(patient)
}

// Source is a read-only snapshot of an export directory, indexed by the
// patient reference each record links to. It is safe for concurrent use.
type Source struct {
	dir      string
	patients []fhir.Resource
	linked   map[string][]fhir.Resource
	records  int
}

// LoadSource reads every data file in dir once. Patient records are kept
// aside; every other record is filed under the reference its first
// compartment attribute carries.
func (a *Assembler) LoadSource(ctx context.Context, dir string) (*Source, error) {
	files, err := ndjson.ScanDir(dir, a.logFileName(), a.Logger)
	if err != nil {
		return nil, err
	}

	src := &Source{dir: dir, linked: make(map[string][]fhir.Resource)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileType := f.ResourceType()
		matched := 0
		err := ndjson.Each(f.Path, func(_ int, r fhir.Resource) error {
			src.records++
			rt := r.ResourceType()
			if rt == "" {
				rt = fileType
			}
			if rt == "Patient" {
				if f.RecordType == "Patient" {
					src.patients = append(src.patients, r)
				}
				return nil
			}
			ref, ok := linkedReference(r, rt, a.Map)
			if !ok {
				return nil
			}
			src.linked[ref] = append(src.linked[ref], r)
			matched++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", f.Name, err)
		}
		a.Logger.Debug().
			Str("dir", dir).
			Str("file", f.Name).
			Str("resource_type", fileType).
			Int("linked", matched).
			Msg("scanned export file")
	}
	return src, nil
}

func (a *Assembler) logFileName() string {
	if a.LogFileName == "" {
		return ndjson.DefaultLogFileName
	}
	return a.LogFileName
}

// Patients returns the Patient records found in the directory's patient
// files, in file then line order.
func (s *Source) Patients() []fhir.Resource {
	out := make([]fhir.Resource, len(s.patients))
	copy(out, s.patients)
	return out
}

// Patient returns the Patient record with the given id.
func (s *Source) Patient(id string) (fhir.Resource, error) {
	for _, p := range s.patients {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: Patient/%s in %s", ErrPatientNotFound, id, s.dir)
}

// Records returns the number of records read from the directory.
func (s *Source) Records() int {
	return s.records
}

// Bundle builds the collection bundle for patient. Every entry is an
// independent snapshot, so callers may mutate the patient or the bundle
// without affecting the Source.
func (s *Source) Bundle(patient fhir.Resource) (*fhir.Bundle, error) {
	if patient.ResourceType() != "Patient" {
		return nil, fmt.Errorf("%w: got %q", ErrNotPatient, patient.ResourceType())
	}

	b := fhir.NewCollectionBundle()
	if err := b.AddResource(patient); err != nil {
		return nil, err
	}
	if patient.ID() == "" {
		return b, nil
	}
	for _, r := range s.linked[fhir.PatientReference(patient.ID())] {
		if err := b.AddResource(r); err != nil {
			return nil, err
		}
	}
	return b, nil
}
