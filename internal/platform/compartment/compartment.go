// Package compartment holds the Patient compartment membership map: for each
// resource type, the ordered list of reference attributes that may link a
// resource of that type to a Patient.
//
// A Map is built once (from the built-in R4 table, a JSON file, a remote URL
// or a CompartmentDefinition) and is read-only afterwards, so it can be shared
// freely between goroutines.
package compartment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
)

var (
	// ErrUnknownResourceType is returned when a map entry is keyed by a name
	// that is not an R4 resource type.
	ErrUnknownResourceType = errors.New("unknown resource type in compartment map")
	// ErrInvalidPath is returned for empty or malformed attribute paths.
	ErrInvalidPath = errors.New("invalid attribute path in compartment map")
)

// Map is an immutable resource-type -> attribute-paths lookup table.
type Map struct {
	paths map[string][]string
}

// New validates entries and returns a Map owning a private copy of them.
// Paths keep their declared order; duplicate paths are dropped after the
// first occurrence.
func New(entries map[string][]string) (*Map, error) {
	paths := make(map[string][]string, len(entries))

	types := make([]string, 0, len(entries))
	for rt := range entries {
		types = append(types, rt)
	}
	sort.Strings(types)

	for _, rt := range types {
		if !fhir.IsKnownResourceType(rt) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, rt)
		}
		seen := make(map[string]bool, len(entries[rt]))
		list := make([]string, 0, len(entries[rt]))
		for _, p := range entries[rt] {
			if err := validatePath(p); err != nil {
				return nil, fmt.Errorf("%s: %w", rt, err)
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			list = append(list, p)
		}
		paths[rt] = list
	}
	return &Map{paths: paths}, nil
}

func validatePath(p string) error {
	if strings.TrimSpace(p) != p || p == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return nil
}

// Load parses either a JSON object of the form {"ResourceType": ["path", ...]}
// or a Patient CompartmentDefinition resource, which is converted with
// FromDefinition.
func Load(r io.Reader) (*Map, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read compartment map: %w", err)
	}
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode compartment map: %w", err)
	}
	if _, ok := head["resourceType"]; ok {
		def, err := fhir.ParseCompartmentDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("decode compartment definition: %w", err)
		}
		return FromDefinition(def)
	}

	var entries map[string][]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode compartment map: %w", err)
	}
	return New(entries)
}

// FromDefinition derives a Map from a Patient CompartmentDefinition. Each
// linking search parameter name is used as the attribute path, which holds
// for the common patient/subject parameters.
func FromDefinition(def *fhir.CompartmentDefinition) (*Map, error) {
	if def.Code != "Patient" {
		return nil, fmt.Errorf("compartment definition code must be Patient, got %q", def.Code)
	}
	entries := make(map[string][]string, len(def.Resource))
	for _, res := range def.Resource {
		if len(res.Param) == 0 {
			continue
		}
		entries[res.Code] = append(entries[res.Code], res.Param...)
	}
	return New(entries)
}

// Paths returns a copy of the ordered attribute paths for resourceType, or
// nil if the type has no entry.
func (m *Map) Paths(resourceType string) []string {
	p, ok := m.paths[resourceType]
	if !ok {
		return nil
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Has reports whether resourceType has an entry (possibly empty).
func (m *Map) Has(resourceType string) bool {
	_, ok := m.paths[resourceType]
	return ok
}

// FirstReference returns the first attribute of resource, in declared map
// order, that carries a reference object. ok is false when the type is not
// in the map or no attribute holds a reference.
func (m *Map) FirstReference(resourceType string, resource fhir.Resource) (path string, ref fhir.Reference, ok bool) {
	for _, p := range m.paths[resourceType] {
		if r, found := resource.Reference(p); found {
			return p, r, true
		}
	}
	return "", fhir.Reference{}, false
}

// Types returns every resource type in the map, sorted.
func (m *Map) Types() []string {
	out := make([]string, 0, len(m.paths))
	for rt := range m.paths {
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of resource types in the map.
func (m *Map) Len() int {
	return len(m.paths)
}

// MarshalJSON renders the map in the same shape Load accepts.
func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.paths)
}
