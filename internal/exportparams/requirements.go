package exportparams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
)

// ErrNoLibrary is returned for a Bundle without a Library entry.
var ErrNoLibrary = errors.New("bundle does not contain a Library resource")

const moduleDefinition = "module-definition"

// RequirementsFromLibrary returns the data requirements declared by lib.
func RequirementsFromLibrary(lib *fhir.Library) ([]fhir.DataRequirement, error) {
	if lib == nil || lib.DataRequirement == nil {
		return nil, ErrNoDataRequirements
	}
	return lib.DataRequirement, nil
}

// RequirementsFromBundle returns the data requirements of the effective
// data requirements Library in b: the first Library typed
// module-definition, or the first Library when none is typed.
func RequirementsFromBundle(b *fhir.Bundle) ([]fhir.DataRequirement, error) {
	var first *fhir.Library
	for i, e := range b.Entry {
		var head struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(e.Resource, &head); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if head.ResourceType != "Library" {
			continue
		}
		lib, err := fhir.ParseLibrary(e.Resource)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if isModuleDefinition(lib) {
			return RequirementsFromLibrary(lib)
		}
		if first == nil {
			first = lib
		}
	}
	if first == nil {
		return nil, ErrNoLibrary
	}
	return RequirementsFromLibrary(first)
}

func isModuleDefinition(lib *fhir.Library) bool {
	if lib.Type == nil {
		return false
	}
	for _, c := range lib.Type.Coding {
		if c.Code == moduleDefinition {
			return true
		}
	}
	return false
}

// ParseRequirements accepts a JSON array of DataRequirement, a Library or a
// Bundle containing a Library.
func ParseRequirements(data []byte) ([]fhir.DataRequirement, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty data requirements document")
	}

	if trimmed[0] == '[' {
		var reqs []fhir.DataRequirement
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, fmt.Errorf("decode data requirements: %w", err)
		}
		return reqs, nil
	}

	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, fmt.Errorf("decode data requirements: %w", err)
	}
	switch head.ResourceType {
	case "Library":
		lib, err := fhir.ParseLibrary(trimmed)
		if err != nil {
			return nil, err
		}
		return RequirementsFromLibrary(lib)
	case "Bundle":
		b, err := fhir.ParseBundle(trimmed)
		if err != nil {
			return nil, err
		}
		return RequirementsFromBundle(b)
	default:
		return nil, fmt.Errorf("unsupported resourceType %q: expected Library or Bundle", head.ResourceType)
	}
}
