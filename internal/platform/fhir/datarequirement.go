package fhir

import (
	"encoding/json"
	"fmt"
)

// DataRequirement describes the data a measure needs evaluated: a resource
// type plus optional code and date constraints.
type DataRequirement struct {
	Type        string                      `json:"type"`
	Profile     []string                    `json:"profile,omitempty"`
	MustSupport []string                    `json:"mustSupport,omitempty"`
	CodeFilter  []DataRequirementCodeFilter `json:"codeFilter,omitempty"`
	DateFilter  []DataRequirementDateFilter `json:"dateFilter,omitempty"`
}

// DataRequirementCodeFilter constrains a coded element either by a value
// set canonical or by an explicit list of codes.
type DataRequirementCodeFilter struct {
	Path        string   `json:"path,omitempty"`
	SearchParam string   `json:"searchParam,omitempty"`
	ValueSet    string   `json:"valueSet,omitempty"`
	Code        []Coding `json:"code,omitempty"`
}

// DataRequirementDateFilter constrains a date element. At most one of the
// value[x] members is expected to be set.
type DataRequirementDateFilter struct {
	Path          string    `json:"path,omitempty"`
	SearchParam   string    `json:"searchParam,omitempty"`
	ValueDateTime string    `json:"valueDateTime,omitempty"`
	ValuePeriod   *Period   `json:"valuePeriod,omitempty"`
	ValueDuration *Duration `json:"valueDuration,omitempty"`
}

// Period keeps its bounds as the original FHIR dateTime strings so that
// query values are emitted exactly as received.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Duration is a FHIR Quantity constrained to time units.
type Duration struct {
	Value      *json.Number `json:"value,omitempty"`
	Comparator string       `json:"comparator,omitempty"`
	Unit       string       `json:"unit,omitempty"`
	System     string       `json:"system,omitempty"`
	Code       string       `json:"code,omitempty"`
}

// Library is the subset of the FHIR Library resource that carries the
// effective data requirements of a measure.
type Library struct {
	ResourceType    string            `json:"resourceType"`
	ID              string            `json:"id,omitempty"`
	URL             string            `json:"url,omitempty"`
	Status          string            `json:"status,omitempty"`
	Type            *CodeableConcept  `json:"type,omitempty"`
	DataRequirement []DataRequirement `json:"dataRequirement,omitempty"`
}

// ParseLibrary decodes a Library resource.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := json.Unmarshal(data, &lib); err != nil {
		return nil, err
	}
	if lib.ResourceType != "Library" {
		return nil, fmt.Errorf("expected resourceType Library, got %q", lib.ResourceType)
	}
	return &lib, nil
}
