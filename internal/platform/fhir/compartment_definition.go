package fhir

import (
	"encoding/json"
	"fmt"
)

// CompartmentDefinition represents the FHIR CompartmentDefinition resource.
// It describes which resource types belong to a compartment and which
// search parameters link them to the compartment subject.
type CompartmentDefinition struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id,omitempty"`
	URL          string                `json:"url"`
	Name         string                `json:"name"`
	Status       string                `json:"status"`
	Code         string                `json:"code"` // Patient, Encounter, Practitioner, RelatedPerson, Device
	Search       bool                  `json:"search"`
	Resource     []CompartmentResource `json:"resource,omitempty"`
}

// CompartmentResource describes a single resource type's membership in a compartment.
type CompartmentResource struct {
	Code  string   `json:"code"`            // Resource type (e.g. "Observation")
	Param []string `json:"param,omitempty"` // Search parameters linking to compartment
}

// ParseCompartmentDefinition decodes a CompartmentDefinition resource.
func ParseCompartmentDefinition(data []byte) (*CompartmentDefinition, error) {
	var def CompartmentDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if def.ResourceType != "CompartmentDefinition" {
		return nil, fmt.Errorf("expected resourceType CompartmentDefinition, got %q", def.ResourceType)
	}
	return &def, nil
}
