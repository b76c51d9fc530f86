package fhir

import (
	"encoding/json"
	"testing"
)

const patientCompartment = `{
	"resourceType": "CompartmentDefinition",
	"id": "patient",
	"url": "http://hl7.org/fhir/CompartmentDefinition/patient",
	"name": "Base FHIR compartment definition for Patient",
	"status": "draft",
	"code": "Patient",
	"search": true,
	"resource": [
		{"code": "Encounter", "param": ["patient"]},
		{"code": "Observation", "param": ["subject", "performer"]},
		{"code": "Organization"}
	]
}`

func TestParseCompartmentDefinition(t *testing.T) {
	def, err := ParseCompartmentDefinition([]byte(patientCompartment))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Code != "Patient" || !def.Search || def.ID != "patient" {
		t.Errorf("unexpected header %+v", def)
	}
	if len(def.Resource) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(def.Resource))
	}
	if got := def.Resource[1].Param; len(got) != 2 || got[0] != "subject" || got[1] != "performer" {
		t.Errorf("expected declared param order, got %v", got)
	}
	if len(def.Resource[2].Param) != 0 {
		t.Errorf("expected no params for a non-member, got %v", def.Resource[2].Param)
	}
}

func TestParseCompartmentDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong type", `{"resourceType":"Bundle"}`},
		{"missing type", `{"code":"Patient"}`},
		{"invalid json", `{"resourceType":`},
		{"resource not an array", `{"resourceType":"CompartmentDefinition","resource":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCompartmentDefinition([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCompartmentDefinition_JSONFields(t *testing.T) {
	def := CompartmentDefinition{
		ResourceType: "CompartmentDefinition",
		Code:         "Encounter",
		Search:       true,
		Resource:     []CompartmentResource{{Code: "Organization"}},
	}
	data, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["code"] != "Encounter" || raw["search"] != true {
		t.Errorf("unexpected fields %v", raw)
	}
	if _, ok := raw["id"]; ok {
		t.Error("expected empty id to be omitted")
	}
	res := raw["resource"].([]interface{})[0].(map[string]interface{})
	if _, ok := res["param"]; ok {
		t.Error("expected empty param to be omitted")
	}
}
