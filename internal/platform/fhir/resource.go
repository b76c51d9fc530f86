package fhir

import (
	"bytes"
	"encoding/json"
	"io"
	"fmt"
	"strings"
)

// Resource is a FHIR resource as decoded from JSON. The pipeline treats
// resources as opaque records: only resourceType, id and reference fields are
// ever inspected.
type Resource map[string]interface{}

// ParseResource decodes a single JSON object into a Resource. Numbers are
// kept as json.Number so decimals such as 7.50 and integers beyond float64
// precision are written back exactly as read.
func ParseResource(data []byte) (Resource, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var r Resource
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("resource is not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after resource")
	}
	return r, nil
}

// ResourceType returns the resourceType discriminator, or "" when absent.
func (r Resource) ResourceType() string {
	rt, _ := r["resourceType"].(string)
	return rt
}

// ID returns the logical id, or "" when absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Reference returns the reference object stored at path. Path segments are
// separated by dots and only traverse JSON objects. ok is false when any
// segment is missing or the final value is not an object carrying a string
// "reference" member.
func (r Resource) Reference(path string) (Reference, bool) {
	var cur interface{} = map[string]interface{}(r)
	for _, seg := range strings.Split(path, ".") {
		obj, isObj := cur.(map[string]interface{})
		if !isObj {
			return Reference{}, false
		}
		cur, isObj = obj[seg]
		if !isObj {
			return Reference{}, false
		}
	}
	obj, isObj := cur.(map[string]interface{})
	if !isObj {
		return Reference{}, false
	}
	ref, isStr := obj["reference"].(string)
	if !isStr {
		return Reference{}, false
	}
	typ, _ := obj["type"].(string)
	display, _ := obj["display"].(string)
	return Reference{Reference: ref, Type: typ, Display: display}, true
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// PatientReference returns the literal reference form used to link a
// resource to a patient.
func PatientReference(patientID string) string {
	return "Patient/" + patientID
}

// OperationOutcome is the FHIR error/information payload.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}
