package fhir

import (
	"encoding/json"
	"testing"
)

func TestOutcomeConstructors(t *testing.T) {
	tests := []struct {
		name         string
		oo           *OperationOutcome
		wantSeverity string
		wantCode     string
		wantDiag     string
	}{
		{"new", NewOperationOutcome(IssueSeverityWarning, IssueTypeValue, "odd"), IssueSeverityWarning, IssueTypeValue, "odd"},
		{"error", ErrorOutcome("boom"), IssueSeverityError, IssueTypeProcessing, "boom"},
		{"not found", NotFoundOutcome("Patient", "p1"), IssueSeverityError, IssueTypeNotFound, "Patient/p1 not found"},
		{"business rule", BusinessRuleOutcome("no patients"), IssueSeverityError, IssueTypeBusinessRule, "no patients"},
		{"internal", InternalErrorOutcome("db down"), IssueSeverityFatal, IssueTypeException, "db down"},
		{"validation", ValidationOutcome("autoType", "must be true or false"), IssueSeverityError, IssueTypeInvalid, "autoType: must be true or false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.oo.ResourceType != "OperationOutcome" {
				t.Errorf("resourceType = %q", tt.oo.ResourceType)
			}
			if len(tt.oo.Issue) != 1 {
				t.Fatalf("expected 1 issue, got %d", len(tt.oo.Issue))
			}
			issue := tt.oo.Issue[0]
			if issue.Severity != tt.wantSeverity || issue.Code != tt.wantCode || issue.Diagnostics != tt.wantDiag {
				t.Errorf("got %s/%s/%q, want %s/%s/%q",
					issue.Severity, issue.Code, issue.Diagnostics,
					tt.wantSeverity, tt.wantCode, tt.wantDiag)
			}
		})
	}
}

func TestValidationOutcome_Expression(t *testing.T) {
	oo := ValidationOutcome("body", "invalid")
	if len(oo.Issue[0].Expression) != 1 || oo.Issue[0].Expression[0] != "body" {
		t.Errorf("expected expression [body], got %v", oo.Issue[0].Expression)
	}
}

func TestOperationOutcome_JSON(t *testing.T) {
	data, err := json.Marshal(NotFoundOutcome("Patient", "p1"))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	issue := m["issue"].([]interface{})[0].(map[string]interface{})
	if _, ok := issue["details"]; ok {
		t.Error("expected empty details to be omitted")
	}
	if _, ok := issue["expression"]; ok {
		t.Error("expected empty expression to be omitted")
	}
	if issue["code"] != "not-found" {
		t.Errorf("unexpected code %v", issue["code"])
	}
}
