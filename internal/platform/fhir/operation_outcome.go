package fhir

import "fmt"

// OperationOutcome severity levels (FHIR R4 IssueSeverity).
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes used by this service.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeNotSupported = "not-supported"
	IssueTypeBusinessRule = "business-rule"
	IssueTypeException    = "exception"
	IssueTypeTooCostly    = "too-costly"
	IssueTypeLogin        = "login"
	IssueTypeThrottled    = "throttled"
	IssueTypeTimeout      = "timeout"
)

// ValidationOutcome creates an OperationOutcome for a rejected input field.
func ValidationOutcome(field, message string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    IssueSeverityError,
				Code:        IssueTypeInvalid,
				Diagnostics: fmt.Sprintf("%s: %s", field, message),
				Expression:  []string{field},
			},
		},
	}
}

// BusinessRuleOutcome reports input that is well-formed but cannot be
// processed, such as a directory without any patient data.
func BusinessRuleOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeBusinessRule, diagnostics)
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}
