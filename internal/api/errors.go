package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/assembler"
	"github.com/ehr/bulk-measure/internal/exportparams"
	"github.com/ehr/bulk-measure/internal/platform/fhir"
	"github.com/ehr/bulk-measure/internal/platform/ndjson"
)

// fieldError rejects a single request input, a query parameter or the body.
type fieldError struct {
	Field   string
	Message string
}

func (e *fieldError) Error() string { return e.Field + ": " + e.Message }

// outcomeFor maps a domain error to an HTTP status and OperationOutcome.
func outcomeFor(err error) (int, *fhir.OperationOutcome) {
	var fe *fieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest, fhir.ValidationOutcome(fe.Field, fe.Message)
	case errors.Is(err, exportparams.ErrInvalidDateRange):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeValue, err.Error())
	case errors.Is(err, exportparams.ErrNoDataRequirements), errors.Is(err, exportparams.ErrNoLibrary):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, err.Error())
	case errors.Is(err, assembler.ErrPatientNotFound):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, ndjson.ErrNoPatientData):
		return http.StatusUnprocessableEntity, fhir.BusinessRuleOutcome(err.Error())
	}
	return http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error())
}

// ErrorHandler renders every error returned by a handler or middleware as an
// OperationOutcome. Domain errors are mapped by kind; echo.HTTPError keeps its
// status code.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status  int
			outcome *fhir.OperationOutcome
		)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			outcome = httpErrorOutcome(he)
		} else {
			status, outcome = outcomeFor(err)
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, outcome)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func httpErrorOutcome(he *echo.HTTPError) *fhir.OperationOutcome {
	msg, ok := he.Message.(string)
	if !ok {
		msg = http.StatusText(he.Code)
	}
	switch he.Code {
	case http.StatusUnauthorized:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeLogin, msg)
	case http.StatusForbidden:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeSecurity, msg)
	case http.StatusNotFound:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, msg)
	case http.StatusMethodNotAllowed:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, msg)
	case http.StatusTooManyRequests:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeThrottled, msg)
	case http.StatusGatewayTimeout:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTimeout, msg)
	case http.StatusRequestEntityTooLarge:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTooCostly, msg)
	}
	if he.Code >= http.StatusInternalServerError {
		return fhir.InternalErrorOutcome(msg)
	}
	return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, msg)
}
