package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	handler := func(c echo.Context) error {
		seen, _ = c.Get(RequestIDKey).(string)
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get(RequestIDKey).(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	RequestID()(handler)(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", 200))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	RequestID()(func(c echo.Context) error { return nil })(c)

	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a fresh UUID, got %q", got)
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		handler   echo.HandlerFunc
		wantLevel string
		wantCode  float64
	}{
		{
			name:      "ok",
			handler:   func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantLevel: "info",
			wantCode:  200,
		},
		{
			name:      "client error",
			handler:   func(c echo.Context) error { return c.String(http.StatusNotFound, "missing") },
			wantLevel: "warn",
			wantCode:  404,
		},
		{
			name:      "server error",
			handler:   func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError, "boom") },
			wantLevel: "error",
			wantCode:  500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/patients", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.Set(RequestIDKey, "req-1")

			Logger(logger)(tt.handler)(c)

			var line map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("expected level %s, got %v", tt.wantLevel, line["level"])
			}
			if line["status"] != tt.wantCode {
				t.Errorf("expected status %v, got %v", tt.wantCode, line["status"])
			}
			if line["request_id"] != "req-1" || line["path"] != "/patients" {
				t.Errorf("unexpected fields %v", line)
			}
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	if err := Recovery(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"resourceType":"OperationOutcome"`) {
		t.Errorf("expected OperationOutcome body, got %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	sentinel := errors.New("handler error")
	err := Recovery(zerolog.Nop())(func(c echo.Context) error { return sentinel })(c)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}
}
