// Package api exposes bundle assembly and export parameter construction over
// HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/assembler"
	"github.com/ehr/bulk-measure/internal/exportparams"
	"github.com/ehr/bulk-measure/internal/platform/fhir"
	"github.com/ehr/bulk-measure/internal/platform/ndjson"
	"github.com/ehr/bulk-measure/internal/platform/store"
)

// Options configures a Handler.
type Options struct {
	// Dir is the bulk-export directory patients are read from.
	Dir            string
	AutoType       bool
	AutoTypeFilter bool
	// Sink, when set, receives bundles requested with persist=true.
	Sink store.Sink
}

// Handler serves the compartment map, export parameter construction and
// patient bundles for one export directory.
type Handler struct {
	asm    *assembler.Assembler
	opts   Options
	logger zerolog.Logger
}

// NewHandler returns a Handler that assembles bundles with asm.
func NewHandler(asm *assembler.Assembler, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{asm: asm, opts: opts, logger: logger}
}

// RouteMiddleware holds per-route middleware. Nil members are skipped.
type RouteMiddleware struct {
	BodyLimit echo.MiddlewareFunc
	// RequireRead returns a guard for read access to a resource type.
	RequireRead func(resourceType string) echo.MiddlewareFunc
}

func (rm RouteMiddleware) read(resourceType string) []echo.MiddlewareFunc {
	if rm.RequireRead == nil {
		return nil
	}
	return []echo.MiddlewareFunc{rm.RequireRead(resourceType)}
}

// RegisterRoutes mounts the handlers on g. Patient data routes are guarded by
// rm.RequireRead when it is set; POST bodies are capped by rm.BodyLimit.
func (h *Handler) RegisterRoutes(g *echo.Group, rm RouteMiddleware) {
	g.GET("/health", h.Health)
	g.GET("/compartment", h.GetCompartmentMap)
	g.GET("/compartment/:type", h.GetCompartmentPaths)

	g.GET("/patients", h.ListPatients, rm.read("Patient")...)
	// A bundle spans every compartment type.
	g.GET("/Patient/:id/$bundle", h.GetPatientBundle, rm.read("*")...)

	var post []echo.MiddlewareFunc
	if rm.BodyLimit != nil {
		post = append(post, rm.BodyLimit)
	}
	g.POST("/$export-params", h.ExportParams, post...)
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetCompartmentMap handles GET /compartment.
func (h *Handler) GetCompartmentMap(c echo.Context) error {
	return c.JSON(http.StatusOK, h.asm.Map)
}

// GetCompartmentPaths handles GET /compartment/:type.
func (h *Handler) GetCompartmentPaths(c echo.Context) error {
	rt := c.Param("type")
	if !h.asm.Map.Has(rt) {
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeNotFound,
			rt+" is not in the Patient compartment"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": rt,
		"paths":        h.asm.Map.Paths(rt),
	})
}

// ExportParams handles POST /$export-params. The body is a DataRequirement
// array, a Library, or a Bundle containing one. autoType and autoTypeFilter
// query parameters override the configured defaults.
func (h *Handler) ExportParams(c echo.Context) error {
	autoType, err := boolParam(c, "autoType", h.opts.AutoType)
	if err != nil {
		return err
	}
	autoTypeFilter, err := boolParam(c, "autoTypeFilter", h.opts.AutoTypeFilter)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	reqs, err := exportparams.ParseRequirements(body)
	if err != nil {
		if errors.Is(err, exportparams.ErrNoDataRequirements) || errors.Is(err, exportparams.ErrNoLibrary) {
			return err
		}
		return &fieldError{Field: "body", Message: err.Error()}
	}

	params, err := exportparams.Build(reqs, autoType, autoTypeFilter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, params)
}

func boolParam(c echo.Context, name string, def bool) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &fieldError{Field: name, Message: "must be true or false"}
	}
	return v, nil
}

// ListPatients handles GET /patients.
func (h *Handler) ListPatients(c echo.Context) error {
	src, err := h.asm.LoadSource(c.Request().Context(), h.opts.Dir)
	if err != nil {
		return err
	}
	patients := src.Patients()
	if len(patients) == 0 {
		return ndjson.ErrNoPatientData
	}

	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patients": ids,
		"total":    len(ids),
	})
}

// GetPatientBundle handles GET /Patient/:id/$bundle.
func (h *Handler) GetPatientBundle(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	src, err := h.asm.LoadSource(ctx, h.opts.Dir)
	if err != nil {
		return err
	}
	patient, err := src.Patient(id)
	if err != nil {
		return err
	}
	bundle, err := src.Bundle(patient)
	if err != nil {
		return err
	}

	if h.opts.Sink != nil && c.QueryParam("persist") == "true" {
		if err := h.opts.Sink.Save(ctx, id, bundle); err != nil {
			return err
		}
		h.logger.Info().Str("patient_id", id).Int("entries", len(bundle.Entry)).Msg("bundle persisted")
	}
	return c.JSON(http.StatusOK, bundle)
}
