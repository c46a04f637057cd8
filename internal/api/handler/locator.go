package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/api/response"
	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/geocoding"
	"github.com/clrevo/clrevo/internal/locator"
)

// SessionLocator is the session API of locator.Locator.
type SessionLocator interface {
	Mount(ctx context.Context) (*locator.Session, error)
	Get(ctx context.Context, id string) (*locator.Session, error)
	Unmount(ctx context.Context, id string) error
	LocateFromDevice(ctx context.Context, id string, fix geocoding.DeviceFix) (*locator.Session, error)
	LocateFromPostalCode(ctx context.Context, id, code string) (*locator.Session, error)
	Select(ctx context.Context, id, stationID string, source locator.SelectionSource) (*locator.Session, error)
}

// DeviceFlags reports whether device location is switched off.
type DeviceFlags interface {
	IsDeviceLocationDisabled(ctx context.Context) bool
}

// LocatorConfig holds the dependencies of LocatorHandler.
type LocatorConfig struct {
	Locator       SessionLocator
	DeviceOptions geocoding.DeviceOptions
	RadiusMiles   float64
	MaxResults    int
	CountryCodes  string
	Flags         DeviceFlags
	Logger        zerolog.Logger
}

// LocatorHandler handles locator session endpoints.
type LocatorHandler struct {
	cfg LocatorConfig
}

// NewLocatorHandler creates a new LocatorHandler.
func NewLocatorHandler(cfg LocatorConfig) *LocatorHandler {
	return &LocatorHandler{cfg: cfg}
}

// Config handles GET /v1/locator/config.
func (h *LocatorHandler) Config(w http.ResponseWriter, r *http.Request) {
	opts := h.cfg.DeviceOptions
	disabled := h.cfg.Flags != nil && h.cfg.Flags.IsDeviceLocationDisabled(r.Context())

	response.JSON(w, r, http.StatusOK, models.LocatorConfig{
		Device: models.DeviceOptions{
			EnableHighAccuracy: opts.HighAccuracy,
			TimeoutMs:          opts.Timeout.Milliseconds(),
			MaximumAgeMs:       opts.MaximumAge.Milliseconds(),
			Disabled:           disabled,
		},
		Map: models.MapDefaults{
			FallbackCenter: toPoint(locator.FallbackCenter),
			FallbackZoom:   locator.FallbackZoom,
			RecenterZoom:   locator.RecenterZoom,
			FitPadding:     locator.FitPadding,
		},
		RadiusMiles:  h.cfg.RadiusMiles,
		MaxResults:   h.cfg.MaxResults,
		CountryCodes: h.cfg.CountryCodes,
	})
}

// Mount handles POST /v1/sessions.
func (h *LocatorHandler) Mount(w http.ResponseWriter, r *http.Request) {
	s, err := h.cfg.Locator.Mount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, r, "/v1/sessions/"+s.ID, s)
}

// Get handles GET /v1/sessions/{sessionId}.
func (h *LocatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.cfg.Locator.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, s)
}

// Unmount handles DELETE /v1/sessions/{sessionId}.
func (h *LocatorHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Locator.Unmount(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// LocateDevice handles POST /v1/sessions/{sessionId}/locate/device.
// Location failures are reported in the returned session, not as an HTTP error.
func (h *LocatorHandler) LocateDevice(w http.ResponseWriter, r *http.Request) {
	var req models.DeviceLocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if req.Coordinate == nil && req.Error == "" {
		response.BadRequest(w, r, "Either coordinate or error is required", []models.FieldError{
			{Field: "coordinate", Message: "is required when error is empty", Code: models.CodeRequired},
		})
		return
	}

	fix := geocoding.DeviceFix{
		AccuracyMeters: req.AccuracyMeters,
		Error:          geocoding.DeviceError(strings.ToUpper(req.Error)),
	}
	if req.Coordinate != nil {
		fix.Coordinate = &geo.Coordinate{Lat: req.Coordinate.Lat, Lon: req.Coordinate.Lon}
	}
	if req.Timestamp != nil {
		ts := req.Timestamp.Time()
		fix.Timestamp = &ts
	}

	s, err := h.cfg.Locator.LocateFromDevice(r.Context(), chi.URLParam(r, "sessionId"), fix)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, s)
}

// LocatePostalCode handles POST /v1/sessions/{sessionId}/locate/postal-code.
func (h *LocatorHandler) LocatePostalCode(w http.ResponseWriter, r *http.Request) {
	var req models.PostalCodeLocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	s, err := h.cfg.Locator.LocateFromPostalCode(r.Context(), chi.URLParam(r, "sessionId"), req.PostalCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, s)
}

// Select handles POST /v1/sessions/{sessionId}/selection.
func (h *LocatorHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req models.SelectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	var fieldErrs []models.FieldError
	if strings.TrimSpace(req.StationID) == "" {
		fieldErrs = append(fieldErrs, models.Required("stationId"))
	}
	source := locator.SelectionSource(req.Source)
	switch source {
	case "":
		source = locator.SourceList
	case locator.SourceMap, locator.SourceList:
	default:
		fieldErrs = append(fieldErrs, models.Invalid("source", "must be map or list"))
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "Invalid selection", fieldErrs)
		return
	}

	s, err := h.cfg.Locator.Select(r.Context(), chi.URLParam(r, "sessionId"), req.StationID, source)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, s)
}

func (h *LocatorHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, locator.ErrSessionNotFound):
		response.NotFound(w, r, "Session not found or expired")
	case errors.Is(err, locator.ErrStationNotFound):
		response.NotFound(w, r, "Station is not in the current results")
	default:
		h.cfg.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("locator request failed")
		response.InternalError(w, r, "Failed to update session")
	}
}
