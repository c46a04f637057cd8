package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/api/response"
	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/geocoding"
)

// Resolver is the lookup API of geocoding.Service.
type Resolver interface {
	ResolveFromPostalCode(ctx context.Context, code string) (geo.Coordinate, error)
	ReverseLookup(ctx context.Context, c geo.Coordinate) (geocoding.Place, error)
	ProviderName() string
}

// GeocodeHandler handles stateless geocoding endpoints.
type GeocodeHandler struct {
	resolver Resolver
	logger   zerolog.Logger
}

// NewGeocodeHandler creates a new GeocodeHandler.
func NewGeocodeHandler(resolver Resolver, logger zerolog.Logger) *GeocodeHandler {
	return &GeocodeHandler{resolver: resolver, logger: logger}
}

// PostalCode handles GET /v1/geocode/postal-codes/{code}.
func (h *GeocodeHandler) PostalCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	c, err := h.resolver.ResolveFromPostalCode(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err, "Please enter a zip code.")
		return
	}

	response.JSON(w, r, http.StatusOK, models.GeocodeResponse{
		PostalCode: code,
		Coordinate: toPoint(c),
		Provider:   h.resolver.ProviderName(),
	})
}

// Reverse handles GET /v1/geocode/reverse?lat=&lon=.
func (h *GeocodeHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	c, fieldErrs := coordinateFromQuery(r)
	if fieldErrs != nil {
		response.BadRequest(w, r, "Invalid coordinates", fieldErrs)
		return
	}

	place, err := h.resolver.ReverseLookup(r.Context(), c)
	if err != nil {
		h.writeError(w, r, err, "Invalid coordinates")
		return
	}

	response.JSON(w, r, http.StatusOK, models.PlaceResponse{
		Coordinate:  toPoint(place.Coordinate),
		Label:       place.Label,
		DisplayName: place.DisplayName,
	})
}

func (h *GeocodeHandler) writeError(w http.ResponseWriter, r *http.Request, err error, invalidDetail string) {
	switch {
	case errors.Is(err, geocoding.ErrInvalidInput), errors.Is(err, geo.ErrInvalidCoordinates):
		response.BadRequest(w, r, invalidDetail, nil)
	case errors.Is(err, geocoding.ErrNotFound):
		response.NotFound(w, r, "Invalid zip code. Please try again.")
	case errors.Is(err, geocoding.ErrRateLimitExceeded):
		response.ServiceUnavailable(w, r, "Geocoding is temporarily unavailable")
	default:
		h.logger.Warn().Err(err).Msg("geocoding failed")
		response.BadGateway(w, r, "Error processing zip code. Please try again.")
	}
}
