package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/api/response"
	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/stations"
)

// StationDirectory is the lookup API of stations.Service.
type StationDirectory interface {
	FetchStations(ctx context.Context, center geo.Coordinate) (stations.Collection, error)
	RadiusMiles() float64
}

// StationsHandler handles stateless station lookups.
type StationsHandler struct {
	directory StationDirectory
	logger    zerolog.Logger
}

// NewStationsHandler creates a new StationsHandler.
func NewStationsHandler(directory StationDirectory, logger zerolog.Logger) *StationsHandler {
	return &StationsHandler{directory: directory, logger: logger}
}

// List handles GET /v1/stations?lat=&lon=.
func (h *StationsHandler) List(w http.ResponseWriter, r *http.Request) {
	center, fieldErrs := coordinateFromQuery(r)
	if fieldErrs != nil {
		response.BadRequest(w, r, "Invalid coordinates", fieldErrs)
		return
	}

	coll, err := h.directory.FetchStations(r.Context(), center)
	if err != nil {
		switch {
		case errors.Is(err, stations.ErrInvalidCoordinates):
			response.BadRequest(w, r, err.Error(), nil)
		case errors.Is(err, stations.ErrCacheMiss), errors.Is(err, stations.ErrRateLimitExceeded):
			response.ServiceUnavailable(w, r, "Station directory is temporarily unavailable")
		default:
			h.logger.Warn().Err(err).Msg("station lookup failed")
			response.BadGateway(w, r, "Error loading charging stations")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, models.StationsResponse{
		Center:      toPoint(center),
		RadiusMiles: h.directory.RadiusMiles(),
		Count:       len(coll),
		Stations:    coll,
	})
}
