package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/geo"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a JSON request body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// coordinateFromQuery parses the lat and lon query parameters.
func coordinateFromQuery(r *http.Request) (geo.Coordinate, []models.FieldError) {
	var errs []models.FieldError
	lat, latErr := floatParam(r, "lat")
	if latErr != nil {
		errs = append(errs, *latErr)
	}
	lon, lonErr := floatParam(r, "lon")
	if lonErr != nil {
		errs = append(errs, *lonErr)
	}
	if len(errs) > 0 {
		return geo.Coordinate{}, errs
	}

	c := geo.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, []models.FieldError{models.OutOfRange("lat,lon", err.Error())}
	}
	return c, nil
}

func floatParam(r *http.Request, name string) (float64, *models.FieldError) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		fe := models.Required(name)
		return 0, &fe
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fe := models.Invalid(name, "must be a number")
		return 0, &fe
	}
	return v, nil
}

func toPoint(c geo.Coordinate) models.Point {
	return models.Point{Lat: c.Lat, Lon: c.Lon}
}
