// Package stations looks up EV charging stations near a coordinate.
package stations

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/clrevo/clrevo/internal/geo"
)

// Search defaults.
const (
	DefaultRadiusMiles = 15
	DefaultMaxResults  = 50
	DefaultCountryCode = "US"
	DefaultStationName = "Charging Station"
	DefaultNetworkName = "Unknown Network"
)

// Sentinel errors for station lookups.
var (
	// ErrServiceError indicates a transport, status or decode failure from the directory.
	ErrServiceError = errors.New("station directory error")
	// ErrRateLimitExceeded indicates the directory rejected the request for rate limiting.
	// It is also a service error.
	ErrRateLimitExceeded = fmt.Errorf("%w: rate limit exceeded", ErrServiceError)
	// ErrCacheMiss indicates cache-only mode found nothing cached for the area.
	// It is also a service error.
	ErrCacheMiss = fmt.Errorf("%w: no cached stations for area", ErrServiceError)
	// ErrInvalidCoordinates indicates the search center is out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Status is the availability of a station.
type Status string

const (
	StatusAvailable Status = "available"
	// StatusOccupied is part of the model but the current directory never reports occupancy.
	StatusOccupied  Status = "occupied"
	StatusUnknown   Status = "unknown"
)

// Station is a normalized charging station record.
type Station struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Coordinate     geo.Coordinate `json:"coordinate"`
	Address        string         `json:"address"`
	ConnectorTypes []string       `json:"connectorTypes"`
	Status         Status         `json:"status"`
	DistanceMiles  *float64       `json:"distanceMiles,omitempty"`
	PowerKW        *float64       `json:"powerKW,omitempty"`
	Network        string         `json:"network"`
}

// Collection is an ordered set of stations, nearest first.
type Collection []Station

// Find returns the station with the given id.
func (c Collection) Find(id string) (Station, bool) {
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return Station{}, false
}

// Coordinates returns the coordinate of every station in order.
func (c Collection) Coordinates() []geo.Coordinate {
	coords := make([]geo.Coordinate, len(c))
	for i, s := range c {
		coords[i] = s.Coordinate
	}
	return coords
}

// WithDistances returns a copy of stations with DistanceMiles computed from center,
// stable-sorted ascending so ties keep provider order.
func WithDistances(stations []Station, center geo.Coordinate) Collection {
	out := make(Collection, len(stations))
	for i, s := range stations {
		d := geo.DistanceMiles(center, s.Coordinate)
		s.DistanceMiles = &d
		if s.ConnectorTypes == nil {
			s.ConnectorTypes = []string{}
		}
		out[i] = s
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].DistanceMiles < *out[j].DistanceMiles
	})
	return out
}

// Query describes a nearby search against a directory provider.
type Query struct {
	Center      geo.Coordinate
	RadiusMiles float64
	MaxResults  int
	CountryCode string
}

// Provider defines the interface for charging station directories.
type Provider interface {
	// Nearby returns normalized stations around the query center in provider order.
	// DistanceMiles is left unset.
	Nearby(ctx context.Context, q Query) ([]Station, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Error provides detailed error information from the station directory.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrServiceError) && !errors.Is(e.Err, ErrCacheMiss)
}
