// Package locator holds the per-visitor state of the station locator and the
// operations that move it between states.
package locator

import (
	"errors"
	"time"

	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/stations"
)

// Sentinel errors for locator operations.
var (
	// ErrSessionNotFound indicates the session does not exist or has expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStationNotFound indicates a selection named a station outside the current collection.
	ErrStationNotFound = errors.New("station not in current results")
	// ErrStaleGeneration indicates a result arrived for a request that has been superseded.
	ErrStaleGeneration = errors.New("request superseded by a newer one")
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLocating Status = "locating"
	StatusFetching Status = "fetching"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// ErrorKind classifies the last failure shown to the visitor.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindLocationUnavailable ErrorKind = "LOCATION_UNAVAILABLE"
	ErrorKindInvalidInput        ErrorKind = "INVALID_INPUT"
	ErrorKindNotFound            ErrorKind = "NOT_FOUND"
	ErrorKindServiceError        ErrorKind = "SERVICE_ERROR"
)

// Messages shown to the visitor.
const (
	MessageLocationUnavailable = "Unable to retrieve your location. Please try entering your zip code."
	MessageEmptyPostalCode     = "Please enter a zip code."
	MessageInvalidPostalCode   = "Invalid zip code. Please try again."
	MessageGeocodingFailed     = "Error processing zip code. Please try again."
	MessageStationsFailed      = "Error loading charging stations. Please try again."
)

// SelectionSource is where a selection originated.
type SelectionSource string

const (
	SourceMap  SelectionSource = "map"
	SourceList SelectionSource = "list"
)

// Session is the state of one locator widget.
type Session struct {
	ID             string              `json:"id"`
	Status         Status              `json:"status"`
	UserCoordinate *geo.Coordinate     `json:"userCoordinate,omitempty"`
	ZipInput       string              `json:"zipInput"`
	Stations       stations.Collection `json:"stations"`
	SelectedID     string              `json:"selectedStationId,omitempty"`
	Loading        bool                `json:"loading"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
	ErrorKind      ErrorKind           `json:"errorKind,omitempty"`
	Map            *MapView            `json:"map,omitempty"`
	Generation     uint64              `json:"generation"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// NewSession returns an idle session with a freshly mounted map.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Status:    StatusIdle,
		Stations:  stations.Collection{},
		Map:       NewMapView(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Begin starts a new locate request and returns its generation.
func (s *Session) Begin() uint64 {
	s.Generation++
	s.Status = StatusLocating
	s.Loading = true
	s.ErrorMessage = ""
	s.ErrorKind = ErrorKindNone
	return s.Generation
}

// Located records the resolved coordinate for request gen and recentres the map.
func (s *Session) Located(gen uint64, c geo.Coordinate) error {
	if gen != s.Generation {
		return ErrStaleGeneration
	}
	s.UserCoordinate = &c
	s.Status = StatusFetching
	if s.Map != nil {
		s.Map.CenterOn(c)
	}
	return nil
}

// Loaded replaces the station collection with the result of request gen.
func (s *Session) Loaded(gen uint64, coll stations.Collection) error {
	if gen != s.Generation {
		return ErrStaleGeneration
	}
	if coll == nil {
		coll = stations.Collection{}
	}
	s.Stations = coll
	s.SelectedID = ""
	if s.Map != nil {
		s.Map.Render(coll)
	}
	s.Status = StatusReady
	s.Loading = false
	return nil
}

// Fail ends request gen with an error. The current stations are kept.
func (s *Session) Fail(gen uint64, kind ErrorKind, message string) error {
	if gen != s.Generation {
		return ErrStaleGeneration
	}
	s.Status = StatusError
	s.Loading = false
	s.ErrorKind = kind
	s.ErrorMessage = message
	return nil
}

// Reject reports invalid input without starting a request.
// A request already in flight keeps running.
func (s *Session) Reject(kind ErrorKind, message string) {
	s.ErrorKind = kind
	s.ErrorMessage = message
	if !s.Loading {
		s.Status = StatusError
	}
}

// Select toggles the selected station.
func (s *Session) Select(stationID string) error {
	if stationID != "" && stationID == s.SelectedID {
		s.SelectedID = ""
	} else {
		if _, ok := s.Stations.Find(stationID); !ok {
			return ErrStationNotFound
		}
		s.SelectedID = stationID
	}
	if s.Map != nil {
		s.Map.Highlight(s.SelectedID)
	}
	return nil
}

// Selected returns the selected station, if any.
func (s *Session) Selected() (stations.Station, bool) {
	if s.SelectedID == "" {
		return stations.Station{}, false
	}
	return s.Stations.Find(s.SelectedID)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cpy := *s
	if s.UserCoordinate != nil {
		c := *s.UserCoordinate
		cpy.UserCoordinate = &c
	}
	cpy.Stations = make(stations.Collection, len(s.Stations))
	for i, st := range s.Stations {
		st.ConnectorTypes = append([]string{}, st.ConnectorTypes...)
		if st.DistanceMiles != nil {
			d := *st.DistanceMiles
			st.DistanceMiles = &d
		}
		if st.PowerKW != nil {
			p := *st.PowerKW
			st.PowerKW = &p
		}
		cpy.Stations[i] = st
	}
	if s.Map != nil {
		m := *s.Map
		m.Markers = append([]Marker{}, s.Map.Markers...)
		if s.Map.Viewport.Bounds != nil {
			b := *s.Map.Viewport.Bounds
			m.Viewport.Bounds = &b
		}
		cpy.Map = &m
	}
	return &cpy
}
