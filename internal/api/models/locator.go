package models

import "github.com/clrevo/clrevo/internal/stations"

// DeviceOptions are the options the browser must pass to the geolocation prompt.
type DeviceOptions struct {
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	TimeoutMs          int64 `json:"timeoutMs"`
	MaximumAgeMs       int64 `json:"maximumAgeMs"`
	Disabled           bool  `json:"disabled"`
}

// MapDefaults describes the initial map framing.
type MapDefaults struct {
	FallbackCenter Point   `json:"fallbackCenter"`
	FallbackZoom   int     `json:"fallbackZoom"`
	RecenterZoom   int     `json:"recenterZoom"`
	FitPadding     float64 `json:"fitPadding"`
}

// LocatorConfig is returned by GET /v1/locator/config.
type LocatorConfig struct {
	Device       DeviceOptions `json:"device"`
	Map          MapDefaults   `json:"map"`
	RadiusMiles  float64       `json:"radiusMiles"`
	MaxResults   int           `json:"maxResults"`
	CountryCodes string        `json:"countryCodes,omitempty"`
}

// DeviceLocateRequest carries the outcome of the browser geolocation prompt.
// Either Coordinate or Error is set.
type DeviceLocateRequest struct {
	Coordinate     *Point     `json:"coordinate,omitempty"`
	AccuracyMeters float64    `json:"accuracyMeters,omitempty"`
	Timestamp      *Timestamp `json:"timestamp,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// PostalCodeLocateRequest is the body of POST .../locate/postal-code.
type PostalCodeLocateRequest struct {
	PostalCode string `json:"postalCode"`
}

// SelectionRequest is the body of POST .../selection.
type SelectionRequest struct {
	StationID string `json:"stationId"`
	Source    string `json:"source,omitempty"`
}

// StationsResponse is returned by GET /v1/stations.
type StationsResponse struct {
	Center      Point               `json:"center"`
	RadiusMiles float64             `json:"radiusMiles"`
	Count       int                 `json:"count"`
	Stations    stations.Collection `json:"stations"`
}

// GeocodeResponse is returned by GET /v1/geocode/postal-codes/{code}.
type GeocodeResponse struct {
	PostalCode string `json:"postalCode"`
	Coordinate Point  `json:"coordinate"`
	Provider   string `json:"provider"`
}

// PlaceResponse is returned by GET /v1/geocode/reverse.
type PlaceResponse struct {
	Coordinate  Point  `json:"coordinate"`
	Label       string `json:"label"`
	DisplayName string `json:"displayName,omitempty"`
}
