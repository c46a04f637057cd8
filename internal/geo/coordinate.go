// Package geo provides coordinate types and great-circle distance helpers.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinates indicates a latitude or longitude outside its valid range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Coordinate represents a geographic point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinate is finite and within valid ranges.
func (c Coordinate) Validate() error {
	if !finite(c.Lat) || !finite(c.Lon) {
		return fmt.Errorf("coordinate (%v, %v) is not finite: %w", c.Lat, c.Lon, ErrInvalidCoordinates)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]: %w", c.Lat, ErrInvalidCoordinates)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]: %w", c.Lon, ErrInvalidCoordinates)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// BoundsOf returns the smallest bounds containing all coordinates.
// The second return value is false when coords is empty.
func BoundsOf(coords []Coordinate) (Bounds, bool) {
	if len(coords) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		MinLat: coords[0].Lat,
		MinLon: coords[0].Lon,
		MaxLat: coords[0].Lat,
		MaxLon: coords[0].Lon,
	}
	for _, c := range coords[1:] {
		b = b.Extend(c)
	}
	return b, true
}

// Extend returns bounds grown to include c.
func (b Bounds) Extend(c Coordinate) Bounds {
	if c.Lat < b.MinLat {
		b.MinLat = c.Lat
	}
	if c.Lat > b.MaxLat {
		b.MaxLat = c.Lat
	}
	if c.Lon < b.MinLon {
		b.MinLon = c.Lon
	}
	if c.Lon > b.MaxLon {
		b.MaxLon = c.Lon
	}
	return b
}

// Pad grows each side by ratio times the span in that axis.
func (b Bounds) Pad(ratio float64) Bounds {
	latPad := (b.MaxLat - b.MinLat) * ratio
	lonPad := (b.MaxLon - b.MinLon) * ratio
	return Bounds{
		MinLat: b.MinLat - latPad,
		MinLon: b.MinLon - lonPad,
		MaxLat: b.MaxLat + latPad,
		MaxLon: b.MaxLon + lonPad,
	}
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() Coordinate {
	return Coordinate{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lon: (b.MinLon + b.MaxLon) / 2,
	}
}
