// Package worker keeps the station cache warm for busy metro areas.
package worker

import (
	"sort"
	"time"

	"github.com/clrevo/clrevo/internal/geo"
)

// WarmTarget is a metro area whose station results are kept cached.
type WarmTarget struct {
	Name string

	// Points are search centres inside the area.
	Points []geo.Coordinate

	// Priority orders warm-up, lower first.
	Priority int
}

// WarmConfig holds configuration for the cache warm-up job.
type WarmConfig struct {
	// Targets are the areas to warm. If empty, uses DefaultWarmTargets.
	Targets []WarmTarget

	// Concurrency bounds the number of points refreshed at once.
	// Default: 4
	Concurrency int

	// Timeout bounds each point refresh.
	// Default: 20 seconds
	Timeout time.Duration
}

// DefaultWarmConfig returns the default warm-up configuration.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		Targets:     DefaultWarmTargets(),
		Concurrency: 4,
		Timeout:     20 * time.Second,
	}
}

// DefaultWarmTargets covers the Bay Area, where the map opens, and the largest US EV markets.
func DefaultWarmTargets() []WarmTarget {
	return []WarmTarget{
		{
			Name:     "San Francisco",
			Priority: 1,
			Points: []geo.Coordinate{
				{Lat: 37.7749, Lon: -122.4194}, // Civic Center
				{Lat: 37.7599, Lon: -122.4148}, // Mission
				{Lat: 37.7793, Lon: -122.3893}, // SoMa
			},
		},
		{
			Name:     "East Bay",
			Priority: 1,
			Points: []geo.Coordinate{
				{Lat: 37.8044, Lon: -122.2712}, // Oakland
				{Lat: 37.8715, Lon: -122.2730}, // Berkeley
				{Lat: 37.5485, Lon: -121.9886}, // Fremont
			},
		},
		{
			Name:     "South Bay",
			Priority: 1,
			Points: []geo.Coordinate{
				{Lat: 37.3382, Lon: -121.8863}, // San Jose
				{Lat: 37.3861, Lon: -122.0839}, // Mountain View
				{Lat: 37.4419, Lon: -122.1430}, // Palo Alto
			},
		},
		{
			Name:     "Los Angeles",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 34.0522, Lon: -118.2437}, // Downtown
				{Lat: 34.0195, Lon: -118.4912}, // Santa Monica
				{Lat: 34.1808, Lon: -118.3090}, // Burbank
			},
		},
		{
			Name:     "Seattle",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 47.6062, Lon: -122.3321}, // Downtown
				{Lat: 47.6101, Lon: -122.2015}, // Bellevue
			},
		},
		{
			Name:     "New York",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 40.7128, Lon: -74.0060}, // Lower Manhattan
				{Lat: 40.6782, Lon: -73.9442}, // Brooklyn
			},
		},
		{
			Name:     "Austin",
			Priority: 3,
			Points: []geo.Coordinate{
				{Lat: 30.2672, Lon: -97.7431},
			},
		},
		{
			Name:     "Denver",
			Priority: 3,
			Points: []geo.Coordinate{
				{Lat: 39.7392, Lon: -104.9903},
			},
		},
	}
}

// AllPoints returns every point, higher-priority targets first.
func (c WarmConfig) AllPoints() []geo.Coordinate {
	targets := append([]WarmTarget(nil), c.Targets...)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority < targets[j].Priority
	})

	points := make([]geo.Coordinate, 0, c.TotalPoints())
	for _, target := range targets {
		points = append(points, target.Points...)
	}
	return points
}

// TotalPoints returns the total number of points to warm.
func (c WarmConfig) TotalPoints() int {
	total := 0
	for _, target := range c.Targets {
		total += len(target.Points)
	}
	return total
}
