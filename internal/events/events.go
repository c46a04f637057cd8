// Package events publishes locator search events.
package events

import (
	"context"
	"time"

	"github.com/clrevo/clrevo/internal/geo"
)

// DefaultTopic is the Kafka topic search events are written to.
const DefaultTopic = "locator.searches"

// Source identifies how a search was started.
type Source string

const (
	SourceDevice     Source = "device"
	SourcePostalCode Source = "postal_code"
)

// SearchEvent describes one completed locate request.
type SearchEvent struct {
	SessionID    string          `json:"sessionId"`
	Source       Source          `json:"source"`
	PostalCode   string          `json:"postalCode,omitempty"`
	Center       *geo.Coordinate `json:"center,omitempty"`
	StationCount int             `json:"stationCount"`
	Error        string          `json:"error,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// Publisher sends search events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event SearchEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, SearchEvent) error { return nil }

// Close does nothing.
func (NopPublisher) Close() error { return nil }
