// Package resilience wraps calls to the geocoder and station directory with
// timeouts, retries and a circuit breaker, and tracks provider health.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when a provider's circuit opens.
type BreakerConfig struct {
	// HalfOpenProbes is how many requests may pass while half-open.
	HalfOpenProbes uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration

	// MinRequests and FailureRatio decide when a closed circuit trips.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig trips at a 50% failure rate over at least five requests
// and probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		HalfOpenProbes: 1,
		OpenTimeout:    time.Minute,
		MinRequests:    5,
		FailureRatio:   0.5,
	}
}

// ShouldTrip reports whether counts warrant opening the circuit.
func (b BreakerConfig) ShouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests == 0 || counts.Requests < b.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureRatio
}

// countsAsSuccess keeps caller cancellations out of the failure counts. A
// visitor who starts a new search abandons the old one, which says nothing
// about provider health.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func newBreaker[T any](name string, cfg BreakerConfig, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.HalfOpenProbes,
		Interval:      cfg.Interval,
		Timeout:       cfg.OpenTimeout,
		ReadyToTrip:   cfg.ShouldTrip,
		IsSuccessful:  countsAsSuccess,
		OnStateChange: onChange,
	})
}
