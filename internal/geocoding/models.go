// Package geocoding resolves user input (a device fix or a postal code) into coordinates.
package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clrevo/clrevo/internal/geo"
)

// Sentinel errors for geocoding operations.
var (
	// ErrLocationUnavailable indicates the device could not or would not provide a usable position.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrInvalidInput indicates an empty or whitespace-only postal code.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the geocoder returned no match.
	ErrNotFound = errors.New("no geocoding match")
	// ErrServiceError indicates a transport or parse failure talking to the geocoder.
	ErrServiceError = errors.New("geocoding service error")
	// ErrRateLimitExceeded indicates the geocoder rejected the request for rate limiting.
	// It is also a service error.
	ErrRateLimitExceeded = fmt.Errorf("%w: rate limit exceeded", ErrServiceError)
)

// FallbackLabel is shown when no place name can be determined for a coordinate.
const FallbackLabel = "PLANET EARTH"

// Provider defines the interface for geocoding providers.
type Provider interface {
	// Search looks up a postal code and returns at most one match.
	Search(ctx context.Context, postalCode string) ([]Match, error)
	// Reverse returns address details for a coordinate.
	Reverse(ctx context.Context, c geo.Coordinate) (*Address, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Match is a single forward geocoding result.
type Match struct {
	Coordinate  geo.Coordinate
	DisplayName string
}

// Address holds the reverse geocoding fields used to build a place label.
type Address struct {
	City        string
	Town        string
	Village     string
	County      string
	State       string
	DisplayName string
}

// Label picks the most specific available name for the address.
func (a *Address) Label() string {
	if a == nil {
		return FallbackLabel
	}
	for _, name := range []string{a.City, a.Town, a.Village, a.County} {
		if name != "" {
			return name
		}
	}
	if first, _, _ := strings.Cut(a.DisplayName, ","); first != "" {
		return first
	}
	return FallbackLabel
}

// Place is the result of a reverse lookup.
type Place struct {
	Coordinate  geo.Coordinate `json:"coordinate"`
	Label       string         `json:"label"`
	DisplayName string         `json:"displayName,omitempty"`
}

// DeviceOptions are the options the browser must pass to the platform location prompt.
type DeviceOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// DefaultDeviceOptions requests a high-accuracy fix within 10s, accepting fixes up to 60s old.
func DefaultDeviceOptions() DeviceOptions {
	return DeviceOptions{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaximumAge:   60 * time.Second,
	}
}

// DeviceError is the platform error reported alongside a device fix.
type DeviceError string

const (
	DeviceErrorNone                DeviceError = ""
	DeviceErrorPermissionDenied    DeviceError = "PERMISSION_DENIED"
	DeviceErrorPositionUnavailable DeviceError = "POSITION_UNAVAILABLE"
	DeviceErrorTimeout             DeviceError = "TIMEOUT"
	DeviceErrorUnsupported         DeviceError = "UNSUPPORTED"
)

// DeviceFix is what the browser reports after running the location prompt.
type DeviceFix struct {
	Coordinate     *geo.Coordinate
	AccuracyMeters float64
	Timestamp      *time.Time
	Error          DeviceError
}

// Error provides detailed error information from geocoding.
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
	return errors.Is(e.Err, ErrServiceError)
}
