package geocoding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/cache"
	"github.com/clrevo/clrevo/internal/geo"
)

// DeviceProvider names the device as the origin of a location error.
const DeviceProvider = "device"

// FlagSource reports runtime feature flags relevant to geocoding.
type FlagSource interface {
	IsDeviceLocationDisabled(ctx context.Context) bool
}

// MetricsRecorder records provider call and cache metrics.
type MetricsRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// ServiceConfig holds configuration for the geocoding service.
type ServiceConfig struct {
	// Provider is the geocoding provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// Flags gates device location (optional).
	Flags FlagSource

	// Metrics records provider calls (optional).
	Metrics MetricsRecorder

	// DeviceOptions are published to clients and enforced on device fixes.
	// Zero value uses DefaultDeviceOptions.
	DeviceOptions DeviceOptions

	// CacheTTL is how long postal code lookups are cached (default: 24 hours).
	CacheTTL time.Duration

	// ReverseCacheTTL is how long reverse lookups are cached (default: 1 hour).
	ReverseCacheTTL time.Duration
}

// Service resolves device fixes and postal codes to coordinates.
type Service struct {
	provider      Provider
	logger        zerolog.Logger
	flags         FlagSource
	metrics       MetricsRecorder
	deviceOptions DeviceOptions
	now           func() time.Time

	postalCodes *cache.Cache[geo.Coordinate]
	places      *cache.Cache[Place]
}

// NewService creates a new geocoding service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 24 * time.Hour
	}

	reverseTTL := cfg.ReverseCacheTTL
	if reverseTTL == 0 {
		reverseTTL = time.Hour
	}

	opts := cfg.DeviceOptions
	if opts == (DeviceOptions{}) {
		opts = DefaultDeviceOptions()
	}

	return &Service{
		provider:      cfg.Provider,
		logger:        cfg.Logger,
		flags:         cfg.Flags,
		metrics:       cfg.Metrics,
		deviceOptions: opts,
		now:           time.Now,
		postalCodes:   cache.New[geo.Coordinate](cacheTTL),
		places:        cache.New[Place](reverseTTL),
	}
}

// Close stops background cache maintenance.
func (s *Service) Close() {
	s.postalCodes.Close()
	s.places.Close()
}

// DeviceOptions returns the options clients must use for the platform location prompt.
func (s *Service) DeviceOptions() DeviceOptions {
	return s.deviceOptions
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// ResolveFromDevice validates a fix reported by the browser and returns its coordinate.
// Every failure is reported as ErrLocationUnavailable so the caller can prompt for a postal code.
func (s *Service) ResolveFromDevice(ctx context.Context, fix DeviceFix) (geo.Coordinate, error) {
	if s.flags != nil && s.flags.IsDeviceLocationDisabled(ctx) {
		return geo.Coordinate{}, deviceError("DISABLED", "device location is disabled")
	}

	if fix.Error != DeviceErrorNone {
		return geo.Coordinate{}, deviceError(string(fix.Error), "device reported a location error")
	}

	if fix.Coordinate == nil {
		return geo.Coordinate{}, deviceError(string(DeviceErrorPositionUnavailable), "device fix has no position")
	}

	if err := fix.Coordinate.Validate(); err != nil {
		return geo.Coordinate{}, deviceError("INVALID_POSITION", err.Error())
	}

	if fix.Timestamp != nil {
		age := s.now().Sub(*fix.Timestamp)
		if age > s.deviceOptions.MaximumAge {
			return geo.Coordinate{}, deviceError("STALE_POSITION",
				fmt.Sprintf("device fix is %s old", age.Round(time.Second)))
		}
	}

	return *fix.Coordinate, nil
}

func deviceError(code, message string) error {
	return &Error{
		Provider: DeviceProvider,
		Code:     code,
		Message:  message,
		Err:      ErrLocationUnavailable,
	}
}

// ResolveFromPostalCode geocodes a postal code to a coordinate.
// Blank input fails with ErrInvalidInput before any provider call.
func (s *Service) ResolveFromPostalCode(ctx context.Context, code string) (geo.Coordinate, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return geo.Coordinate{}, &Error{
			Provider: s.provider.Name(),
			Code:     "EMPTY_POSTAL_CODE",
			Message:  "postal code is required",
			Err:      ErrInvalidInput,
		}
	}

	key := strings.ToUpper(code)
	if c, ok := s.postalCodes.Get(key); ok {
		s.recordCacheHit("search")
		s.logger.Debug().Str("postal_code", code).Msg("cache hit for postal code")
		return c, nil
	}
	s.recordCacheMiss("search")

	start := time.Now()
	matches, err := s.provider.Search(ctx, code)
	s.recordRequest("search", time.Since(start), err)
	if err != nil {
		s.logger.Error().Err(err).
			Str("postal_code", code).
			Str("provider", s.provider.Name()).
			Msg("failed to geocode postal code")
		return geo.Coordinate{}, asServiceError(s.provider.Name(), err)
	}

	if len(matches) == 0 {
		return geo.Coordinate{}, &Error{
			Provider: s.provider.Name(),
			Code:     "NO_MATCH",
			Message:  fmt.Sprintf("no match for postal code %q", code),
			Err:      ErrNotFound,
		}
	}

	c := matches[0].Coordinate
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_RESULT",
			Message:  err.Error(),
			Err:      ErrServiceError,
		}
	}

	s.postalCodes.Set(key, c)

	s.logger.Debug().
		Str("postal_code", code).
		Float64("lat", c.Lat).
		Float64("lon", c.Lon).
		Msg("resolved postal code")

	return c, nil
}

// ReverseLookup returns a display label for a coordinate.
// Provider failures degrade to FallbackLabel rather than returning an error.
func (s *Service) ReverseLookup(ctx context.Context, c geo.Coordinate) (Place, error) {
	if err := c.Validate(); err != nil {
		return Place{}, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_COORDINATES",
			Message:  err.Error(),
			Err:      ErrInvalidInput,
		}
	}

	key := reverseKey(c)
	if p, ok := s.places.Get(key); ok {
		s.recordCacheHit("reverse")
		p.Coordinate = c
		return p, nil
	}
	s.recordCacheMiss("reverse")

	start := time.Now()
	addr, err := s.provider.Reverse(ctx, c)
	s.recordRequest("reverse", time.Since(start), err)
	if err != nil {
		s.logger.Warn().Err(err).
			Float64("lat", c.Lat).
			Float64("lon", c.Lon).
			Msg("reverse lookup failed, using fallback label")
		return Place{Coordinate: c, Label: FallbackLabel}, nil
	}

	place := Place{
		Coordinate:  c,
		Label:       addr.Label(),
		DisplayName: addr.DisplayName,
	}
	s.places.Set(key, place)
	return place, nil
}

// reverseKey quantizes to three decimals (~110m) so nearby lookups share a label.
func reverseKey(c geo.Coordinate) string {
	return fmt.Sprintf("%.3f:%.3f", math.Round(c.Lat*1000)/1000, math.Round(c.Lon*1000)/1000)
}

// asServiceError guarantees the returned error matches ErrServiceError unless it is ErrNotFound.
func asServiceError(provider string, err error) error {
	if errors.Is(err, ErrServiceError) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{
		Provider: provider,
		Code:     "REQUEST_FAILED",
		Message:  err.Error(),
		Err:      ErrServiceError,
	}
}

func (s *Service) recordRequest(op string, d time.Duration, err error) {
	if s.metrics != nil {
		s.metrics.RecordRequest(s.provider.Name(), op, d, err)
	}
}

func (s *Service) recordCacheHit(op string) {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(s.provider.Name(), op)
	}
}

func (s *Service) recordCacheMiss(op string) {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(s.provider.Name(), op)
	}
}
