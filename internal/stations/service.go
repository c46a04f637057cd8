package stations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clrevo/clrevo/internal/geo"
)

// FlagSource reports runtime feature flags relevant to station lookups.
type FlagSource interface {
	IsCachedOnlyStations(ctx context.Context) bool
	StationResultLimit(ctx context.Context, fallback int) int
}

// MetricsRecorder records provider call and cache metrics.
type MetricsRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// ServiceConfig holds configuration for the station service.
type ServiceConfig struct {
	// Provider is the station directory.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// Flags enables cache-only mode and result limits (optional).
	Flags FlagSource

	// Metrics records provider calls (optional).
	Metrics MetricsRecorder

	// RadiusMiles is the search radius (default: 15).
	RadiusMiles float64

	// MaxResults is the maximum number of stations requested (default: 50).
	MaxResults int

	// CountryCode restricts results to one country (default: US).
	CountryCode string

	// CacheTTL is how long to cache directory results (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.01 ~ 1.1km).
	// Centers within the same grid cell share cached directory results.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// CleanupInterval is how often to clean up expired entries (default: 5 minutes).
	CleanupInterval time.Duration

	// FetchTimeout bounds a shared provider fetch (default: 30 seconds).
	// The fetch outlives the caller that started it so other waiters still get a result.
	FetchTimeout time.Duration
}

// Service provides charging station lookups with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	flags           FlagSource
	metrics         MetricsRecorder
	radiusMiles     float64
	maxResults      int
	countryCode     string
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration
	fetchTimeout    time.Duration

	group       singleflight.Group
	mu          sync.RWMutex
	cache       map[string]*cachedStations
	lastCleanup time.Time
}

type cachedStations struct {
	stations  []Station
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new station service.
func NewService(cfg ServiceConfig) *Service {
	radius := cfg.RadiusMiles
	if radius == 0 {
		radius = DefaultRadiusMiles
	}

	maxResults := cfg.MaxResults
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}

	countryCode := cfg.CountryCode
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.01 // ~1.1km at equator
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 15 * time.Minute
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 30 * time.Second
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		flags:           cfg.Flags,
		metrics:         cfg.Metrics,
		radiusMiles:     radius,
		maxResults:      maxResults,
		countryCode:     countryCode,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		cleanupInterval: cleanupInterval,
		fetchTimeout:    fetchTimeout,
		cache:           make(map[string]*cachedStations),
	}
}

// RadiusMiles returns the configured search radius.
func (s *Service) RadiusMiles() float64 {
	return s.radiusMiles
}

// MaxResults returns the configured maximum result count.
func (s *Service) MaxResults() int {
	return s.maxResults
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// FetchStations returns stations around center, nearest first, with distances attached.
// A failure never returns a partial collection.
func (s *Service) FetchStations(ctx context.Context, center geo.Coordinate) (Collection, error) {
	if err := center.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_CENTER",
			Message:  err.Error(),
			Err:      ErrInvalidCoordinates,
		}
	}

	raw, err := s.lookup(ctx, center)
	if err != nil {
		return nil, err
	}

	collection := WithDistances(raw, center)

	if s.flags != nil {
		if limit := s.flags.StationResultLimit(ctx, s.maxResults); limit < len(collection) {
			collection = collection[:limit]
		}
	}

	return collection, nil
}

// Refresh fetches stations around center from the provider and replaces the cached entry,
// regardless of freshness. It returns the number of stations cached.
func (s *Service) Refresh(ctx context.Context, center geo.Coordinate) (int, error) {
	if err := center.Validate(); err != nil {
		return 0, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_CENTER",
			Message:  err.Error(),
			Err:      ErrInvalidCoordinates,
		}
	}

	key := s.cacheKey(center)
	raw, err := s.fetch(ctx, center, key)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

func (s *Service) lookup(ctx context.Context, center geo.Coordinate) ([]Station, error) {
	key := s.cacheKey(center)

	// Check cache (read lock)
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	if ok && time.Now().Before(cached.expiresAt) {
		s.recordCacheHit()
		s.logger.Debug().
			Str("cache_key", key).
			Msg("cache hit for stations")
		return cached.stations, nil
	}
	s.recordCacheMiss()

	if s.flags != nil && s.flags.IsCachedOnlyStations(ctx) {
		if ok && time.Now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Debug().
				Str("cache_key", key).
				Msg("cache-only mode, serving stale stations")
			return cached.stations, nil
		}
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "CACHE_ONLY",
			Message:  "station lookups are restricted to cached data",
			Err:      ErrCacheMiss,
		}
	}

	// Collapse concurrent misses for the same cell into one provider call.
	// The shared call is detached from ctx; each waiter gives up on its own.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// Double-check cache (another caller may have just filled it)
		s.mu.RLock()
		if c, ok := s.cache[key]; ok && time.Now().Before(c.expiresAt) {
			s.mu.RUnlock()
			return c.stations, nil
		}
		s.mu.RUnlock()

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, center, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Station), nil
	}
}

// fetch calls the provider and updates the cache, serving stale data on failure.
func (s *Service) fetch(ctx context.Context, center geo.Coordinate, key string) ([]Station, error) {
	s.logger.Debug().
		Float64("lat", center.Lat).
		Float64("lon", center.Lon).
		Str("provider", s.provider.Name()).
		Msg("fetching stations from provider")

	start := time.Now()
	raw, err := s.provider.Nearby(ctx, Query{
		Center:      center,
		RadiusMiles: s.radiusMiles,
		MaxResults:  s.maxResults,
		CountryCode: s.countryCode,
	})
	s.recordRequest(time.Since(start), err)

	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", center.Lat).
			Float64("lon", center.Lon).
			Msg("failed to fetch stations")

		// Check for stale data (stale-if-error pattern)
		s.mu.RLock()
		cached, ok := s.cache[key]
		s.mu.RUnlock()
		if ok && time.Now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", cached.fetchedAt).
				Str("cache_key", key).
				Msg("serving stale stations due to provider error")
			return cached.stations, nil
		}

		return nil, asServiceError(s.provider.Name(), err)
	}

	now := time.Now()
	s.mu.Lock()
	s.cache[key] = &cachedStations{
		stations:  raw,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}
	s.cleanupIfNeeded(now)
	s.mu.Unlock()

	s.logger.Debug().
		Str("cache_key", key).
		Int("station_count", len(raw)).
		Msg("cached stations response")

	return raw, nil
}

// cacheKey generates a cache key for a search center.
// Uses grid-based quantization so nearby centers share directory results.
func (s *Service) cacheKey(center geo.Coordinate) string {
	gridLat := math.Floor(center.Lat/s.cacheGridSize) * s.cacheGridSize
	gridLon := math.Floor(center.Lon/s.cacheGridSize) * s.cacheGridSize
	return fmt.Sprintf("%.2f,%.2f", gridLat, gridLon)
}

// cleanupIfNeeded removes entries past the stale window. Caller must hold s.mu.
func (s *Service) cleanupIfNeeded(now time.Time) {
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}

	s.lastCleanup = now
	expired := 0

	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired station cache entries")
	}
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	fresh := 0
	stale := 0

	for _, c := range s.cache {
		if now.Before(c.expiresAt) {
			fresh++
		} else if now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			stale++
		}
	}

	return CacheStats{
		TotalEntries: len(s.cache),
		FreshEntries: fresh,
		StaleEntries: stale,
		Provider:     s.provider.Name(),
	}
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int    `json:"totalEntries"`
	FreshEntries int    `json:"freshEntries"`
	StaleEntries int    `json:"staleEntries"`
	Provider     string `json:"provider"`
}

func asServiceError(provider string, err error) error {
	if errors.Is(err, ErrServiceError) {
		return err
	}
	return &Error{
		Provider: provider,
		Code:     "REQUEST_FAILED",
		Message:  err.Error(),
		Err:      ErrServiceError,
	}
}

func (s *Service) recordRequest(d time.Duration, err error) {
	if s.metrics != nil {
		s.metrics.RecordRequest(s.provider.Name(), "nearby", d, err)
	}
}

func (s *Service) recordCacheHit() {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(s.provider.Name(), "nearby")
	}
}

func (s *Service) recordCacheMiss() {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(s.provider.Name(), "nearby")
	}
}
