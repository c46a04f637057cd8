package featureflags

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = time.Minute

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// CacheTTL is how long a snapshot of the repository is served before it is reloaded.
	CacheTTL time.Duration
}

// Service answers flag reads from a periodically reloaded snapshot. When the
// repository fails, the last snapshot (or the defaults) keep being served.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu       sync.RWMutex
	snapshot map[string]Flag
	loadedAt time.Time
}

// NewService creates a Service. It serves the defaults until the first load succeeds.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		repo:     cfg.Repository,
		logger:   cfg.Logger,
		ttl:      ttl,
		now:      time.Now,
		snapshot: resolve(nil, cfg.Logger),
	}
}

// Get returns the current value of key, or nil for a key without a definition.
func (s *Service) Get(ctx context.Context, key string) *Flag {
	snap := s.current(ctx)
	f, ok := snap[key]
	if !ok {
		return nil
	}
	return &f
}

// List returns every defined flag sorted by key.
func (s *Service) List(ctx context.Context) FlagList {
	snap := s.current(ctx)
	list := FlagList{Items: make([]Flag, 0, len(snap))}
	for _, f := range snap {
		list.Items = append(list.Items, f)
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Key < list.Items[j].Key })
	return list
}

// Set validates and stores values, then drops the snapshot so the next read reloads.
func (s *Service) Set(ctx context.Context, values map[string]any) error {
	now := s.now().UTC()
	flags := make([]*Flag, 0, len(values))
	for key, v := range values {
		d, ok := Lookup(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFlag, key)
		}
		value, err := d.Normalize(v)
		if err != nil {
			return err
		}
		flags = append(flags, &Flag{Key: key, Value: value, UpdatedAt: now})
	}
	if err := s.repo.Put(ctx, flags...); err != nil {
		return fmt.Errorf("store flags: %w", err)
	}
	s.Invalidate()
	return nil
}

// Invalidate forces a reload on the next read.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// IsEnabled reports whether a boolean flag is on. Unknown keys are off.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.Get(ctx, key).Bool(false)
}

func (s *Service) IsDeviceLocationDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableDeviceLocation)
}

func (s *Service) IsCachedOnlyStations(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagCachedOnlyStations)
}

func (s *Service) IsSearchEventsDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableSearchEvents)
}

// StationResultLimit returns the configured cap, or fallback when the flag is not positive.
func (s *Service) StationResultLimit(ctx context.Context, fallback int) int {
	if limit := s.Get(ctx, FlagStationResultLimit).Int(0); limit > 0 {
		return limit
	}
	return fallback
}

func (s *Service) current(ctx context.Context) map[string]Flag {
	s.mu.RLock()
	snap, fresh := s.snapshot, s.now().Sub(s.loadedAt) < s.ttl
	s.mu.RUnlock()
	if fresh {
		return snap
	}

	// Concurrent readers share one reload. A cancelled request must not fail the others.
	v, _, _ := s.group.Do("reload", func() (any, error) {
		return s.reload(context.WithoutCancel(ctx)), nil
	})
	return v.(map[string]Flag)
}

func (s *Service) reload(ctx context.Context) map[string]Flag {
	stored, err := s.repo.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("reload feature flags failed, serving last known values")
		// Retry after a full TTL rather than on every request.
		s.loadedAt = s.now()
		return s.snapshot
	}
	s.snapshot = resolve(stored, s.logger)
	s.loadedAt = s.now()
	return s.snapshot
}

// resolve lays stored values over the defaults. Stored keys without a
// definition and values of the wrong kind are ignored.
func resolve(stored map[string]*Flag, logger zerolog.Logger) map[string]Flag {
	out := make(map[string]Flag, len(definitions))
	for key, f := range DefaultFlags() {
		out[key] = *f
	}
	for key, f := range stored {
		d, ok := Lookup(key)
		if !ok {
			continue
		}
		value, err := d.Normalize(f.Value)
		if err != nil {
			logger.Warn().Err(err).Str("flag", key).Msg("ignoring stored feature flag")
			continue
		}
		out[key] = Flag{Key: key, Value: value, UpdatedAt: f.UpdatedAt}
	}
	return out
}
