package locator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/events"
	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/geocoding"
	"github.com/clrevo/clrevo/internal/stations"
)

// Geocoder turns device fixes and postal codes into coordinates.
type Geocoder interface {
	ResolveFromDevice(ctx context.Context, fix geocoding.DeviceFix) (geo.Coordinate, error)
	ResolveFromPostalCode(ctx context.Context, code string) (geo.Coordinate, error)
}

// Directory returns stations near a coordinate, nearest first.
type Directory interface {
	FetchStations(ctx context.Context, center geo.Coordinate) (stations.Collection, error)
}

// FlagSource reports runtime feature flags relevant to the locator.
type FlagSource interface {
	IsSearchEventsDisabled(ctx context.Context) bool
}

// SearchRecorder records completed searches.
type SearchRecorder interface {
	RecordSearch(source, outcome string, stations int)
}

// OutcomeOK is the metrics outcome of a search that loaded stations.
const OutcomeOK = "ok"

// Config holds the dependencies of a Locator.
type Config struct {
	Geocoder  Geocoder
	Directory Directory
	Store     Store

	// Events receives one event per completed locate request (optional).
	Events events.Publisher

	// Flags can switch off search events (optional).
	Flags FlagSource

	// Metrics counts completed searches (optional).
	Metrics SearchRecorder

	Logger zerolog.Logger
}

// Locator drives sessions through locate, fetch and select.
type Locator struct {
	geocoder  Geocoder
	directory Directory
	store     Store
	events    events.Publisher
	flags     FlagSource
	metrics   SearchRecorder
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
}

// New creates a Locator.
func New(cfg Config) *Locator {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore(DefaultSessionTTL)
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Locator{
		geocoder:  cfg.Geocoder,
		directory: cfg.Directory,
		store:     store,
		events:    pub,
		flags:     cfg.Flags,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Mount creates an idle session with its map surface.
func (l *Locator) Mount(ctx context.Context) (*Session, error) {
	s := NewSession(l.newID(), l.now())
	if err := l.store.Create(ctx, s); err != nil {
		return nil, err
	}
	l.logger.Debug().Str("session_id", s.ID).Msg("session mounted")
	return s, nil
}

// Unmount releases the map surface and drops the session.
func (l *Locator) Unmount(ctx context.Context, id string) error {
	_, err := l.store.Update(ctx, id, func(s *Session) error {
		if s.Map != nil {
			s.Map.Release()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	l.logger.Debug().Str("session_id", id).Msg("session unmounted")
	return nil
}

// Get returns the current state of a session.
func (l *Locator) Get(ctx context.Context, id string) (*Session, error) {
	return l.store.Get(ctx, id)
}

// LocateFromDevice centres the session on a browser geolocation fix and loads nearby stations.
// Resolution failures end up in the session state, not in the returned error.
func (l *Locator) LocateFromDevice(ctx context.Context, id string, fix geocoding.DeviceFix) (*Session, error) {
	var gen uint64
	if _, err := l.store.Update(ctx, id, func(s *Session) error {
		gen = s.Begin()
		return nil
	}); err != nil {
		return nil, err
	}

	search := events.SearchEvent{SessionID: id, Source: events.SourceDevice}

	c, err := l.geocoder.ResolveFromDevice(ctx, fix)
	if err != nil {
		l.logger.Info().Err(err).Str("session_id", id).Msg("device location unavailable")
		return l.fail(ctx, id, gen, ErrorKindLocationUnavailable, MessageLocationUnavailable, err, search)
	}

	return l.load(ctx, id, gen, c, search)
}

// LocateFromPostalCode geocodes a postal code and loads nearby stations.
// Blank input is rejected without starting a request.
func (l *Locator) LocateFromPostalCode(ctx context.Context, id, code string) (*Session, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return l.store.Update(ctx, id, func(s *Session) error {
			s.ZipInput = code
			s.Reject(ErrorKindInvalidInput, MessageEmptyPostalCode)
			return nil
		})
	}

	var gen uint64
	if _, err := l.store.Update(ctx, id, func(s *Session) error {
		s.ZipInput = code
		gen = s.Begin()
		return nil
	}); err != nil {
		return nil, err
	}

	search := events.SearchEvent{SessionID: id, Source: events.SourcePostalCode, PostalCode: trimmed}

	c, err := l.geocoder.ResolveFromPostalCode(ctx, trimmed)
	if err != nil {
		kind, msg := classifyGeocodingError(err)
		l.logger.Info().Err(err).Str("session_id", id).Str("postal_code", trimmed).Msg("postal code not resolved")
		return l.fail(ctx, id, gen, kind, msg, err, search)
	}

	return l.load(ctx, id, gen, c, search)
}

// Select toggles the selected station. Map and list selections behave the same.
func (l *Locator) Select(ctx context.Context, id, stationID string, source SelectionSource) (*Session, error) {
	s, err := l.store.Update(ctx, id, func(s *Session) error {
		return s.Select(stationID)
	})
	if err != nil {
		return nil, err
	}
	event := l.logger.Debug().
		Str("session_id", id).
		Str("station_id", stationID).
		Str("source", string(source))
	if st, ok := s.Selected(); ok {
		event = event.Bool("selected", true).Str("station_name", st.Name)
	} else {
		event = event.Bool("selected", false)
	}
	event.Msg("station selection changed")
	return s, nil
}

func (l *Locator) load(ctx context.Context, id string, gen uint64, c geo.Coordinate, search events.SearchEvent) (*Session, error) {
	search.Center = &c

	s, err := l.commit(ctx, id, func(s *Session) error {
		return s.Located(gen, c)
	})
	if err != nil || s.Generation != gen {
		return s, err
	}

	coll, err := l.directory.FetchStations(ctx, c)
	if err != nil {
		l.logger.Warn().Err(err).Str("session_id", id).Msg("station fetch failed")
		return l.fail(ctx, id, gen, ErrorKindServiceError, MessageStationsFailed, err, search)
	}

	s, err = l.commit(ctx, id, func(s *Session) error {
		return s.Loaded(gen, coll)
	})
	if err != nil || s.Generation != gen {
		return s, err
	}

	search.StationCount = len(coll)
	l.finish(ctx, search, OutcomeOK)
	return s, nil
}

func (l *Locator) fail(ctx context.Context, id string, gen uint64, kind ErrorKind, msg string, cause error, search events.SearchEvent) (*Session, error) {
	s, err := l.commit(ctx, id, func(s *Session) error {
		return s.Fail(gen, kind, msg)
	})
	if err != nil || s.Generation != gen {
		return s, err
	}

	search.Error = cause.Error()
	l.finish(ctx, search, strings.ToLower(string(kind)))
	return s, nil
}

// commit applies a result to the session. The write is not tied to the caller's
// cancellation so a request never leaves the session loading. Superseded results
// are dropped and the current state is returned.
func (l *Locator) commit(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	ctx = context.WithoutCancel(ctx)
	s, err := l.store.Update(ctx, id, fn)
	if errors.Is(err, ErrStaleGeneration) {
		l.logger.Debug().Str("session_id", id).Msg("discarding superseded result")
		return l.store.Get(ctx, id)
	}
	return s, err
}

// finish records the outcome of the current request and publishes its search event.
func (l *Locator) finish(ctx context.Context, e events.SearchEvent, outcome string) {
	if l.metrics != nil {
		l.metrics.RecordSearch(string(e.Source), outcome, e.StationCount)
	}
	if l.flags != nil && l.flags.IsSearchEventsDisabled(ctx) {
		return
	}
	e.OccurredAt = l.now()
	if err := l.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		l.logger.Warn().Err(err).Str("session_id", e.SessionID).Msg("failed to publish search event")
	}
}

func classifyGeocodingError(err error) (ErrorKind, string) {
	switch {
	case errors.Is(err, geocoding.ErrInvalidInput):
		return ErrorKindInvalidInput, MessageEmptyPostalCode
	case errors.Is(err, geocoding.ErrNotFound):
		return ErrorKindNotFound, MessageInvalidPostalCode
	default:
		return ErrorKindServiceError, MessageGeocodingFailed
	}
}
