package featureflags_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrevo/clrevo/internal/featureflags"
)

// countingRepo wraps a repository and can be switched to fail.
type countingRepo struct {
	*featureflags.MemoryRepository
	lists atomic.Int32
	fail  atomic.Bool
}

func (r *countingRepo) List(ctx context.Context) (map[string]*featureflags.Flag, error) {
	r.lists.Add(1)
	if r.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return r.MemoryRepository.List(ctx)
}

func newRepo() *countingRepo {
	return &countingRepo{MemoryRepository: featureflags.NewMemoryRepository()}
}

func newService(repo featureflags.Repository, ttl time.Duration) *featureflags.Service {
	return featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   ttl,
	})
}

func TestService_Defaults(t *testing.T) {
	service := newService(newRepo(), time.Minute)
	ctx := context.Background()

	assert.False(t, service.IsDeviceLocationDisabled(ctx))
	assert.False(t, service.IsCachedOnlyStations(ctx))
	assert.False(t, service.IsSearchEventsDisabled(ctx))
	assert.Equal(t, 50, service.StationResultLimit(ctx, 10))
	assert.Nil(t, service.Get(ctx, "no_such_flag"))
	assert.False(t, service.IsEnabled(ctx, "no_such_flag"))
}

func TestService_Set(t *testing.T) {
	service := newService(newRepo(), time.Hour)
	ctx := context.Background()

	require.False(t, service.IsCachedOnlyStations(ctx))

	err := service.Set(ctx, map[string]any{
		featureflags.FlagCachedOnlyStations: true,
		featureflags.FlagStationResultLimit: float64(25),
	})
	require.NoError(t, err)

	assert.True(t, service.IsCachedOnlyStations(ctx), "set must be visible despite a long TTL")
	assert.Equal(t, 25, service.StationResultLimit(ctx, 10))
}

func TestService_SetRejects(t *testing.T) {
	service := newService(newRepo(), time.Minute)
	ctx := context.Background()

	tests := []struct {
		name   string
		values map[string]any
		want   error
	}{
		{"unknown key", map[string]any{"dark_mode": true}, featureflags.ErrUnknownFlag},
		{"string for bool", map[string]any{featureflags.FlagDisableSearchEvents: "yes"}, featureflags.ErrInvalidValue},
		{"fraction for int", map[string]any{featureflags.FlagStationResultLimit: 2.5}, featureflags.ErrInvalidValue},
		{"bool for int", map[string]any{featureflags.FlagStationResultLimit: true}, featureflags.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, service.Set(ctx, tt.values), tt.want)
		})
	}
	assert.False(t, service.IsSearchEventsDisabled(ctx))
}

func TestService_ServesSnapshotWithinTTL(t *testing.T) {
	repo := newRepo()
	service := newService(repo, time.Hour)
	ctx := context.Background()

	for range 5 {
		_ = service.IsCachedOnlyStations(ctx)
	}
	assert.Equal(t, int32(1), repo.lists.Load())

	// Writes that bypass the service show up after Invalidate.
	require.NoError(t, repo.Put(ctx, &featureflags.Flag{Key: featureflags.FlagCachedOnlyStations, Value: true}))
	assert.False(t, service.IsCachedOnlyStations(ctx))

	service.Invalidate()
	assert.True(t, service.IsCachedOnlyStations(ctx))
	assert.Equal(t, int32(2), repo.lists.Load())
}

func TestService_RepositoryFailureKeepsLastValues(t *testing.T) {
	repo := newRepo()
	service := newService(repo, time.Hour)
	ctx := context.Background()

	require.NoError(t, service.Set(ctx, map[string]any{featureflags.FlagDisableDeviceLocation: true}))
	require.True(t, service.IsDeviceLocationDisabled(ctx))

	repo.fail.Store(true)
	service.Invalidate()

	assert.True(t, service.IsDeviceLocationDisabled(ctx))
}

func TestService_RepositoryDownAtStartServesDefaults(t *testing.T) {
	repo := newRepo()
	repo.fail.Store(true)
	service := newService(repo, time.Hour)

	list := service.List(context.Background())

	assert.Len(t, list.Items, len(featureflags.Definitions()))
	assert.False(t, service.IsCachedOnlyStations(context.Background()))
}

func TestService_IgnoresBadStoredValues(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx,
		&featureflags.Flag{Key: featureflags.FlagCachedOnlyStations, Value: "on"},
		&featureflags.Flag{Key: "retired_flag", Value: true},
	))
	service := newService(repo, time.Minute)

	assert.False(t, service.IsCachedOnlyStations(ctx))
	assert.Nil(t, service.Get(ctx, "retired_flag"))
}

func TestService_ConcurrentReadersShareReload(t *testing.T) {
	repo := newRepo()
	service := newService(repo, time.Hour)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = service.IsSearchEventsDisabled(context.Background())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, repo.lists.Load(), int32(20))
	assert.GreaterOrEqual(t, repo.lists.Load(), int32(1))
}

func TestService_ListSorted(t *testing.T) {
	list := newService(newRepo(), time.Minute).List(context.Background())

	keys := make([]string, 0, len(list.Items))
	for _, f := range list.Items {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{
		featureflags.FlagCachedOnlyStations,
		featureflags.FlagDisableDeviceLocation,
		featureflags.FlagDisableSearchEvents,
		featureflags.FlagStationResultLimit,
	}, keys)
}

func TestService_StationResultLimitFallback(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, &featureflags.Flag{Key: featureflags.FlagStationResultLimit, Value: float64(0)}))

	assert.Equal(t, 10, newService(repo, time.Minute).StationResultLimit(ctx, 10))
}

func TestDefinition_Normalize(t *testing.T) {
	limit, ok := featureflags.Lookup(featureflags.FlagStationResultLimit)
	require.True(t, ok)

	v, err := limit.Normalize(float64(30))
	require.NoError(t, err)
	assert.Equal(t, 30, v)

	_, err = limit.Normalize("30")
	assert.ErrorIs(t, err, featureflags.ErrInvalidValue)
}

func TestFlag_Accessors(t *testing.T) {
	var missing *featureflags.Flag
	assert.True(t, missing.Bool(true))
	assert.Equal(t, 7, missing.Int(7))

	f := &featureflags.Flag{Value: float64(12)}
	assert.Equal(t, 12, f.Int(0))
	assert.False(t, f.Bool(false))
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := featureflags.NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, featureflags.FlagCachedOnlyStations))
	_, err := repo.Get(ctx, featureflags.FlagCachedOnlyStations)
	assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, featureflags.FlagCachedOnlyStations), featureflags.ErrFlagNotFound)
}
