package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrevo/clrevo/internal/provider/resilience"
)

func registered(t *testing.T, names ...string) *resilience.Registry {
	t.Helper()
	registry := resilience.NewRegistry()
	for _, name := range names {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		client := resilience.NewClient(cfg)
		require.Equal(t, name, client.Name())
	}
	return registry
}

func TestRegistry_GetHealth(t *testing.T) {
	registry := registered(t, "openchargemap")

	health := registry.GetHealth("openchargemap")
	require.NotNil(t, health)
	assert.Equal(t, "openchargemap", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.True(t, health.IsHealthy())
	assert.False(t, health.IsDegraded())
	assert.False(t, health.IsUnhealthy())
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.StateChangedAt)
	assert.Zero(t, health.Trips)

	assert.Nil(t, registry.GetHealth("nominatim"))
}

func TestRegistry_ConsecutiveFailures(t *testing.T) {
	registry := registered(t, "nominatim")

	registry.RecordFailure("nominatim", errors.New("HTTP 503"))
	registry.RecordFailure("nominatim", errors.New("HTTP 502"))

	health := registry.GetHealth("nominatim")
	require.NotNil(t, health)
	assert.Equal(t, 2, health.ConsecutiveFailures)
	assert.Equal(t, "HTTP 502", health.LastError)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)

	registry.RecordSuccess("nominatim")

	health = registry.GetHealth("nominatim")
	assert.Zero(t, health.ConsecutiveFailures)
	require.NotNil(t, health.LastSuccessAt)
	assert.Equal(t, "HTTP 502", health.LastError, "last error is kept for operators")
}

func TestRegistry_RecordStateChange(t *testing.T) {
	registry := registered(t, "openchargemap")

	registry.RecordStateChange("openchargemap", gobreaker.StateOpen)
	registry.RecordStateChange("openchargemap", gobreaker.StateHalfOpen)
	registry.RecordStateChange("openchargemap", gobreaker.StateOpen)

	health := registry.GetHealth("openchargemap")
	require.NotNil(t, health)
	assert.Equal(t, 2, health.Trips)
	require.NotNil(t, health.StateChangedAt)
}

func TestRegistry_UnknownProviderIgnored(t *testing.T) {
	registry := registered(t)

	registry.RecordSuccess("ghost")
	registry.RecordFailure("ghost", errors.New("boom"))
	registry.RecordStateChange("ghost", gobreaker.StateOpen)

	assert.Empty(t, registry.GetAllHealth())
}

func TestRegistry_GetAllHealthSorted(t *testing.T) {
	registry := registered(t, "openchargemap", "nominatim")

	all := registry.GetAllHealth()
	require.Len(t, all, 2)
	assert.Equal(t, "nominatim", all[0].Name)
	assert.Equal(t, "openchargemap", all[1].Name)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	registry := registered(t, "nominatim")
	registry.RecordFailure("nominatim", errors.New("HTTP 500"))

	cfg := resilience.DefaultClientConfig("nominatim")
	cfg.Registry = registry
	_ = resilience.NewClient(cfg)

	health := registry.GetHealth("nominatim")
	require.NotNil(t, health)
	assert.Zero(t, health.ConsecutiveFailures)
	assert.Len(t, registry.GetAllHealth(), 1)
}
