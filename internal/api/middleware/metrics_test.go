package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/clrevo/clrevo/internal/api/middleware"
	"github.com/clrevo/clrevo/internal/provider/resilience"
)

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// sumPoints returns the data points of the named Int64 sum.
func sumPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			return sum.DataPoints
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return nil
}

func attr(t *testing.T, dp metricdata.DataPoint[int64], key string) string {
	t.Helper()
	v, ok := dp.Attributes.Value(attribute.Key(key))
	require.True(t, ok, "missing attribute %s", key)
	return v.Emit()
}

func TestNewMetrics(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}

func TestMetrics_Middleware_UsesRoutePattern(t *testing.T) {
	reader, mp := newReader()
	metrics, err := middleware.NewMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/v1/sessions/{sessionId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, http.NoBody)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	points := sumPoints(t, reader, "http.server.request.total")
	require.Len(t, points, 1)
	assert.Equal(t, int64(3), points[0].Value)
	assert.Equal(t, "/v1/sessions/{sessionId}", attr(t, points[0], "http.route"))
	assert.Equal(t, "404", attr(t, points[0], "http.status_code"))
	assert.Equal(t, "true", attr(t, points[0], "error"))
}

func TestMetrics_Middleware_Unrouted(t *testing.T) {
	reader, mp := newReader()
	metrics, err := middleware.NewMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("response"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	points := sumPoints(t, reader, "http.server.request.total")
	require.Len(t, points, 1)
	assert.Equal(t, "unmatched", attr(t, points[0], "http.route"))
	assert.Equal(t, "200", attr(t, points[0], "http.status_code"))
}

func TestProviderMetrics(t *testing.T) {
	reader, mp := newReader()
	pm, err := middleware.NewProviderMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	pm.RecordRequest("openchargemap", "poi", 120*time.Millisecond, nil)
	pm.RecordRequest("openchargemap", "poi", 80*time.Millisecond, errors.New("HTTP 503"))
	pm.RecordCacheHit("nominatim", "search")
	pm.RecordCacheMiss("nominatim", "search")

	requests := sumPoints(t, reader, "provider.request.total")
	assert.Len(t, requests, 2)

	hits := sumPoints(t, reader, "provider.cache.hit")
	require.Len(t, hits, 1)
	assert.Equal(t, "nominatim", attr(t, hits[0], "provider.name"))
	assert.Equal(t, "search", attr(t, hits[0], "provider.operation"))
}

func TestSearchMetrics(t *testing.T) {
	reader, mp := newReader()
	sm, err := middleware.NewSearchMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	sm.RecordSearch("postal_code", "ok", 12)
	sm.RecordSearch("postal_code", "ok", 3)
	sm.RecordSearch("device", "location_unavailable", 0)

	points := sumPoints(t, reader, "locator.search.total")
	require.Len(t, points, 2)

	byOutcome := map[string]int64{}
	for _, dp := range points {
		byOutcome[attr(t, dp, "search.outcome")] = dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 2, "location_unavailable": 1}, byOutcome)
}

func TestObserveCircuits(t *testing.T) {
	reader, mp := newReader()
	health := []*resilience.ProviderHealth{
		{Name: "nominatim", CircuitState: gobreaker.StateClosed},
		{Name: "openchargemap", CircuitState: gobreaker.StateOpen, Trips: 3},
	}
	require.NoError(t, middleware.ObserveCircuits(mp.Meter("test"), func() []*resilience.ProviderHealth { return health }))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	states := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "provider.circuit.state" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			for _, dp := range gauge.DataPoints {
				states[attr(t, dp, "provider.name")] = dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"nominatim": 0, "openchargemap": 2}, states)

	trips := sumPoints(t, reader, "provider.circuit.trips")
	var total int64
	for _, dp := range trips {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}
