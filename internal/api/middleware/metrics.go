package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/clrevo/clrevo/internal/provider/resilience"
)

const meterName = "github.com/clrevo/clrevo/internal/api/middleware"

// Metrics holds the HTTP server instruments.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestTotal     metric.Int64Counter
	requestsInFlight metric.Int64UpDownCounter
	responseSize     metric.Int64Histogram
}

// NewMetrics creates HTTP server instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates HTTP server instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	m.requestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.requestTotal, err = meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("Total number of HTTP server requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.requestsInFlight, err = meter.Int64UpDownCounter(
		"http.server.requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.responseSize, err = meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("Size of HTTP server responses in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Middleware returns an HTTP middleware that records metrics for each request.
// Requests are labelled with the chi route pattern so session ids never become label values.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			method := attribute.String("http.method", r.Method)
			m.requestsInFlight.Add(r.Context(), 1, metric.WithAttributes(method))
			defer m.requestsInFlight.Add(r.Context(), -1, metric.WithAttributes(method))

			rec := newRecorder(w)
			next.ServeHTTP(rec, r)

			attrs := []attribute.KeyValue{
				method,
				attribute.String("http.route", routePattern(r)),
				attribute.String("http.status_code", strconv.Itoa(rec.status)),
			}
			if rec.status >= 400 {
				attrs = append(attrs, attribute.Bool("error", true))
			}

			opt := metric.WithAttributes(attrs...)
			m.requestDuration.Record(r.Context(), time.Since(start).Seconds(), opt)
			m.requestTotal.Add(r.Context(), 1, opt)
			m.responseSize.Record(r.Context(), rec.written, opt)
		})
	}
}

// ProviderMetrics records calls to the geocoder and station directory and their caches.
type ProviderMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
}

// NewProviderMetrics creates provider instruments on the global meter provider.
func NewProviderMetrics() (*ProviderMetrics, error) {
	return NewProviderMetricsWithMeter(otel.Meter(meterName))
}

// NewProviderMetricsWithMeter creates provider instruments on meter.
func NewProviderMetricsWithMeter(meter metric.Meter) (*ProviderMetrics, error) {
	var (
		m   ProviderMetrics
		err error
	)

	m.requestDuration, err = meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20),
	)
	if err != nil {
		return nil, err
	}

	m.requestTotal, err = meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheHits, err = meter.Int64Counter(
		"provider.cache.hit",
		metric.WithDescription("Number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheMisses, err = meter.Int64Counter(
		"provider.cache.miss",
		metric.WithDescription("Number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordRequest records metrics for a provider request.
func (m *ProviderMetrics) RecordRequest(provider, operation string, duration time.Duration, err error) {
	attrs := providerAttrs(provider, operation)
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Recorded after the caller's context may already be done.
	ctx := context.Background()
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheHit records a cache hit for a provider.
func (m *ProviderMetrics) RecordCacheHit(provider, operation string) {
	m.cacheHits.Add(context.Background(), 1, metric.WithAttributes(providerAttrs(provider, operation)...))
}

// RecordCacheMiss records a cache miss for a provider.
func (m *ProviderMetrics) RecordCacheMiss(provider, operation string) {
	m.cacheMisses.Add(context.Background(), 1, metric.WithAttributes(providerAttrs(provider, operation)...))
}

func providerAttrs(provider, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
}

// SearchMetrics records completed locator searches.
type SearchMetrics struct {
	searches     metric.Int64Counter
	stationCount metric.Int64Histogram
}

// NewSearchMetrics creates search instruments on the global meter provider.
func NewSearchMetrics() (*SearchMetrics, error) {
	return NewSearchMetricsWithMeter(otel.Meter(meterName))
}

// NewSearchMetricsWithMeter creates search instruments on meter.
func NewSearchMetricsWithMeter(meter metric.Meter) (*SearchMetrics, error) {
	searches, err := meter.Int64Counter(
		"locator.search.total",
		metric.WithDescription("Completed locate requests by source and outcome"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		return nil, err
	}

	stationCount, err := meter.Int64Histogram(
		"locator.search.stations",
		metric.WithDescription("Stations returned per successful search"),
		metric.WithUnit("{station}"),
	)
	if err != nil {
		return nil, err
	}

	return &SearchMetrics{searches: searches, stationCount: stationCount}, nil
}

// RecordSearch records one completed search. Station counts are only recorded on success.
func (m *SearchMetrics) RecordSearch(source, outcome string, stations int) {
	ctx := context.Background()
	m.searches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("search.source", source),
		attribute.String("search.outcome", outcome),
	))
	if outcome == "ok" {
		m.stationCount.Record(ctx, int64(stations), metric.WithAttributes(attribute.String("search.source", source)))
	}
}

// ObserveCircuits reports each provider's circuit state (0 closed, 1 half-open,
// 2 open) and trip count, read from health at collection time.
func ObserveCircuits(meter metric.Meter, health func() []*resilience.ProviderHealth) error {
	state, err := meter.Int64ObservableGauge(
		"provider.circuit.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
	)
	if err != nil {
		return err
	}
	trips, err := meter.Int64ObservableCounter(
		"provider.circuit.trips",
		metric.WithDescription("Times the provider circuit has opened"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, h := range health() {
			opt := metric.WithAttributes(attribute.String("provider.name", h.Name))
			o.ObserveInt64(state, circuitValue(h), opt)
			o.ObserveInt64(trips, int64(h.Trips), opt)
		}
		return nil
	}, state, trips)
	return err
}

func circuitValue(h *resilience.ProviderHealth) int64 {
	switch {
	case h.IsUnhealthy():
		return 2
	case h.IsDegraded():
		return 1
	default:
		return 0
	}
}
