package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrevo/clrevo/internal/provider/resilience"
)

func fastConfig(name string) resilience.ClientConfig {
	cfg := resilience.DefaultClientConfig(name)
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	cfg.Breaker.MinRequests = 100
	return cfg
}

func get(t *testing.T, c *resilience.Client, ctx context.Context, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := c.Do(req)
	if resp != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func TestClient_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := get(t, resilience.NewClient(fastConfig("openchargemap")), context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := get(t, resilience.NewClient(fastConfig("nominatim")), context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ReturnsLastServerErrorWhenRetriesRunOut(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := fastConfig("openchargemap")
	cfg.MaxRetries = 1
	resp, err := get(t, resilience.NewClient(cfg), context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_ZeroRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastConfig("openchargemap")
	cfg.MaxRetries = 0
	resp, err := get(t, resilience.NewClient(cfg), context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_ClientErrorsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resp, err := get(t, resilience.NewClient(fastConfig("nominatim")), context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_ResendsBodyOnRetry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"q":"94103"}`))
	require.NoError(t, err)
	resp, err := resilience.NewClient(fastConfig("nominatim")).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{`{"q":"94103"}`, `{"q":"94103"}`}, bodies)
}

func TestClient_CircuitOpens(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastConfig("openchargemap")
	cfg.MaxRetries = 0
	cfg.Breaker = resilience.BreakerConfig{HalfOpenProbes: 1, OpenTimeout: time.Minute, MinRequests: 5, FailureRatio: 0.5}
	registry := resilience.NewRegistry()
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	for range 5 {
		_, _ = get(t, client, context.Background(), server.URL)
	}
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	_, err := get(t, client, context.Background(), server.URL)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), attempts.Load(), "open circuit must not reach the provider")

	h := registry.GetHealth("openchargemap")
	require.NotNil(t, h)
	assert.True(t, h.IsUnhealthy())
	assert.Equal(t, 1, h.Trips)
	assert.NotNil(t, h.StateChangedAt)
	assert.Equal(t, 6, h.ConsecutiveFailures)
}

func TestClient_HalfOpenRecovers(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastConfig("nominatim")
	cfg.MaxRetries = 0
	cfg.Breaker = resilience.BreakerConfig{HalfOpenProbes: 1, OpenTimeout: 50 * time.Millisecond, MinRequests: 2, FailureRatio: 0.5}
	client := resilience.NewClient(cfg)

	for range 2 {
		_, _ = get(t, client, context.Background(), server.URL)
	}
	require.Equal(t, gobreaker.StateOpen, client.BreakerState())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, client.BreakerState())

	healthy.Store(true)
	resp, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("openchargemap")
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 0
	_, err := get(t, resilience.NewClient(cfg), context.Background(), server.URL)
	assert.Error(t, err)
}

func TestClient_CancellationIsNotAProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("nominatim")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := get(t, client, ctx, server.URL)
	require.Error(t, err)

	h := registry.GetHealth("nominatim")
	require.NotNil(t, h)
	assert.Nil(t, h.LastFailureAt)
	assert.Equal(t, uint32(0), h.Counts.TotalFailures)
}

func TestClient_SetsUserAgent(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
	}))
	defer server.Close()

	cfg := fastConfig("nominatim")
	cfg.UserAgent = "clrevo-locator/1.0"
	_, err := get(t, resilience.NewClient(cfg), context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "clrevo-locator/1.0", got.Load())
}

func TestBreakerConfig_ShouldTrip(t *testing.T) {
	cfg := resilience.DefaultBreakerConfig()
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"no requests", gobreaker.Counts{}, false},
		{"too few requests", gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{"low failure rate", gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
		{"half failing", gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{"all failing at threshold", gobreaker.Counts{Requests: 5, TotalFailures: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.ShouldTrip(tt.counts))
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("openchargemap")
	assert.Equal(t, "openchargemap", cfg.Name)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(2), cfg.MaxRetries)
	assert.Equal(t, resilience.DefaultBreakerConfig(), cfg.Breaker)
}

func TestServerError(t *testing.T) {
	assert.Equal(t, "HTTP 503", (&resilience.ServerError{StatusCode: http.StatusServiceUnavailable}).Error())
}
