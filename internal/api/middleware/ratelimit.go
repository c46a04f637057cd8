package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/clrevo/clrevo/internal/api/models"
)

// RateLimitConfig is a fixed window limit.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration

	// PerSession adds the {sessionId} path parameter to the client IP key, so
	// several locator widgets behind one address get separate budgets.
	PerSession bool
}

// Default limits.
var (
	// LocateRateLimit covers calls that reach the geocoder or station directory.
	LocateRateLimit = RateLimitConfig{
		RequestLimit: 30,
		WindowLength: time.Minute,
		PerSession:   true,
	}

	// StandardRateLimit covers everything else that is limited.
	StandardRateLimit = RateLimitConfig{
		RequestLimit: 100,
		WindowLength: time.Minute,
	}
)

// OrDefault returns c, or def when c has no limit set.
func (c RateLimitConfig) OrDefault(def RateLimitConfig) RateLimitConfig {
	if c.RequestLimit <= 0 || c.WindowLength <= 0 {
		return def
	}
	return c
}

// RateLimit returns a limiter keyed by the real client IP, which chi's RealIP
// middleware takes from X-Forwarded-For.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keys := []httprate.KeyFunc{httprate.KeyByRealIP}
	if cfg.PerSession {
		keys = append(keys, func(r *http.Request) (string, error) {
			return sessionID(r), nil
		})
	}
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// httprate does not expose the reset time; one full window is the upper bound.
			w.Header().Set("Retry-After", retryAfter)
			models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.").
				WithInstance(r.URL.Path).
				Write(w)
		}),
	)
}
