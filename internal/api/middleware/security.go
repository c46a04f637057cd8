package middleware

import (
	"net/http"
	"strings"

	"github.com/clrevo/clrevo/internal/api/models"
)

// securityHeaders are sent on every API response. The API only serves JSON,
// so the CSP forbids loading anything and framing the response.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets the standard response security headers.
// A Cache-Control chosen by the handler is kept.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			if kv[0] == "Cache-Control" && h.Get(kv[0]) != "" {
				continue
			}
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects requests that a load balancer reports as plain HTTP via
// X-Forwarded-Proto. Requests without the header and probes under /v1/ops/
// are let through. A disabled middleware passes everything.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
			if proto == "" || proto == "https" || strings.HasPrefix(r.URL.Path, "/v1/ops/") {
				next.ServeHTTP(w, r)
				return
			}
			_ = models.NewTLSRequired(GetRequestID(r.Context())).
				WithInstance(r.URL.Path).
				Write(w)
		})
	}
}
