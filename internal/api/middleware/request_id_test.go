package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrevo/clrevo/internal/api/middleware"
)

func serveWithRequestID(t *testing.T, incoming string) (ctxID, headerID string) {
	t.Helper()
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	if incoming != "" {
		req.Header.Set(middleware.RequestIDHeader, incoming)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return ctxID, w.Header().Get(middleware.RequestIDHeader)
}

func TestRequestID_Generated(t *testing.T) {
	ctxID, headerID := serveWithRequestID(t, "")

	require.True(t, strings.HasPrefix(headerID, "req_"), headerID)
	assert.Len(t, headerID, len("req_")+32)
	assert.Equal(t, headerID, ctxID)
}

func TestRequestID_IncomingHeader(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"plain", "widget-7f3a.load_1", true},
		{"uuid", "0b6c2f1e-8f5e-4f7c-a0a1-3f1d2c3b4a59", true},
		{"spaces", "not a valid id", false},
		{"header injection", "abc\r\nSet-Cookie: x=1", false},
		{"too long", strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctxID, headerID := serveWithRequestID(t, tt.incoming)
			assert.Equal(t, headerID, ctxID)
			if tt.keep {
				assert.Equal(t, tt.incoming, headerID)
			} else {
				assert.NotEqual(t, tt.incoming, headerID)
				assert.True(t, strings.HasPrefix(headerID, "req_"))
			}
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
	assert.Equal(t, "abc", middleware.GetRequestID(middleware.WithRequestID(req.Context(), "abc")))
}

func TestRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		_, id := serveWithRequestID(t, "")
		require.False(t, seen[id], "duplicate request ID %s", id)
		seen[id] = true
	}
}
