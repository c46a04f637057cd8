package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrevo/clrevo/internal/api"
	"github.com/clrevo/clrevo/internal/api/handler"
	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/featureflags"
	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/geocoding"
	"github.com/clrevo/clrevo/internal/locator"
	"github.com/clrevo/clrevo/internal/stations"
)

var (
	sanFrancisco = geo.Coordinate{Lat: 37.7749, Lon: -122.4194}
	oakland      = geo.Coordinate{Lat: 37.8044, Lon: -122.2712}
)

// fakeBackend stands in for both the geocoding and the station services.
type fakeBackend struct {
	postalCodes map[string]geo.Coordinate
	stationsErr error
}

func (f *fakeBackend) ResolveFromDevice(_ context.Context, fix geocoding.DeviceFix) (geo.Coordinate, error) {
	if fix.Error != geocoding.DeviceErrorNone || fix.Coordinate == nil {
		return geo.Coordinate{}, geocoding.ErrLocationUnavailable
	}
	return *fix.Coordinate, nil
}

func (f *fakeBackend) ResolveFromPostalCode(_ context.Context, code string) (geo.Coordinate, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return geo.Coordinate{}, geocoding.ErrInvalidInput
	}
	c, ok := f.postalCodes[code]
	if !ok {
		return geo.Coordinate{}, geocoding.ErrNotFound
	}
	return c, nil
}

func (f *fakeBackend) ReverseLookup(_ context.Context, c geo.Coordinate) (geocoding.Place, error) {
	return geocoding.Place{Coordinate: c, Label: "SAN FRANCISCO, CA"}, nil
}

func (f *fakeBackend) ProviderName() string { return "fake" }

func (f *fakeBackend) FetchStations(_ context.Context, center geo.Coordinate) (stations.Collection, error) {
	if f.stationsErr != nil {
		return nil, f.stationsErr
	}
	return stations.WithDistances([]stations.Station{
		{ID: "1", Name: "Ferry Building", Coordinate: sanFrancisco, Status: stations.StatusAvailable},
		{ID: "2", Name: "Lake Merritt", Coordinate: oakland, Status: stations.StatusUnknown},
	}, center), nil
}

func (f *fakeBackend) RadiusMiles() float64 { return 15 }

func newTestRouter(t *testing.T, backend *fakeBackend) http.Handler {
	t.Helper()
	logger := zerolog.New(io.Discard)

	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewMemoryRepository(),
		Logger:     logger,
	})

	loc := locator.New(locator.Config{
		Geocoder:  backend,
		Directory: backend,
		Flags:     flags,
		Logger:    logger,
	})

	return api.NewRouter(api.RouterConfig{
		Version:            "test",
		BuildTime:          "2024-01-01T00:00:00Z",
		Logger:             logger,
		AllowedOrigins:     []string{"https://www.clrevo.com"},
		FeatureFlagService: flags,
		ReadinessChecks: map[string]handler.Check{
			"sessions": func(context.Context) error { return nil },
		},
		Locator: handler.LocatorConfig{
			Locator:       loc,
			DeviceOptions: geocoding.DefaultDeviceOptions(),
			RadiusMiles:   15,
			MaxResults:    50,
			Flags:         flags,
			Logger:        logger,
		},
		Stations: backend,
		Geocoder: backend,
	})
}

func defaultBackend() *fakeBackend {
	return &fakeBackend{postalCodes: map[string]geo.Coordinate{"94103": sanFrancisco}}
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) locator.Session {
	t.Helper()
	var s locator.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func mount(t *testing.T, router http.Handler) string {
	t.Helper()
	w := do(t, router, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, "/v1/sessions/"+s.ID, w.Header().Get("Location"))
	return s.ID
}

func TestRouter_HealthCheck(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/ops/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_ReadinessCheck(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/ops/ready", "")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_SystemStatus(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/ops/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "sessions", status.Subsystems[0].Name)
}

func TestRouter_ListFeatureFlags(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/ops/flags", "")

	require.Equal(t, http.StatusOK, w.Code)
	var list models.FeatureFlagList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, len(featureflags.Definitions()))
	assert.Equal(t, featureflags.FlagCachedOnlyStations, list.Items[0].Key)
	assert.Equal(t, "bool", list.Items[0].Kind)
	assert.Equal(t, false, list.Items[0].Value)
}

func TestRouter_LocatorConfig(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/locator/config", "")

	require.Equal(t, http.StatusOK, w.Code)
	var cfg models.LocatorConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.True(t, cfg.Device.EnableHighAccuracy)
	assert.Equal(t, int64(10000), cfg.Device.TimeoutMs)
	assert.Equal(t, int64(60000), cfg.Device.MaximumAgeMs)
	assert.False(t, cfg.Device.Disabled)
	assert.Equal(t, models.Point{Lat: 37.7749, Lon: -122.4194}, cfg.Map.FallbackCenter)
	assert.Equal(t, 12, cfg.Map.FallbackZoom)
	assert.Equal(t, 13, cfg.Map.RecenterZoom)
	assert.Equal(t, 15.0, cfg.RadiusMiles)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodGet, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusIdle, s.Status)
	assert.Empty(t, s.Stations)
	require.NotNil(t, s.Map)
	assert.Equal(t, locator.FramingFallback, s.Map.Framing)

	w = do(t, router, http.MethodDelete, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_LocatePostalCode(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/postal-code", `{"postalCode":" 94103 "}`)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusReady, s.Status)
	assert.False(t, s.Loading)
	assert.Empty(t, s.ErrorMessage)
	require.NotNil(t, s.UserCoordinate)
	assert.Equal(t, sanFrancisco, *s.UserCoordinate)
	require.Len(t, s.Stations, 2)
	assert.Equal(t, "1", s.Stations[0].ID)
	assert.Len(t, s.Map.Markers, 2)
	assert.Equal(t, locator.FramingFit, s.Map.Framing)
}

func TestRouter_LocatePostalCode_Blank(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/postal-code", `{"postalCode":"   "}`)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusError, s.Status)
	assert.Equal(t, locator.MessageEmptyPostalCode, s.ErrorMessage)
	assert.Equal(t, uint64(0), s.Generation)
}

func TestRouter_LocatePostalCode_Unknown(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/postal-code", `{"postalCode":"00000"}`)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusError, s.Status)
	assert.Equal(t, locator.ErrorKindNotFound, s.ErrorKind)
	assert.Equal(t, locator.MessageInvalidPostalCode, s.ErrorMessage)
}

func TestRouter_LocateDevice(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/device",
		`{"coordinate":{"lat":37.8044,"lon":-122.2712},"accuracyMeters":25}`)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusReady, s.Status)
	require.NotNil(t, s.UserCoordinate)
	assert.Equal(t, oakland, *s.UserCoordinate)
	assert.Equal(t, "2", s.Stations[0].ID)
}

func TestRouter_LocateDevice_Denied(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/device", `{"error":"permission_denied"}`)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusError, s.Status)
	assert.Equal(t, locator.MessageLocationUnavailable, s.ErrorMessage)
}

func TestRouter_LocateDevice_EmptyBody(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/device", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_LocateStationsFailure(t *testing.T) {
	backend := defaultBackend()
	backend.stationsErr = stations.ErrServiceError
	router := newTestRouter(t, backend)
	id := mount(t, router)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/postal-code", `{"postalCode":"94103"}`)

	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, locator.StatusError, s.Status)
	assert.Equal(t, locator.MessageStationsFailed, s.ErrorMessage)
	assert.Equal(t, locator.FramingCenter, s.Map.Framing)
}

func TestRouter_Selection(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)
	do(t, router, http.MethodPost, "/v1/sessions/"+id+"/locate/postal-code", `{"postalCode":"94103"}`)

	w := do(t, router, http.MethodPost, "/v1/sessions/"+id+"/selection", `{"stationId":"2","source":"map"}`)
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.Equal(t, "2", s.SelectedID)
	assert.True(t, s.Map.Markers[1].Highlighted)

	w = do(t, router, http.MethodPost, "/v1/sessions/"+id+"/selection", `{"stationId":"2","source":"list"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeSession(t, w).SelectedID)

	w = do(t, router, http.MethodPost, "/v1/sessions/"+id+"/selection", `{"stationId":"99"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/v1/sessions/"+id+"/selection", `{"stationId":"1","source":"keyboard"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_UnknownSession(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodPost, "/v1/sessions/missing/locate/postal-code", `{"postalCode":"94103"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	router := newTestRouter(t, defaultBackend())
	id := mount(t, router)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/locate/postal-code", strings.NewReader("postalCode=94103"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_Stations(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/stations?lat=37.7749&lon=-122.4194", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.StationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 15.0, resp.RadiusMiles)
	require.NotNil(t, resp.Stations[0].DistanceMiles)
	assert.InDelta(t, 0, *resp.Stations[0].DistanceMiles, 0.001)
}

func TestRouter_Stations_Errors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{name: "missing lon", query: "lat=37.7", status: http.StatusBadRequest},
		{name: "not a number", query: "lat=abc&lon=1", status: http.StatusBadRequest},
		{name: "out of range", query: "lat=91&lon=1", status: http.StatusBadRequest},
		{name: "NaN", query: "lat=NaN&lon=NaN", status: http.StatusBadRequest},
		{name: "infinite", query: "lat=Inf&lon=-122.4", status: http.StatusBadRequest},
		{name: "cache miss", query: "lat=37.7&lon=-122.4", err: stations.ErrCacheMiss, status: http.StatusServiceUnavailable},
		{name: "rate limited", query: "lat=37.7&lon=-122.4", err: stations.ErrRateLimitExceeded, status: http.StatusServiceUnavailable},
		{name: "upstream", query: "lat=37.7&lon=-122.4", err: errors.Join(stations.ErrServiceError, errors.New("500")), status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := defaultBackend()
			backend.stationsErr = tt.err
			router := newTestRouter(t, backend)

			w := do(t, router, http.MethodGet, "/v1/stations?"+tt.query, "")

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_GeocodePostalCode(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/geocode/postal-codes/94103", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.GeocodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "94103", resp.PostalCode)
	assert.Equal(t, "fake", resp.Provider)
	assert.Equal(t, models.Point{Lat: 37.7749, Lon: -122.4194}, resp.Coordinate)

	w = do(t, router, http.MethodGet, "/v1/geocode/postal-codes/00000", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GeocodeReverse(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/geocode/reverse?lat=37.7749&lon=-122.4194", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PlaceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SAN FRANCISCO, CA", resp.Label)

	w = do(t, router, http.MethodGet, "/v1/geocode/reverse?lat=37.7749", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/v1/geocode/reverse?lat=NaN&lon=-122.4194", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", http.NoBody)
	req.Header.Set("Origin", "https://www.clrevo.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://www.clrevo.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RequestID_Generated(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/ops/health", "")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, defaultBackend())

	w := do(t, router, http.MethodGet, "/v1/nonexistent", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
