// Package api provides the HTTP API for the CLREVO charging-station locator.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/api/handler"
	"github.com/clrevo/clrevo/internal/api/middleware"
	"github.com/clrevo/clrevo/internal/featureflags"
	"github.com/clrevo/clrevo/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// AllowedOrigins enables CORS for browser clients when non-empty.
	AllowedOrigins []string

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	// LocateLimit and StandardLimit override the default rate limits when set.
	LocateLimit   middleware.RateLimitConfig
	StandardLimit middleware.RateLimitConfig

	Registry           *resilience.Registry
	ReadinessChecks    map[string]handler.Check
	FeatureFlagService *featureflags.Service

	Locator  handler.LocatorConfig
	Stations handler.StationDirectory
	Geocoder handler.Resolver
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "clrevo-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Location", "X-Request-Id", "Retry-After"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.SecurityHeaders) // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON) // JSON content type

	var flags handler.DegradationFlags
	if cfg.FeatureFlagService != nil {
		flags = cfg.FeatureFlagService
	}

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Checks:    cfg.ReadinessChecks,
		Flags:     flags,
	})
	locatorHandler := handler.NewLocatorHandler(cfg.Locator)
	stationsHandler := handler.NewStationsHandler(cfg.Stations, cfg.Logger)
	geocodeHandler := handler.NewGeocodeHandler(cfg.Geocoder, cfg.Logger)

	// Locate calls fan out to the geocoder and the station directory.
	locateRateLimit := middleware.RateLimit(cfg.LocateLimit.OrDefault(middleware.LocateRateLimit))
	standardRateLimit := middleware.RateLimit(cfg.StandardLimit.OrDefault(middleware.StandardRateLimit))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
			if cfg.FeatureFlagService != nil {
				r.With(standardRateLimit).Get("/flags", handler.NewFeatureFlagsHandler(cfg.FeatureFlagService).ListFeatureFlags)
			}
		})

		r.With(standardRateLimit).Get("/locator/config", locatorHandler.Config)

		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.With(standardRateLimit).Post("/", locatorHandler.Mount)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", locatorHandler.Get)
				r.With(standardRateLimit).Delete("/", locatorHandler.Unmount)
				r.With(locateRateLimit).Post("/locate/device", locatorHandler.LocateDevice)
				r.With(locateRateLimit).Post("/locate/postal-code", locatorHandler.LocatePostalCode)
				r.With(standardRateLimit).Post("/selection", locatorHandler.Select)
			})
		})

		r.With(locateRateLimit).Get("/stations", stationsHandler.List)

		r.Route("/geocode", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/postal-codes/{code}", geocodeHandler.PostalCode)
			r.Get("/reverse", geocodeHandler.Reverse)
		})
	})

	return r
}
