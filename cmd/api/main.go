// Package main provides the entrypoint for the CLREVO locator API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/api"
	"github.com/clrevo/clrevo/internal/api/handler"
	"github.com/clrevo/clrevo/internal/api/middleware"
	"github.com/clrevo/clrevo/internal/config"
	"github.com/clrevo/clrevo/internal/database"
	"github.com/clrevo/clrevo/internal/events"
	"github.com/clrevo/clrevo/internal/featureflags"
	"github.com/clrevo/clrevo/internal/geocoding"
	"github.com/clrevo/clrevo/internal/geocoding/nominatim"
	"github.com/clrevo/clrevo/internal/locator"
	"github.com/clrevo/clrevo/internal/provider/resilience"
	"github.com/clrevo/clrevo/internal/stations"
	"github.com/clrevo/clrevo/internal/stations/openchargemap"
	"github.com/clrevo/clrevo/internal/telemetry"
	"github.com/clrevo/clrevo/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "clrevo-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if !cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Msg("starting CLREVO locator API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Insecure:       cfg.Telemetry.Insecure,
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}
	searchMetrics, err := middleware.NewSearchMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize search metrics")
	}

	checks := map[string]handler.Check{}

	// Feature flags
	var ffRepo featureflags.Repository = featureflags.NewMemoryRepository()
	if cfg.Flags.Backend == config.FlagsBackendPostgres {
		pool, err := database.Connect(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")

		pgRepo := featureflags.NewPostgresRepository(pool)
		if err := pgRepo.EnsureSchema(ctx, featureflags.DefaultFlags()); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare feature flag table")
		}
		ffRepo = pgRepo
		checks["postgres"] = pool.Ping
	}
	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: ffRepo,
		Logger:     log,
		CacheTTL:   cfg.Flags.CacheTTL,
	})
	log.Info().Str("backend", cfg.Flags.Backend).Msg("feature flags service initialized")

	// Providers
	registry := resilience.NewRegistry()
	if err := middleware.ObserveCircuits(tp.Meter, registry.GetAllHealth); err != nil {
		log.Fatal().Err(err).Msg("failed to register circuit metrics")
	}

	geocoder := geocoding.NewService(geocoding.ServiceConfig{
		Provider: nominatim.NewClient(nominatim.ClientConfig{
			BaseURL:      cfg.Nominatim.BaseURL,
			CountryCodes: cfg.Nominatim.CountryCodes,
			UserAgent:    cfg.Nominatim.UserAgent,
			Email:        cfg.Nominatim.Email,
			Timeout:      cfg.Nominatim.Timeout,
			Registry:     registry,
			Logger:       log,
		}),
		Logger:   log,
		Flags:    ffService,
		Metrics:  providerMetrics,
		CacheTTL: cfg.Nominatim.CacheTTL,
	})
	defer geocoder.Close()

	if cfg.OpenChargeMap.APIKey == "" {
		log.Warn().Msg("OPENCHARGEMAP_API_KEY not set - station lookups may be rejected")
	}
	stationService := stations.NewService(stations.ServiceConfig{
		Provider: openchargemap.NewClient(openchargemap.ClientConfig{
			APIKey:   cfg.OpenChargeMap.APIKey,
			BaseURL:  cfg.OpenChargeMap.BaseURL,
			Timeout:  cfg.OpenChargeMap.Timeout,
			Registry: registry,
			Logger:   log,
		}),
		Logger:      log,
		Flags:       ffService,
		Metrics:     providerMetrics,
		RadiusMiles: cfg.OpenChargeMap.RadiusMiles,
		MaxResults:  cfg.OpenChargeMap.MaxResults,
		CountryCode: cfg.OpenChargeMap.CountryCode,
		CacheTTL:    cfg.OpenChargeMap.CacheTTL,
	})
	log.Info().
		Float64("radius_miles", stationService.RadiusMiles()).
		Int("max_results", stationService.MaxResults()).
		Msg("station directory initialized")

	// Sessions
	var store locator.Store = locator.NewMemoryStore(cfg.Sessions.TTL)
	if cfg.RedisEnabled() {
		rdb, err := locator.NewRedisClient(ctx, cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword, cfg.Sessions.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close() //nolint:errcheck // process is exiting
		store = locator.NewRedisStore(rdb, cfg.Sessions.TTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info().Str("addr", cfg.Sessions.RedisAddr).Msg("redis session store connected")
	}

	// Search events
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Logger:  log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka publisher")
		}
		publisher = kp
		log.Info().Str("topic", cfg.Kafka.Topic).Msg("search events go to kafka")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close search event publisher")
		}
	}()

	loc := locator.New(locator.Config{
		Geocoder:  geocoder,
		Directory: stationService,
		Store:     store,
		Events:    publisher,
		Flags:     ffService,
		Metrics:   searchMetrics,
		Logger:    log,
	})

	if cfg.Worker.InProcess && cfg.Worker.Interval > 0 {
		job := worker.NewWarmJob(worker.WarmJobConfig{
			Config: worker.WarmConfig{
				Concurrency: cfg.Worker.Concurrency,
				Timeout:     cfg.Worker.Timeout,
			},
			Refresher: stationService,
			Logger:    log,
		})
		go job.RunEvery(ctx, cfg.Worker.Interval)
		log.Info().Dur("interval", cfg.Worker.Interval).Msg("in-process cache warm-up started")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		ServiceName:    serviceName,
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins(),
		RequireTLS:     cfg.App.RequireTLS,
		LocateLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimits.LocatePerMinute,
			WindowLength: time.Minute,
			PerSession:   true,
		},
		StandardLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimits.StandardPerMinute,
			WindowLength: time.Minute,
		},
		Registry:           registry,
		ReadinessChecks:    checks,
		FeatureFlagService: ffService,
		Locator: handler.LocatorConfig{
			Locator:       loc,
			DeviceOptions: geocoder.DeviceOptions(),
			RadiusMiles:   stationService.RadiusMiles(),
			MaxResults:    stationService.MaxResults(),
			CountryCodes:  cfg.Nominatim.CountryCodes,
			Flags:         ffService,
			Logger:        log,
		},
		Stations: stationService,
		Geocoder: geocoder,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
