// Package main provides the entrypoint for the station cache warm-up worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/api/middleware"
	"github.com/clrevo/clrevo/internal/api/response"
	"github.com/clrevo/clrevo/internal/config"
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
	const serviceName = "clrevo-worker"

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

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Msg("starting CLREVO warm-up worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	registry := resilience.NewRegistry()
	if err := middleware.ObserveCircuits(tp.Meter, registry.GetAllHealth); err != nil {
		log.Fatal().Err(err).Msg("failed to register circuit metrics")
	}

	directory := stations.NewService(stations.ServiceConfig{
		Provider: openchargemap.NewClient(openchargemap.ClientConfig{
			APIKey:   cfg.OpenChargeMap.APIKey,
			BaseURL:  cfg.OpenChargeMap.BaseURL,
			Timeout:  cfg.OpenChargeMap.Timeout,
			Registry: registry,
			Logger:   log,
		}),
		Logger:      log,
		Metrics:     providerMetrics,
		RadiusMiles: cfg.OpenChargeMap.RadiusMiles,
		MaxResults:  cfg.OpenChargeMap.MaxResults,
		CountryCode: cfg.OpenChargeMap.CountryCode,
		CacheTTL:    cfg.OpenChargeMap.CacheTTL,
	})

	job := worker.NewWarmJob(worker.WarmJobConfig{
		Config: worker.WarmConfig{
			Concurrency: cfg.Worker.Concurrency,
			Timeout:     cfg.Worker.Timeout,
		},
		Refresher: directory,
		Logger:    log,
	})

	// Health endpoint for Cloud Run
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"status":    "healthy",
			"version":   Version,
			"providers": registry.GetAllHealth(),
			"warmup":    job.MetricsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health endpoint listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("health server error")
		}
	}()

	if cfg.PubSub.Subscription != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Dispatcher:       worker.NewDispatcher(job, log),
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pub/sub handler")
		}
		defer handler.Close() //nolint:errcheck // process is exiting

		log.Info().
			Str("project", cfg.PubSub.ProjectID).
			Str("subscription", cfg.PubSub.Subscription).
			Msg("waiting for trigger messages")
		if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pub/sub receive stopped")
		}
	} else {
		log.Info().Dur("interval", cfg.Worker.Interval).Msg("warming on a fixed interval")
		job.RunEvery(ctx, cfg.Worker.Interval)
	}

	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
