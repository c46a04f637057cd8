package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clrevo/clrevo/internal/geo"
)

// Refresher replaces the cached stations around a centre. Satisfied by *stations.Service.
type Refresher interface {
	Refresh(ctx context.Context, center geo.Coordinate) (int, error)
}

// WarmJob refreshes the station cache for every configured point.
type WarmJob struct {
	config    WarmConfig
	refresher Refresher
	logger    zerolog.Logger

	mu      sync.Mutex
	metrics WarmMetrics
}

// WarmMetrics tracks job statistics across runs.
type WarmMetrics struct {
	Runs           int64
	PointsWarmed   int64
	PointsFailed   int64
	StationsCached int64
	LastRunAt      time.Time
	LastDuration   time.Duration
}

// WarmJobConfig holds the dependencies of a WarmJob.
type WarmJobConfig struct {
	Config    WarmConfig
	Refresher Refresher
	Logger    zerolog.Logger
}

// NewWarmJob creates a warm-up job, filling unset config with defaults.
func NewWarmJob(cfg WarmJobConfig) *WarmJob {
	defaults := DefaultWarmConfig()
	if len(cfg.Config.Targets) == 0 {
		cfg.Config.Targets = defaults.Targets
	}
	if cfg.Config.Concurrency <= 0 {
		cfg.Config.Concurrency = defaults.Concurrency
	}
	if cfg.Config.Timeout <= 0 {
		cfg.Config.Timeout = defaults.Timeout
	}

	return &WarmJob{
		config:    cfg.Config,
		refresher: cfg.Refresher,
		logger:    cfg.Logger,
	}
}

// WarmResult summarises one run.
type WarmResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	TotalPoints    int
	Successful     int
	Failed         int
	Skipped        int
	StationsCached int
	Errors         []WarmError
}

// WarmError records a failed point.
type WarmError struct {
	Point geo.Coordinate
	Error string
}

// Run refreshes every point with bounded concurrency. Points not started before ctx
// is done are counted as skipped.
func (j *WarmJob) Run(ctx context.Context) *WarmResult {
	points := j.config.AllPoints()
	result := &WarmResult{
		StartTime:   time.Now(),
		TotalPoints: len(points),
	}

	j.logger.Info().
		Int("total_points", result.TotalPoints).
		Int("concurrency", j.config.Concurrency).
		Msg("starting station cache warm-up")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(j.config.Concurrency)

	for _, p := range points {
		if ctx.Err() != nil {
			result.Skipped++
			continue
		}
		g.Go(func() error {
			n, err := j.warmPoint(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, WarmError{Point: p, Error: err.Error()})
				return nil
			}
			result.Successful++
			result.StationsCached += n
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // point errors are collected in result

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	j.record(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("stations_cached", result.StationsCached).
		Msg("station cache warm-up completed")

	return result
}

// RunEvery runs the job immediately and then on every tick until ctx is done.
func (j *WarmJob) RunEvery(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// Probe refreshes a single point to check that the station directory is reachable.
func (j *WarmJob) Probe(ctx context.Context) error {
	points := j.config.AllPoints()
	if len(points) == 0 {
		return nil
	}
	_, err := j.warmPoint(ctx, points[0])
	return err
}

func (j *WarmJob) warmPoint(ctx context.Context, p geo.Coordinate) (int, error) {
	pointCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	n, err := j.refresher.Refresh(pointCtx, p)
	if err != nil {
		j.logger.Warn().Err(err).
			Float64("lat", p.Lat).
			Float64("lon", p.Lon).
			Msg("failed to warm point")
	}
	return n, err
}

func (j *WarmJob) record(r *WarmResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.metrics.Runs++
	j.metrics.PointsWarmed += int64(r.Successful)
	j.metrics.PointsFailed += int64(r.Failed)
	j.metrics.StationsCached += int64(r.StationsCached)
	j.metrics.LastRunAt = r.StartTime
	j.metrics.LastDuration = r.Duration
}

// Metrics returns a snapshot of job statistics.
func (j *WarmJob) Metrics() WarmMetrics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metrics
}

// MetricsSnapshot returns job statistics in a JSON-friendly form.
func (j *WarmJob) MetricsSnapshot() map[string]any {
	m := j.Metrics()
	snapshot := map[string]any{
		"runs":            m.Runs,
		"points_warmed":   m.PointsWarmed,
		"points_failed":   m.PointsFailed,
		"stations_cached": m.StationsCached,
	}
	if !m.LastRunAt.IsZero() {
		snapshot["last_run_at"] = m.LastRunAt.Format(time.RFC3339)
		snapshot["last_duration_ms"] = m.LastDuration.Milliseconds()
	}
	return snapshot
}
