// Package handler provides HTTP handlers for the CLREVO locator API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/api/response"
	"github.com/clrevo/clrevo/internal/featureflags"
	"github.com/clrevo/clrevo/internal/provider/resilience"
)

const checkTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// DegradationFlags reports whether a boolean flag is switched on.
type DegradationFlags interface {
	IsEnabled(ctx context.Context, key string) bool
}

// degradationKeys are the flags that reduce functionality when enabled.
var degradationKeys = []string{
	featureflags.FlagDisableDeviceLocation,
	featureflags.FlagCachedOnlyStations,
	featureflags.FlagDisableSearchEvents,
}

// OpsConfig holds the dependencies of OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry supplies provider health (optional).
	Registry *resilience.Registry

	// Checks are run by the readiness and status endpoints, keyed by subsystem name.
	Checks map[string]Check

	// Flags lists active degradations on the status endpoint (optional).
	Flags DegradationFlags
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	checks    map[string]Check
	flags     DegradationFlags
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		checks:    cfg.Checks,
		flags:     cfg.Flags,
	}
}

// HealthCheck handles GET /v1/ops/health. It only reports that the process serves.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.NewTimestamp(time.Now()),
		Version: h.version,
		Build:   h.buildTime,
	})
}

// ReadinessCheck handles GET /v1/ops/ready and fails when any dependency check fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.NewTimestamp(time.Now()),
		Version: h.version,
	}
	for _, s := range h.runChecks(r.Context()) {
		if s.Status == models.HealthStatusOK {
			continue
		}
		health.Status = models.HealthStatusFail
		if health.Failing == nil {
			health.Failing = make(map[string]string)
		}
		health.Failing[s.Name] = *s.Detail
	}

	status := http.StatusOK
	if health.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.NewTimestamp(time.Now()),
		Subsystems: h.runChecks(r.Context()),
		Providers:  h.providerStatuses(),
	}

	for _, s := range status.Subsystems {
		status.Status = status.Status.Worse(s.Status)
	}
	// Cached stations and the fallback map still work while a provider is down.
	for _, p := range status.Providers {
		if p.Status != models.HealthStatusOK {
			status.Status = status.Status.Worse(models.HealthStatusDegraded)
		}
	}

	if h.flags != nil {
		for _, key := range degradationKeys {
			if h.flags.IsEnabled(r.Context(), key) {
				status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, key)
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) runChecks(ctx context.Context) []models.SubsystemStatus {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.SubsystemStatus, 0, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		started := time.Now()
		err := h.checks[name](checkCtx)
		cancel()

		s := models.SubsystemStatus{
			Name:      name,
			Status:    models.HealthStatusOK,
			LatencyMs: time.Since(started).Milliseconds(),
		}
		if err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.registry.GetAllHealth()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, ph := range all {
		ps := models.ProviderStatus{
			Provider:            ph.Name,
			Status:              models.HealthStatusOK,
			Circuit:             ph.CircuitState.String(),
			ConsecutiveFailures: ph.ConsecutiveFailures,
			Trips:               ph.Trips,
			LastSuccessAt:       models.TimestampPtr(ph.LastSuccessAt),
			LastFailureAt:       models.TimestampPtr(ph.LastFailureAt),
			CircuitChangedAt:    models.TimestampPtr(ph.StateChangedAt),
		}
		switch {
		case ph.IsUnhealthy():
			ps.Status = models.HealthStatusFail
		case ph.IsDegraded():
			ps.Status = models.HealthStatusDegraded
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}
