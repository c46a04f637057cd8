package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a point-in-time view of one provider.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
	LastError      string
	StateChangedAt *time.Time

	// ConsecutiveFailures counts failed calls since the last success.
	ConsecutiveFailures int

	// Trips counts how often the circuit has opened since start.
	Trips int
}

// IsHealthy reports a closed circuit.
func (h *ProviderHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded reports a half-open circuit.
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy reports an open circuit.
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks provider clients and the outcome of their calls.
type Registry struct {
	mu        sync.Mutex
	providers map[string]*providerRecord
	now       func() time.Time
}

type providerRecord struct {
	client              *Client
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastError           string
	stateChangedAt      *time.Time
	consecutiveFailures int
	trips               int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*providerRecord),
		now:       time.Now,
	}
}

// Register adds or replaces the client for name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &providerRecord{client: client}
}

// RecordSuccess notes a successful call.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(p *providerRecord, now time.Time) {
		p.lastSuccessAt = &now
		p.consecutiveFailures = 0
	})
}

// RecordFailure notes a failed call and its error.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(p *providerRecord, now time.Time) {
		p.lastFailureAt = &now
		p.consecutiveFailures++
		if err != nil {
			p.lastError = err.Error()
		}
	})
}

// RecordStateChange notes a circuit transition.
func (r *Registry) RecordStateChange(name string, to gobreaker.State) {
	r.update(name, func(p *providerRecord, now time.Time) {
		p.stateChangedAt = &now
		if to == gobreaker.StateOpen {
			p.trips++
		}
	})
}

func (r *Registry) update(name string, fn func(*providerRecord, time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		fn(p, r.now())
	}
}

// GetHealth returns the health of one provider, or nil if it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.Lock()
	p, ok := r.providers[name]
	var rec providerRecord
	if ok {
		rec = *p
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return rec.health(name)
}

// GetAllHealth returns the health of every provider, sorted by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.Lock()
	names := make([]string, 0, len(r.providers))
	recs := make(map[string]providerRecord, len(r.providers))
	for name, p := range r.providers {
		names = append(names, name)
		recs[name] = *p
	}
	r.mu.Unlock()

	sort.Strings(names)
	out := make([]*ProviderHealth, 0, len(names))
	for _, name := range names {
		rec := recs[name]
		out = append(out, rec.health(name))
	}
	return out
}

// health reads the breaker outside the registry lock. Reading the state can
// fire a transition, which calls back into the registry.
func (p *providerRecord) health(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:                name,
		CircuitState:        p.client.BreakerState(),
		Counts:              p.client.BreakerCounts(),
		LastSuccessAt:       p.lastSuccessAt,
		LastFailureAt:       p.lastFailureAt,
		LastError:           p.lastError,
		StateChangedAt:      p.stateChangedAt,
		ConsecutiveFailures: p.consecutiveFailures,
		Trips:               p.trips,
	}
}
