package models

// Health is the body of the liveness and readiness probes.
type Health struct {
	Status  HealthStatus      `json:"status"`
	Time    Timestamp         `json:"time"`
	Version string            `json:"version,omitempty"`
	Build   string            `json:"buildTime,omitempty"`
	Failing map[string]string `json:"failing,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Subsystems []SubsystemStatus `json:"subsystems"`
	Providers  []ProviderStatus  `json:"providers"`

	// ActiveDegradationFlags lists the switched-on flags that reduce functionality.
	ActiveDegradationFlags []string `json:"activeDegradationFlags,omitempty"`
}

// SubsystemStatus is the outcome of one readiness check.
type SubsystemStatus struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latencyMs"`
	Detail    *string      `json:"detail,omitempty"`
}

// ProviderStatus reports the circuit of the geocoder or the station directory.
type ProviderStatus struct {
	Provider string       `json:"provider"`
	Status   HealthStatus `json:"status"`

	// Circuit is "closed", "half-open" or "open".
	Circuit             string     `json:"circuit"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	Trips               int        `json:"trips"`
	LastSuccessAt       *Timestamp `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp `json:"lastFailureAt,omitempty"`
	CircuitChangedAt    *Timestamp `json:"circuitChangedAt,omitempty"`
	Message             *string    `json:"message,omitempty"`
}

// FeatureFlag is one entry of GET /v1/ops/flags.
type FeatureFlag struct {
	Key         string    `json:"key"`
	Kind        string    `json:"kind"`
	Value       any       `json:"value"`
	Default     any       `json:"default"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   Timestamp `json:"updatedAt"`
}

// FeatureFlagList is the body of GET /v1/ops/flags.
type FeatureFlagList struct {
	Items []FeatureFlag `json:"items"`
}
