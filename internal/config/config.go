// Package config loads service configuration from an optional .env file, an optional
// YAML file named by CONFIG_FILE, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/clrevo/clrevo/internal/database"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "CONFIG_FILE"

// Feature flag backends.
const (
	FlagsBackendMemory   = "memory"
	FlagsBackendPostgres = "postgres"
)

// App holds process level settings.
type App struct {
	Port           string `yaml:"port" env:"APP_PORT"`
	Env            string `yaml:"env" env:"APP_ENV"`
	AllowedOrigins string `yaml:"allowedOrigins" env:"APP_ALLOWED_ORIGINS"`
	RequireTLS     bool   `yaml:"requireTLS" env:"REQUIRE_TLS"`
}

// Nominatim configures the postal code geocoder.
type Nominatim struct {
	BaseURL      string        `yaml:"baseURL" env:"NOMINATIM_BASE_URL"`
	CountryCodes string        `yaml:"countryCodes" env:"NOMINATIM_COUNTRY_CODES"`
	UserAgent    string        `yaml:"userAgent" env:"NOMINATIM_USER_AGENT"`
	Email        string        `yaml:"email" env:"NOMINATIM_EMAIL"`
	Timeout      time.Duration `yaml:"timeout" env:"NOMINATIM_TIMEOUT"`
	CacheTTL     time.Duration `yaml:"cacheTTL" env:"NOMINATIM_CACHE_TTL"`
}

// OpenChargeMap configures the station directory.
type OpenChargeMap struct {
	APIKey      string        `yaml:"apiKey" env:"OPENCHARGEMAP_API_KEY"`
	BaseURL     string        `yaml:"baseURL" env:"OPENCHARGEMAP_BASE_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"OPENCHARGEMAP_TIMEOUT"`
	CountryCode string        `yaml:"countryCode" env:"STATIONS_COUNTRY_CODE"`
	RadiusMiles float64       `yaml:"radiusMiles" env:"STATIONS_RADIUS_MILES"`
	MaxResults  int           `yaml:"maxResults" env:"STATIONS_MAX_RESULTS"`
	CacheTTL    time.Duration `yaml:"cacheTTL" env:"STATIONS_CACHE_TTL"`
}

// Sessions configures locator session storage. An empty RedisAddr keeps sessions in memory.
type Sessions struct {
	TTL           time.Duration `yaml:"ttl" env:"SESSION_TTL"`
	RedisAddr     string        `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redisDB" env:"REDIS_DB"`
}

// Kafka configures search event publishing. Empty Brokers disables it.
type Kafka struct {
	Brokers string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string `yaml:"topic" env:"KAFKA_SEARCH_TOPIC"`
}

// Flags configures the feature flag repository.
type Flags struct {
	Backend  string        `yaml:"backend" env:"FEATURE_FLAGS_BACKEND"`
	CacheTTL time.Duration `yaml:"cacheTTL" env:"FEATURE_FLAGS_CACHE_TTL"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled" env:"OTEL_ENABLED"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio  float64 `yaml:"sampleRatio" env:"OTEL_SAMPLE_RATIO"`
	Insecure     bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// PubSub configures the worker trigger subscription. Empty Subscription uses a ticker.
type PubSub struct {
	ProjectID    string `yaml:"projectID" env:"PUBSUB_PROJECT_ID"`
	Subscription string `yaml:"subscription" env:"PUBSUB_SUBSCRIPTION"`
}

// Worker configures cache warm-up. InProcess also runs warm-up inside the API,
// whose station cache is local to the process.
type Worker struct {
	Interval    time.Duration `yaml:"interval" env:"WORKER_INTERVAL"`
	Concurrency int           `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	Timeout     time.Duration `yaml:"timeout" env:"WORKER_POINT_TIMEOUT"`
	InProcess   bool          `yaml:"inProcess" env:"WORKER_IN_PROCESS"`
}

// RateLimits sets per-minute request budgets. Zero keeps the built-in default.
type RateLimits struct {
	LocatePerMinute   int `yaml:"locatePerMinute" env:"RATE_LIMIT_LOCATE_PER_MINUTE"`
	StandardPerMinute int `yaml:"standardPerMinute" env:"RATE_LIMIT_STANDARD_PER_MINUTE"`
}

// Config is the full service configuration.
type Config struct {
	App           App             `yaml:"app"`
	Nominatim     Nominatim       `yaml:"nominatim"`
	OpenChargeMap OpenChargeMap   `yaml:"openChargeMap"`
	Sessions      Sessions        `yaml:"sessions"`
	Kafka         Kafka           `yaml:"kafka"`
	Flags         Flags           `yaml:"flags"`
	Database      database.Config `yaml:"database"`
	Telemetry     Telemetry       `yaml:"telemetry"`
	PubSub        PubSub          `yaml:"pubsub"`
	Worker        Worker          `yaml:"worker"`
	RateLimits    RateLimits      `yaml:"rateLimits"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		App: App{
			Port: "8080",
			Env:  "development",
		},
		Nominatim: Nominatim{
			CountryCodes: "us",
			Timeout:      10 * time.Second,
			CacheTTL:     24 * time.Hour,
		},
		OpenChargeMap: OpenChargeMap{
			Timeout:     10 * time.Second,
			CountryCode: "US",
			RadiusMiles: 15,
			MaxResults:  50,
			CacheTTL:    5 * time.Minute,
		},
		Sessions: Sessions{
			TTL: 30 * time.Minute,
		},
		Kafka: Kafka{
			Topic: "locator.searches",
		},
		Flags: Flags{
			Backend:  FlagsBackendMemory,
			CacheTTL: time.Minute,
		},
		Database: database.DefaultConfig(),
		Telemetry: Telemetry{
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1,
			Insecure:     true,
		},
		Worker: Worker{
			Interval:    10 * time.Minute,
			Concurrency: 4,
			Timeout:     20 * time.Second,
		},
	}
}

// Load reads .env, the CONFIG_FILE YAML and the environment on top of Default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if err := LoadInto(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.App.Port) == "" {
		errs = append(errs, errors.New("app port is required"))
	}
	if c.OpenChargeMap.RadiusMiles <= 0 {
		errs = append(errs, fmt.Errorf("station radius must be positive, got %v", c.OpenChargeMap.RadiusMiles))
	}
	if c.OpenChargeMap.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("station max results must be positive, got %d", c.OpenChargeMap.MaxResults))
	}
	switch c.Flags.Backend {
	case FlagsBackendMemory, FlagsBackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown feature flag backend %q", c.Flags.Backend))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if c.RateLimits.LocatePerMinute < 0 || c.RateLimits.StandardPerMinute < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.Worker.Interval <= 0 {
		errs = append(errs, fmt.Errorf("worker interval must be positive, got %v", c.Worker.Interval))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("trace sample ratio must be within [0, 1], got %v", c.Telemetry.SampleRatio))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HTTPAddress returns the listen address in :port form.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.App.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// KafkaEnabled reports whether search events go to Kafka.
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.Kafka.Brokers) != ""
}

// RedisEnabled reports whether sessions are stored in Redis.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Sessions.RedisAddr) != ""
}

// AllowedOrigins splits App.AllowedOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.App.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return data, nil
}
