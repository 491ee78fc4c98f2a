// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server port
	Port string

	// Base hosts tried in priority order; semantically equivalent mirrors.
	Hosts []string

	// Provider credentials for signed requests.
	APIKey    string
	APISecret string

	// RecvWindow in milliseconds for signed requests.
	RecvWindow int64

	// Listing pagination.
	PageSize int
	MaxPages int

	// Per-request timeout.
	RequestTimeout time.Duration

	// Freshness window for the product cache.
	CacheTTL time.Duration

	// IntermediaryURL is the optional secondary aggregation service.
	IntermediaryURL string

	// Failover breaker tuning.
	FailoverThreshold int
	FailoverCooldown  time.Duration

	// Normalization defaults, overridable per request.
	MinAPRPercent   float64
	MaxStrikes      int
	StrikePrecision int32
	Durations       []int

	// Restricted-location body markers; defaults apply when empty.
	RestrictedMarkers []string

	// OpenTelemetry endpoint for observability.
	OtelEndpoint string
}

// defaultHosts are the provider's equivalent mirror hosts in preference
// order.
var defaultHosts = []string{
	"https://api.binance.com",
	"https://api1.binance.com",
	"https://api2.binance.com",
	"https://api3.binance.com",
	"https://api4.binance.com",
}

// fileConfig is the optional YAML overlay, mostly useful for pinning the
// host priority order and duration presets per deployment.
type fileConfig struct {
	Hosts             []string `yaml:"hosts"`
	Durations         []int    `yaml:"durations"`
	RestrictedMarkers []string `yaml:"restricted_markers"`
	Defaults          struct {
		MinAPRPercent   *float64 `yaml:"min_apr_percent"`
		MaxStrikes      *int     `yaml:"max_strikes"`
		StrikePrecision *int     `yaml:"strike_precision"`
	} `yaml:"defaults"`
}

// Load creates a Config from environment variables, then applies the YAML
// overlay named by CONFIG_FILE when present.
func Load() (Config, error) {
	cfg := Config{
		Port:              GetEnvOrDefault("PORT", "8080"),
		Hosts:             splitList(GetEnvOrDefault("PROVIDER_HOSTS", "")),
		APIKey:            os.Getenv("BINANCE_KEY"),
		APISecret:         os.Getenv("BINANCE_SECRET"),
		RecvWindow:        int64(GetEnvAsInt("RECV_WINDOW_MS", 60000)),
		PageSize:          GetEnvAsInt("PAGE_SIZE", 100),
		MaxPages:          GetEnvAsInt("MAX_PAGES", 3),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		CacheTTL:          GetEnvAsDuration("CACHE_TTL", 2*time.Second),
		IntermediaryURL:   os.Getenv("INTERMEDIARY_URL"),
		FailoverThreshold: GetEnvAsInt("FAILOVER_THRESHOLD", 3),
		FailoverCooldown:  GetEnvAsDuration("FAILOVER_COOLDOWN", time.Minute),
		MinAPRPercent:     GetEnvAsFloat("MIN_APR_PERCENT", 0),
		MaxStrikes:        GetEnvAsInt("MAX_STRIKES", 5),
		StrikePrecision:   int32(GetEnvAsInt("STRIKE_PRECISION", 2)),
		Durations:         splitIntList(GetEnvOrDefault("DURATIONS", "")),
		OtelEndpoint:      GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Hosts) == 0 {
		cfg.Hosts = defaultHosts
	}
	return cfg, nil
}

// applyFile overlays YAML settings onto the env-derived config.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if len(fc.Hosts) > 0 {
		c.Hosts = fc.Hosts
	}
	if len(fc.Durations) > 0 {
		c.Durations = fc.Durations
	}
	if len(fc.RestrictedMarkers) > 0 {
		c.RestrictedMarkers = fc.RestrictedMarkers
	}
	if fc.Defaults.MinAPRPercent != nil {
		c.MinAPRPercent = *fc.Defaults.MinAPRPercent
	}
	if fc.Defaults.MaxStrikes != nil {
		c.MaxStrikes = *fc.Defaults.MaxStrikes
	}
	if fc.Defaults.StrikePrecision != nil {
		c.StrikePrecision = int32(*fc.Defaults.StrikePrecision)
	}
	return nil
}

// ValidationError reports configuration that must be fixed before any
// network call is made.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// Validate checks that credentials are present. An empty secret would
// produce signatures the provider rejects, so the process refuses to
// start instead.
func (c Config) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "BINANCE_KEY")
	}
	if c.APISecret == "" {
		missing = append(missing, "BINANCE_SECRET")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// GetEnv retrieves an environment variable and whether it exists.
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value.
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value.
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// splitList parses a comma-separated list, trimming blanks.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitIntList parses a comma-separated list of integers, skipping
// anything non-numeric.
func splitIntList(raw string) []int {
	var out []int
	for _, part := range splitList(raw) {
		if v, err := strconv.Atoi(part); err == nil {
			out = append(out, v)
		}
	}
	return out
}
