// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string

	// Sample store. An empty DatabaseURL selects the embedded SQLite store.
	DatabaseURL string
	SQLitePath  string
	Retention   time.Duration // raw samples older than this are purged; 0 keeps them

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Ingestion.
	MaxBatchSamples    int
	IngestBufferSize   int
	IngestFlushTimeout time.Duration
	DedupeTTL          time.Duration

	// Aggregation.
	Window                 time.Duration
	WindowGrace            time.Duration
	MaterializeInterval    time.Duration
	MaterializeParallelism int
	HistorySize            int
	TrendEpsilon           float64 // percent
	OutlierPolicy          string
	ThresholdsFile         string

	// Rate limiting for the ingestion endpoint.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. Every unparsable or invalid value is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.Port, err = envInt("VITALS_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("VITALS_READ_TIMEOUT", 15*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("VITALS_WRITE_TIMEOUT", 15*time.Second)
	collect(err)
	maxBody, err := envInt("VITALS_MAX_REQUEST_BODY_BYTES", 64*1024)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.CORSAllowedOrigins = envList("VITALS_CORS_ALLOWED_ORIGINS", []string{"*"})

	cfg.DatabaseURL = envStr("DATABASE_URL", "")
	cfg.SQLitePath = envStr("VITALS_SQLITE_PATH", "vitals.db")
	cfg.Retention, err = envDuration("VITALS_RETENTION", 7*24*time.Hour)
	collect(err)

	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "vitals")
	cfg.OTELInsecure, err = envBool("OTEL_INSECURE", false)
	collect(err)

	cfg.MaxBatchSamples, err = envInt("VITALS_MAX_BATCH_SAMPLES", 100)
	collect(err)
	cfg.IngestBufferSize, err = envInt("VITALS_INGEST_BUFFER_SIZE", 500)
	collect(err)
	cfg.IngestFlushTimeout, err = envDuration("VITALS_INGEST_FLUSH_TIMEOUT", time.Second)
	collect(err)
	cfg.DedupeTTL, err = envDuration("VITALS_DEDUPE_TTL", 30*time.Minute)
	collect(err)

	cfg.Window, err = envDuration("VITALS_WINDOW", time.Hour)
	collect(err)
	cfg.WindowGrace, err = envDuration("VITALS_WINDOW_GRACE", 30*time.Second)
	collect(err)
	cfg.MaterializeInterval, err = envDuration("VITALS_MATERIALIZE_INTERVAL", time.Minute)
	collect(err)
	cfg.MaterializeParallelism, err = envInt("VITALS_MATERIALIZE_PARALLELISM", 8)
	collect(err)
	cfg.HistorySize, err = envInt("VITALS_HISTORY_SIZE", 24)
	collect(err)
	cfg.TrendEpsilon, err = envFloat("VITALS_TREND_EPSILON", 1.0)
	collect(err)
	cfg.OutlierPolicy = strings.ToLower(envStr("VITALS_OUTLIER_POLICY", "none"))
	cfg.ThresholdsFile = envStr("VITALS_THRESHOLDS_FILE", "")

	cfg.RateLimitEnabled, err = envBool("VITALS_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("VITALS_RATE_LIMIT_RPS", 20)
	collect(err)
	cfg.RateLimitBurst, err = envInt("VITALS_RATE_LIMIT_BURST", 40)
	collect(err)

	cfg.LogLevel = envStr("VITALS_LOG_LEVEL", "info")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are in range and mutually consistent.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("VITALS_PORT must be in 1-65535 (got %d)", c.Port))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("VITALS_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("one of DATABASE_URL or VITALS_SQLITE_PATH is required"))
	}
	if c.Retention < 0 {
		errs = append(errs, errors.New("VITALS_RETENTION must not be negative"))
	}
	if c.MaxBatchSamples <= 0 {
		errs = append(errs, errors.New("VITALS_MAX_BATCH_SAMPLES must be positive"))
	}
	if c.IngestBufferSize <= 0 {
		errs = append(errs, errors.New("VITALS_INGEST_BUFFER_SIZE must be positive"))
	}
	if c.IngestFlushTimeout <= 0 {
		errs = append(errs, errors.New("VITALS_INGEST_FLUSH_TIMEOUT must be positive"))
	}
	if c.DedupeTTL <= 0 {
		errs = append(errs, errors.New("VITALS_DEDUPE_TTL must be positive"))
	}
	if c.Window < time.Minute {
		errs = append(errs, fmt.Errorf("VITALS_WINDOW must be at least 1m (got %s)", c.Window))
	}
	if c.WindowGrace < 0 || c.WindowGrace >= c.Window {
		errs = append(errs, fmt.Errorf("VITALS_WINDOW_GRACE must be in [0, VITALS_WINDOW) (got %s)", c.WindowGrace))
	}
	if c.MaterializeInterval <= 0 {
		errs = append(errs, errors.New("VITALS_MATERIALIZE_INTERVAL must be positive"))
	}
	if c.MaterializeParallelism <= 0 {
		errs = append(errs, errors.New("VITALS_MATERIALIZE_PARALLELISM must be positive"))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, errors.New("VITALS_HISTORY_SIZE must be positive"))
	}
	if c.TrendEpsilon < 0 {
		errs = append(errs, errors.New("VITALS_TREND_EPSILON must not be negative"))
	}
	switch c.OutlierPolicy {
	case "none", "clamp", "discard":
	default:
		errs = append(errs, fmt.Errorf("VITALS_OUTLIER_POLICY must be none, clamp, or discard (got %q)", c.OutlierPolicy))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("VITALS_RATE_LIMIT_RPS and VITALS_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// UseSQLite reports whether the embedded store is selected.
func (c Config) UseSQLite() bool {
	return c.DatabaseURL == ""
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
