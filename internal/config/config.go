// Package config loads REFLUX's environment-driven configuration, per the
// variables named in spec §6: DATABASE_URL, TRANSPORTER, RETENTION_*,
// ARTIFACT_*, OTEL_EXPORTER_OTLP_ENDPOINT, NODE_ENV.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the resolved process configuration.
type Config struct {
	DatabaseURL string
	Transporter string // e.g. "memory" or "redis://host:port"

	HTTPAddr string

	LogLevel  string
	LogFormat string

	NodeEnv string

	OTELEndpoint string

	ArtifactBackend string // "local" or "s3"
	ArtifactDir     string

	DispatchTimeout time.Duration

	Retention RetentionEnv
}

// RetentionEnv carries env overrides for the retention policy; zero values
// mean "use the documented default" (see internal/retention.DefaultPolicy).
type RetentionEnv struct {
	RunsSuccessfulDays int
	RunsFailedDays     int
	RunsCancelledDays  int
	LogsDebugDays      int
	LogsInfoDays       int
	LogsWarnDays       int
	LogsErrorDays      int
	ArtifactsDays      int
	FlowVersionsKeep   int
	FlowVersionsMinAge int
	MetricsRawDays     int
	BatchSize          int
}

// Load reads configuration from the process environment, applying defaults
// documented in spec §6/§4.4.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Transporter:     getEnvDefault("TRANSPORTER", "memory"),
		HTTPAddr:        getEnvDefault("HTTP_ADDR", ":8080"),
		LogLevel:        getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:       getEnvDefault("LOG_FORMAT", "text"),
		NodeEnv:         getEnvDefault("NODE_ENV", "development"),
		OTELEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ArtifactBackend: getEnvDefault("ARTIFACT_BACKEND", "local"),
		ArtifactDir:     getEnvDefault("ARTIFACT_DIR", "./artifacts"),
	}

	timeoutSeconds, err := getEnvInt("DISPATCH_TIMEOUT_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.DispatchTimeout = time.Duration(timeoutSeconds) * time.Second

	retention, err := loadRetentionEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Retention = retention

	if cfg.DatabaseURL == "" && cfg.NodeEnv != "test" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func loadRetentionEnv() (RetentionEnv, error) {
	var r RetentionEnv
	var err error
	if r.RunsSuccessfulDays, err = getEnvInt("RETENTION_RUNS_SUCCESSFUL_DAYS", 0); err != nil {
		return r, err
	}
	if r.RunsFailedDays, err = getEnvInt("RETENTION_RUNS_FAILED_DAYS", 0); err != nil {
		return r, err
	}
	if r.RunsCancelledDays, err = getEnvInt("RETENTION_RUNS_CANCELLED_DAYS", 0); err != nil {
		return r, err
	}
	if r.LogsDebugDays, err = getEnvInt("RETENTION_LOGS_DEBUG_DAYS", 0); err != nil {
		return r, err
	}
	if r.LogsInfoDays, err = getEnvInt("RETENTION_LOGS_INFO_DAYS", 0); err != nil {
		return r, err
	}
	if r.LogsWarnDays, err = getEnvInt("RETENTION_LOGS_WARN_DAYS", 0); err != nil {
		return r, err
	}
	if r.LogsErrorDays, err = getEnvInt("RETENTION_LOGS_ERROR_DAYS", 0); err != nil {
		return r, err
	}
	if r.ArtifactsDays, err = getEnvInt("RETENTION_ARTIFACTS_DAYS", 0); err != nil {
		return r, err
	}
	if r.FlowVersionsKeep, err = getEnvInt("RETENTION_FLOW_VERSIONS_KEEP", 0); err != nil {
		return r, err
	}
	if r.FlowVersionsMinAge, err = getEnvInt("RETENTION_FLOW_VERSIONS_MIN_AGE_DAYS", 0); err != nil {
		return r, err
	}
	if r.MetricsRawDays, err = getEnvInt("RETENTION_METRICS_RAW_DAYS", 0); err != nil {
		return r, err
	}
	if r.BatchSize, err = getEnvInt("RETENTION_BATCH_SIZE", 0); err != nil {
		return r, err
	}
	return r, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}
