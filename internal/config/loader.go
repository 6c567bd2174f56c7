package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "siteforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SITEFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "SITEFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SITEFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SITEFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SITEFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SITEFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SITEFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.AIEdit.URL, "SITEFORGE_AI_URL")
	setString(&cfg.AIEdit.APIKey, "SITEFORGE_AI_API_KEY")
	setString(&cfg.AIEdit.Model, "SITEFORGE_AI_MODEL")
	setDuration(&cfg.AIEdit.Timeout, "SITEFORGE_AI_TIMEOUT")
	setFloat64(&cfg.AIEdit.ConfidenceThreshold, "SITEFORGE_AI_CONFIDENCE_THRESHOLD")
	setString(&cfg.Logging.Level, "SITEFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SITEFORGE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "SITEFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SITEFORGE_BREAKER_TIMEOUT")
	setString(&cfg.Preview.Host, "SITEFORGE_PREVIEW_HOST")
	setInt(&cfg.Preview.PortMin, "SITEFORGE_PORT_MIN")
	setInt(&cfg.Preview.PortMax, "SITEFORGE_PORT_MAX")
	setString(&cfg.Preview.StaticURL, "SITEFORGE_STATIC_URL")
	setDuration(&cfg.Preview.CacheTTL, "SITEFORGE_PREVIEW_CACHE_TTL")
	setString(&cfg.Build.WorkspaceRoot, "SITEFORGE_WORKSPACE_ROOT")
	setDuration(&cfg.Build.StartupTimeout, "SITEFORGE_BUILD_STARTUP_TIMEOUT")
	setDuration(&cfg.Build.StopGrace, "SITEFORGE_BUILD_STOP_GRACE")
	setInt(&cfg.Build.MaxConcurrent, "SITEFORGE_BUILD_MAX_CONCURRENT")
	setInt(&cfg.Build.OutputLines, "SITEFORGE_BUILD_OUTPUT_LINES")
	setDuration(&cfg.Build.IdleWindow, "SITEFORGE_IDLE_WINDOW")
	setDuration(&cfg.Build.SweepInterval, "SITEFORGE_SWEEP_INTERVAL")
	setInt64(&cfg.Cache.MaxSizeMB, "SITEFORGE_CACHE_SIZE_MB")
	setString(&cfg.Otel.Endpoint, "SITEFORGE_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Preview.PortMin < 1 || cfg.Preview.PortMax > 65535 {
		return errors.New("preview port range must be within 1-65535")
	}
	if cfg.Preview.PortMax < cfg.Preview.PortMin {
		return errors.New("preview.port_max must be >= preview.port_min")
	}
	if cfg.AIEdit.ConfidenceThreshold < 0 || cfg.AIEdit.ConfidenceThreshold > 1 {
		return errors.New("ai_edit.confidence_threshold must be within 0-1")
	}
	if cfg.Build.MaxConcurrent < 1 {
		return errors.New("build.max_concurrent must be >= 1")
	}
	if cfg.Build.OutputLines < 1 {
		return errors.New("build.output_lines must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
