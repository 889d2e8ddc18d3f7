package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/deskgate/internal/domain/policy"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "deskgate.yaml"

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

// loadEnv overrides config fields from DESKGATE_* environment variables.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DESKGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "DESKGATE_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxBodySize, "DESKGATE_MAX_BODY_SIZE")

	setString(&cfg.Agent.Backend, "DESKGATE_AGENT_BACKEND")
	setString(&cfg.Agent.URL, "DESKGATE_AGENT_URL")
	setString(&cfg.Agent.UserID, "DESKGATE_AGENT_USER_ID")
	setBool(&cfg.Agent.UseMemory, "DESKGATE_AGENT_USE_MEMORY")
	setDuration(&cfg.Agent.SubmitTimeout, "DESKGATE_AGENT_SUBMIT_TIMEOUT")

	setString(&cfg.Host.BridgeURL, "DESKGATE_HOST_BRIDGE_URL")
	setDuration(&cfg.Host.Timeout, "DESKGATE_HOST_TIMEOUT")
	setInt(&cfg.Host.MaxConcurrent, "DESKGATE_HOST_MAX_CONCURRENT")

	setString(&cfg.Ledger.URL, "DESKGATE_LEDGER_URL")
	setString(&cfg.Ledger.Port, "DESKGATE_LEDGER_PORT")
	setString(&cfg.Ledger.Store, "DESKGATE_LEDGER_STORE")
	setString(&cfg.Ledger.OrganizationID, "DESKGATE_ORGANIZATION_ID")
	setString(&cfg.Ledger.Source, "DESKGATE_LEDGER_SOURCE")
	setDuration(&cfg.Ledger.TTL, "DESKGATE_LEDGER_TTL")
	setDuration(&cfg.Ledger.Timeout, "DESKGATE_LEDGER_TIMEOUT")
	setDuration(&cfg.Ledger.ReconcileInterval, "DESKGATE_LEDGER_RECONCILE_INTERVAL")
	setDuration(&cfg.Ledger.ExpireInterval, "DESKGATE_LEDGER_EXPIRE_INTERVAL")

	setString(&cfg.Gate.DefaultPolicy, "DESKGATE_DEFAULT_POLICY")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DESKGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DESKGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DESKGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DESKGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DESKGATE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setInt64(&cfg.Cache.L1MaxBytes, "DESKGATE_CACHE_L1_MAX_BYTES")
	setString(&cfg.Cache.L2Bucket, "DESKGATE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "DESKGATE_CACHE_TTL")

	setString(&cfg.Preferences.Path, "DESKGATE_PREFERENCES_PATH")

	setBool(&cfg.MCP.Enabled, "DESKGATE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "DESKGATE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "DESKGATE_MCP_API_KEY")

	setString(&cfg.Notify.SlackWebhookURL, "DESKGATE_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.PanelURL, "DESKGATE_PANEL_URL")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "DESKGATE_OTEL_INSECURE")

	setString(&cfg.Logging.Level, "DESKGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DESKGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DESKGATE_LOG_ASYNC")
	setInt(&cfg.Logging.BufferSize, "DESKGATE_LOG_BUFFER_SIZE")
	setInt(&cfg.Logging.Workers, "DESKGATE_LOG_WORKERS")

	setInt(&cfg.Breaker.MaxFailures, "DESKGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DESKGATE_BREAKER_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MaxBodySize < 1 {
		return errors.New("server.max_body_size must be >= 1")
	}
	if cfg.Agent.URL == "" {
		return errors.New("agent.url is required")
	}
	if cfg.Host.BridgeURL == "" {
		return errors.New("host.bridge_url is required")
	}
	if cfg.Host.MaxConcurrent < 1 {
		return errors.New("host.max_concurrent must be >= 1")
	}
	if cfg.Ledger.TTL < 0 {
		return errors.New("ledger.ttl must be >= 0")
	}
	switch cfg.Ledger.Store {
	case "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required when ledger.store is postgres")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("ledger.store must be postgres or memory, got %q", cfg.Ledger.Store)
	}
	if cfg.Ledger.ReconcileInterval <= 0 {
		return errors.New("ledger.reconcile_interval must be > 0")
	}
	if cfg.Ledger.ExpireInterval <= 0 {
		return errors.New("ledger.expire_interval must be > 0")
	}
	if err := policy.ValidateGlobal(policy.Policy(cfg.Gate.DefaultPolicy)); err != nil {
		return fmt.Errorf("gate.default_policy: %w", err)
	}
	if cfg.Cache.L1MaxBytes < 1 {
		return errors.New("cache.l1_max_bytes must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.MCP.Enabled && cfg.MCP.Addr == "" {
		return errors.New("mcp.addr is required when mcp is enabled")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
