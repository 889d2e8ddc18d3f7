package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8787" {
		t.Errorf("expected port 8787, got %s", cfg.Server.Port)
	}
	if cfg.Ledger.TTL != 600*time.Second {
		t.Errorf("expected ledger ttl 600s, got %v", cfg.Ledger.TTL)
	}
	if cfg.Ledger.OrganizationID != "default-org" {
		t.Errorf("expected default-org, got %s", cfg.Ledger.OrganizationID)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Ledger.URL != "" {
		t.Errorf("remote ledger should be disabled by default, got %s", cfg.Ledger.URL)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
ledger:
  url: "http://ledger.local:8788"
  ttl: 2m
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Ledger.URL != "http://ledger.local:8788" {
		t.Errorf("expected ledger url, got %s", cfg.Ledger.URL)
	}
	if cfg.Ledger.TTL != 2*time.Minute {
		t.Errorf("expected ledger ttl 2m, got %v", cfg.Ledger.TTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Agent.URL != "http://localhost:8000" {
		t.Errorf("expected default agent URL, got %s", cfg.Agent.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
}

func TestLoadYAMLMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DESKGATE_PORT", "7070")
	t.Setenv("DESKGATE_LEDGER_URL", "http://ledger:8788")
	t.Setenv("DESKGATE_LEDGER_TTL", "90s")
	t.Setenv("DESKGATE_BREAKER_MAX_FAILURES", "9")
	t.Setenv("DESKGATE_LOG_ASYNC", "true")
	t.Setenv("DESKGATE_PG_MAX_CONNS", "not-a-number")
	t.Setenv("DESKGATE_SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")

	cfg := Defaults()
	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Ledger.URL != "http://ledger:8788" {
		t.Errorf("expected ledger url from env, got %s", cfg.Ledger.URL)
	}
	if cfg.Ledger.TTL != 90*time.Second {
		t.Errorf("expected ttl 90s, got %v", cfg.Ledger.TTL)
	}
	if cfg.Breaker.MaxFailures != 9 {
		t.Errorf("expected max failures 9, got %d", cfg.Breaker.MaxFailures)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging from env")
	}
	if cfg.Postgres.MaxConns != 10 {
		t.Errorf("invalid int should keep default 10, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Notify.SlackWebhookURL != "https://hooks.slack.test/x" {
		t.Errorf("expected slack webhook from env, got %q", cfg.Notify.SlackWebhookURL)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errStr string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server.port is required"},
		{"missing agent url", func(c *Config) { c.Agent.URL = "" }, "agent.url is required"},
		{"missing bridge", func(c *Config) { c.Host.BridgeURL = "" }, "host.bridge_url is required"},
		{"zero host concurrency", func(c *Config) { c.Host.MaxConcurrent = 0 }, "host.max_concurrent must be >= 1"},
		{"negative ttl", func(c *Config) { c.Ledger.TTL = -time.Second }, "ledger.ttl must be >= 0"},
		{"bad store", func(c *Config) { c.Ledger.Store = "sqlite" }, "ledger.store must be"},
		{"postgres without dsn", func(c *Config) { c.Postgres.DSN = "" }, "postgres.dsn is required"},
		{"zero breaker", func(c *Config) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures"},
		{"zero reconcile", func(c *Config) { c.Ledger.ReconcileInterval = 0 }, "reconcile_interval"},
		{"zero expire interval", func(c *Config) { c.Ledger.ExpireInterval = 0 }, "expire_interval"},
		{"mcp without addr", func(c *Config) { c.MCP.Enabled = true; c.MCP.Addr = "" }, "mcp.addr"},
		{"inherit global policy", func(c *Config) { c.Gate.DefaultPolicy = "inherit" }, "gate.default_policy"},
		{"unknown global policy", func(c *Config) { c.Gate.DefaultPolicy = "sometimes" }, "gate.default_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errStr) {
				t.Fatalf("expected %q in error, got %v", tt.errStr, err)
			}
		})
	}
}

func TestValidateMemoryStoreSkipsDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.Store = "memory"
	cfg.Postgres.DSN = ""
	if err := validate(&cfg); err != nil {
		t.Fatalf("memory store should not need a DSN: %v", err)
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.LedgerURL != nil {
		t.Errorf("expected nil LedgerURL, got %v", *flags.LedgerURL)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLI(t *testing.T) {
	cfg := Defaults()

	port := "3333"
	ledgerURL := "http://cli-ledger:8788"
	natsURL := "nats://cli:4222"

	applyCLI(&cfg, CLIFlags{
		Port:      &port,
		LedgerURL: &ledgerURL,
		NatsURL:   &natsURL,
	})

	if cfg.Server.Port != "3333" {
		t.Errorf("expected port 3333, got %s", cfg.Server.Port)
	}
	if cfg.Ledger.URL != ledgerURL {
		t.Errorf("expected CLI ledger URL, got %s", cfg.Ledger.URL)
	}
	if cfg.NATS.URL != natsURL {
		t.Errorf("expected CLI NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.Logging.Level != original.Logging.Level {
		t.Errorf("log level changed from %s to %s", original.Logging.Level, cfg.Logging.Level)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("DESKGATE_PORT", "7070")
	t.Setenv("DESKGATE_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error", "-c", filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}
