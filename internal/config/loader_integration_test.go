package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Integration tests that exercise the full pipeline:
// defaults < YAML < environment variables < CLI.

func TestLoadFrom_FullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
ledger:
  organization_id: "acme"
  reconcile_interval: 5s
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DESKGATE_PORT", "7070")
	t.Setenv("DESKGATE_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected env port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected env level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Ledger.OrganizationID != "acme" {
		t.Errorf("expected yaml organization acme, got %s", cfg.Ledger.OrganizationID)
	}
	if cfg.Ledger.ReconcileInterval != 5*time.Second {
		t.Errorf("expected yaml reconcile interval 5s, got %v", cfg.Ledger.ReconcileInterval)
	}
	if cfg.Ledger.TTL != 600*time.Second {
		t.Errorf("expected default ttl, got %v", cfg.Ledger.TTL)
	}
}

func TestLoadFrom_InvalidAfterMerge(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte("ledger:\n  store: \"redis\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error for unknown store")
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"5555\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
