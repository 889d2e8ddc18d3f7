package secrets_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/deskgate/internal/secrets"
)

func static(vals map[string]string) secrets.Loader {
	return func() (map[string]string, error) { return vals, nil }
}

func TestNewVault(t *testing.T) {
	v, err := secrets.NewVault(static(map[string]string{secrets.MCPAPIKey: "panel-key"}))
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get(secrets.MCPAPIKey); got != "panel-key" {
		t.Fatalf("expected panel-key, got %q", got)
	}
	if got := v.Get("MISSING"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}

	_, err = secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVaultReload(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		calls++
		switch calls {
		case 1:
			return map[string]string{secrets.MCPAPIKey: "old"}, nil
		case 2:
			return map[string]string{secrets.MCPAPIKey: "new"}, nil
		default:
			return nil, errors.New("vault unavailable")
		}
	})
	key := v.Getter(secrets.MCPAPIKey)

	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := key(); got != "new" {
		t.Fatalf("getter should see the reloaded value, got %q", got)
	}
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := key(); got != "new" {
		t.Fatalf("failed reload must keep values, got %q", got)
	}
}

func TestVaultConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(static(map[string]string{"K": "V"}))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVaultRedaction(t *testing.T) {
	v, _ := secrets.NewVault(static(map[string]string{
		secrets.SlackWebhookURL: "https://hooks.slack.com/services/T0/B0/xyz",
		secrets.MCPAPIKey:       "ab",
	}))

	tests := []struct {
		key  string
		want string
	}{
		{secrets.SlackWebhookURL, "ht****"},
		{secrets.MCPAPIKey, "****"},
		{"MISSING", ""},
	}
	for _, tt := range tests {
		if got := v.Redacted(tt.key); got != tt.want {
			t.Errorf("Redacted(%s) = %q, want %q", tt.key, got, tt.want)
		}
	}

	msg := v.RedactString("post to https://hooks.slack.com/services/T0/B0/xyz failed")
	if strings.Contains(msg, "xyz") || !strings.Contains(msg, "ht****") {
		t.Errorf("webhook not redacted in %q", msg)
	}
	if got := v.RedactString("ab is too short to mask"); got != "ab is too short to mask" {
		t.Errorf("short secrets must not be replaced, got %q", got)
	}

	if keys := v.Keys(); len(keys) != 2 || keys[0] != secrets.MCPAPIKey {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestEnvLoader(t *testing.T) {
	t.Setenv(secrets.MCPAPIKey, "from-env")
	loader := secrets.EnvLoader(map[string]string{
		secrets.MCPAPIKey:       "from-config",
		secrets.SlackWebhookURL: "https://hooks.example/config",
	}, secrets.MCPAPIKey, secrets.SlackWebhookURL, "DESKGATE_UNSET_SECRET")

	vals, err := loader()
	if err != nil {
		t.Fatalf("EnvLoader failed: %v", err)
	}
	if vals[secrets.MCPAPIKey] != "from-env" {
		t.Fatalf("env should win over config, got %q", vals[secrets.MCPAPIKey])
	}
	if vals[secrets.SlackWebhookURL] != "https://hooks.example/config" {
		t.Fatalf("expected config fallback, got %q", vals[secrets.SlackWebhookURL])
	}
	if _, ok := vals["DESKGATE_UNSET_SECRET"]; ok {
		t.Fatal("expected unset secret to be omitted")
	}
}
