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
	if cfg.Protocol.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Protocol.RequestTimeout)
	}
	if cfg.Protocol.SweepInterval != 100*time.Millisecond {
		t.Errorf("SweepInterval = %v, want 100ms", cfg.Protocol.SweepInterval)
	}
	if cfg.Catalog.MaxRetries != 3 {
		t.Errorf("Catalog.MaxRetries = %d, want 3", cfg.Catalog.MaxRetries)
	}
	if cfg.Classifier.FollowUpPrecedence != FollowUpFirst {
		t.Errorf("FollowUpPrecedence = %q, want %q", cfg.Classifier.FollowUpPrecedence, FollowUpFirst)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sessions.MaxSessions != 1000 {
		t.Errorf("expected defaults, got MaxSessions=%d", cfg.Sessions.MaxSessions)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
protocol:
  request_timeout: 5s
classifier:
  follow_up_precedence: keywords_first
sessions:
  max_sessions: 10
catalog:
  base_url: "http://catalog.local:8080"
remote_agents:
  - name: "InventoryAgent"
    endpoint: "http://inventory.local:9000"
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Protocol.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.Protocol.RequestTimeout)
	}
	if cfg.Protocol.SweepInterval != 100*time.Millisecond {
		t.Errorf("SweepInterval should keep default, got %v", cfg.Protocol.SweepInterval)
	}
	if cfg.Classifier.FollowUpPrecedence != KeywordsFirst {
		t.Errorf("FollowUpPrecedence = %q", cfg.Classifier.FollowUpPrecedence)
	}
	if cfg.Sessions.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.Sessions.MaxSessions)
	}
	if len(cfg.RemoteAgents) != 1 || cfg.RemoteAgents[0].Endpoint != "http://inventory.local:9000" {
		t.Errorf("RemoteAgents mismatch: %+v", cfg.RemoteAgents)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("protocol: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected insecure permissions error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHOPASSIST_LOGGER_LEVEL", "debug")
	t.Setenv("SHOPASSIST_PROTOCOL_REQUEST_TIMEOUT", "2s")
	t.Setenv("SHOPASSIST_CLASSIFIER_FOLLOW_UP_PRECEDENCE", KeywordsFirst)
	t.Setenv("SHOPASSIST_CATALOG_BASE_URL", "http://shop.local")
	t.Setenv("SHOPASSIST_SESSIONS_MAX", "42")
	t.Setenv("SHOPASSIST_AUDIT_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Protocol.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.Protocol.RequestTimeout)
	}
	if cfg.Classifier.FollowUpPrecedence != KeywordsFirst {
		t.Errorf("FollowUpPrecedence = %q", cfg.Classifier.FollowUpPrecedence)
	}
	if cfg.Catalog.BaseURL != "http://shop.local" {
		t.Errorf("Catalog.BaseURL = %q", cfg.Catalog.BaseURL)
	}
	if cfg.Sessions.MaxSessions != 42 {
		t.Errorf("MaxSessions = %d, want 42", cfg.Sessions.MaxSessions)
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled should be true")
	}
}

func TestEnvOverridesIgnoresBadDuration(t *testing.T) {
	t.Setenv("SHOPASSIST_PROTOCOL_REQUEST_TIMEOUT", "soon")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Protocol.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want default", cfg.Protocol.RequestTimeout)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "s3cret-token" {
		t.Errorf("got %q, want %q", got, "s3cret-token")
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueInvalidFormat(t *testing.T) {
	for _, in := range []string{"nocolon", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "p"); err == nil {
			t.Errorf("DecryptValue(%q) should fail", in)
		}
	}
}

func TestDecryptSecrets(t *testing.T) {
	enc, err := EncryptValue("remote-token", "key")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	cfg.RemoteAgents = []RemoteAgentConfig{{Name: "a", Endpoint: "http://a", Token: "enc:" + enc}}
	cfg.Catalog.APIKey = "plain"

	if err := decryptSecrets(cfg, "key"); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.RemoteAgents[0].Token != "remote-token" {
		t.Errorf("Token = %q", cfg.RemoteAgents[0].Token)
	}
	if cfg.Catalog.APIKey != "plain" {
		t.Errorf("non-encrypted value changed: %q", cfg.Catalog.APIKey)
	}
}
