package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger       LoggerConfig        `yaml:"logger"`
	Tracer       TracerConfig        `yaml:"tracer"`
	Protocol     ProtocolConfig      `yaml:"protocol"`
	Classifier   ClassifierConfig    `yaml:"classifier"`
	Sessions     SessionsConfig      `yaml:"sessions"`
	Catalog      CatalogConfig       `yaml:"catalog"`
	Server       ServerConfig        `yaml:"server"`
	RemoteAgents []RemoteAgentConfig `yaml:"remote_agents,omitempty"`
	Audit        AuditConfig         `yaml:"audit"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// ProtocolConfig holds A2A dispatcher settings.
type ProtocolConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// HealthSchedule logs a protocol health report on a cron expression or
	// duration ("5m"). Empty disables it.
	HealthSchedule string `yaml:"health_schedule,omitempty"`
}

// Follow-up precedence modes for the intent classifier.
const (
	FollowUpFirst = "follow_up_first"
	KeywordsFirst = "keywords_first"
)

// ClassifierConfig holds intent classification settings.
type ClassifierConfig struct {
	FollowUpPrecedence string `yaml:"follow_up_precedence"`
}

// SessionsConfig bounds the per-session conversation store.
type SessionsConfig struct {
	MaxSessions int           `yaml:"max_sessions"`
	TTL         time.Duration `yaml:"ttl"`
	MaxTurns    int           `yaml:"max_turns"`
}

// CatalogConfig configures the storefront catalog client.
// An empty BaseURL serves the built-in demo catalog.
type CatalogConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	FailMax      int           `yaml:"fail_max"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
	// A2AToken, when set, is required as a Bearer token on /a2a/ routes.
	A2AToken string `yaml:"a2a_token,omitempty"`
}

// RemoteAgentConfig registers an out-of-process agent by endpoint.
type RemoteAgentConfig struct {
	Name           string        `yaml:"name"`
	Endpoint       string        `yaml:"endpoint"`
	Token          string        `yaml:"token,omitempty"`
	BreakerFailMax uint32        `yaml:"breaker_fail_max,omitempty"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout,omitempty"`
}

// AuditConfig enables the SQLite envelope audit trail.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// defaultDataDir returns the persistent data directory under $HOME/.shopassist/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".shopassist", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Protocol: ProtocolConfig{
			RequestTimeout:  30 * time.Second,
			SweepInterval:   100 * time.Millisecond,
			ShutdownTimeout: 10 * time.Second,
			HealthSchedule:  "5m",
		},
		Classifier: ClassifierConfig{
			FollowUpPrecedence: FollowUpFirst,
		},
		Sessions: SessionsConfig{
			MaxSessions: 1000,
			TTL:         time.Hour,
			MaxTurns:    50,
		},
		Catalog: CatalogConfig{
			Timeout:      5 * time.Second,
			MaxRetries:   3,
			BaseDelay:    time.Second,
			FailMax:      5,
			ResetTimeout: 60 * time.Second,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestsPerMin: 120,
			Burst:          20,
		},
		Audit: AuditConfig{
			Enabled:       false,
			Path:          filepath.Join(defaultDataDir(), "envelopes.db"),
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@hourly",
		},
	}
}

// Load reads the YAML config at path over Defaults, applies environment
// overrides, decrypts "enc:" secrets and validates the result. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("SHOPASSIST_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies SHOPASSIST_* environment variables over cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHOPASSIST_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SHOPASSIST_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SHOPASSIST_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SHOPASSIST_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SHOPASSIST_PROTOCOL_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Protocol.RequestTimeout = d
		}
	}
	if v := os.Getenv("SHOPASSIST_CLASSIFIER_FOLLOW_UP_PRECEDENCE"); v != "" {
		cfg.Classifier.FollowUpPrecedence = v
	}
	if v := os.Getenv("SHOPASSIST_SESSIONS_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sessions.MaxSessions = n
		}
	}
	if v := os.Getenv("SHOPASSIST_SESSIONS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sessions.TTL = d
		}
	}
	if v := os.Getenv("SHOPASSIST_CATALOG_BASE_URL"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := os.Getenv("SHOPASSIST_CATALOG_API_KEY"); v != "" {
		cfg.Catalog.APIKey = v
	}
	if v := os.Getenv("SHOPASSIST_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SHOPASSIST_SERVER_A2A_TOKEN"); v != "" {
		cfg.Server.A2AToken = v
	}
	if v := os.Getenv("SHOPASSIST_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true"
	}
	if v := os.Getenv("SHOPASSIST_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Catalog.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Catalog.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("catalog api_key: %w", err)
		}
		cfg.Catalog.APIKey = decrypted
	}
	if strings.HasPrefix(cfg.Server.A2AToken, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Server.A2AToken, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("server a2a_token: %w", err)
		}
		cfg.Server.A2AToken = decrypted
	}
	for i := range cfg.RemoteAgents {
		tok := cfg.RemoteAgents[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("remote agent %s token: %w", cfg.RemoteAgents[i].Name, err)
			}
			cfg.RemoteAgents[i].Token = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	salt, data, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	raw, err := hex.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, saltBytes)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
