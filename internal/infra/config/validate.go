package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateProtocol(cfg, ve)
	validateClassifier(cfg, ve)
	validateSessions(cfg, ve)
	validateCatalog(cfg, ve)
	validateServer(cfg, ve)
	validateRemoteAgents(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want noop or stdout)", cfg.Tracer.Exporter)
	}
}

func validateProtocol(cfg *Config, ve *ValidationError) {
	if cfg.Protocol.RequestTimeout <= 0 {
		ve.Add("protocol.request_timeout must be > 0")
	}
	if cfg.Protocol.SweepInterval <= 0 {
		ve.Add("protocol.sweep_interval must be > 0")
	}
	if cfg.Protocol.ShutdownTimeout <= 0 {
		ve.Add("protocol.shutdown_timeout must be > 0")
	}
}

func validateClassifier(cfg *Config, ve *ValidationError) {
	switch cfg.Classifier.FollowUpPrecedence {
	case FollowUpFirst, KeywordsFirst:
	default:
		ve.Add("classifier.follow_up_precedence %q is invalid (want %s or %s)",
			cfg.Classifier.FollowUpPrecedence, FollowUpFirst, KeywordsFirst)
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.MaxSessions <= 0 {
		ve.Add("sessions.max_sessions must be > 0")
	}
	if cfg.Sessions.TTL < 0 {
		ve.Add("sessions.ttl must be >= 0")
	}
	if cfg.Sessions.MaxTurns <= 0 {
		ve.Add("sessions.max_turns must be > 0")
	}
}

func validateCatalog(cfg *Config, ve *ValidationError) {
	c := cfg.Catalog
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("catalog.base_url %q is not an absolute URL", c.BaseURL)
		}
	}
	if c.Timeout <= 0 {
		ve.Add("catalog.timeout must be > 0")
	}
	if c.MaxRetries <= 0 {
		ve.Add("catalog.max_retries must be > 0")
	}
	if c.BaseDelay < 0 {
		ve.Add("catalog.base_delay must be >= 0")
	}
	if c.FailMax <= 0 {
		ve.Add("catalog.fail_max must be > 0")
	}
	if c.ResetTimeout <= 0 {
		ve.Add("catalog.reset_timeout must be > 0")
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.RequestsPerMin <= 0 {
		ve.Add("server.requests_per_min must be > 0")
	}
	if cfg.Server.Burst <= 0 {
		ve.Add("server.burst must be > 0")
	}
}

func validateRemoteAgents(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.RemoteAgents))
	for i, ra := range cfg.RemoteAgents {
		if ra.Name == "" {
			ve.Add("remote_agents[%d].name must not be empty", i)
		} else if seen[ra.Name] {
			ve.Add("remote_agents[%d].name %q is duplicated", i, ra.Name)
		}
		seen[ra.Name] = true
		if u, err := url.Parse(ra.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("remote_agents[%d].endpoint %q is not an absolute URL", i, ra.Endpoint)
		}
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path must not be empty when audit is enabled")
	}
	if cfg.Audit.Retention < 0 {
		ve.Add("audit.retention must be >= 0 (0 keeps everything)")
	}
}
