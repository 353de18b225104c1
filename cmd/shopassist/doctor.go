package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"shopassist/internal/adapter/audit"
	"shopassist/internal/adapter/remoteagent"
	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Catalog", Fn: checkCatalog},
		{Name: "Remote agents", Fn: checkRemoteAgents},
		{Name: "Audit store", Fn: checkAudit},
		{Name: "Listen address", Fn: checkListenAddr},
	}

	fmt.Println("shopassist doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports a missing file as a warning, since defaults run
// the demo catalog, and a load error as a failure.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and permissions (0600)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkCatalog probes the storefront catalog backend.
func checkCatalog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	if cfg.Catalog.BaseURL == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no catalog.base_url, serving the built-in demo catalog",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimRight(cfg.Catalog.BaseURL, "/") + "/products"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if cfg.Catalog.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Catalog.APIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("catalog unreachable: %v", err),
			Fix:     "Check catalog.base_url; requests will fall back to the demo catalog",
		}
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("catalog returned HTTP %d", resp.StatusCode),
			Fix:     "Check catalog.api_key",
		}
	}
	return CheckResult{Status: StatusPass, Message: "catalog reachable at " + url}
}

// checkRemoteAgents probes each configured remote agent's health endpoint.
func checkRemoteAgents(cfg *config.Config) CheckResult {
	if cfg == nil || len(cfg.RemoteAgents) == 0 {
		return CheckResult{Status: StatusPass, Message: "no remote agents configured"}
	}

	transport := remoteagent.FromConfig(cfg.RemoteAgents, nil)
	var bad []string
	for _, ra := range cfg.RemoteAgents {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		state, err := transport.Health(ctx, ra.Endpoint)
		cancel()
		if err != nil || state != domain.HealthHealthy {
			bad = append(bad, fmt.Sprintf("%s (%s)", ra.Name, state))
		}
	}
	if len(bad) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unhealthy: " + strings.Join(bad, ", "),
			Fix:     "Check the remote agents are running and remote_agents[].token matches",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d remote agent(s) healthy", len(cfg.RemoteAgents)),
	}
}

// checkAudit opens the audit database when auditing is enabled.
func checkAudit(cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Audit.Enabled {
		return CheckResult{Status: StatusPass, Message: "audit trail disabled"}
	}
	rec, err := audit.NewSQLiteRecorder(cfg.Audit.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Audit.Path, err),
			Fix:     "Check audit.path is writable",
		}
	}
	rec.Close()
	return CheckResult{Status: StatusPass, Message: "audit store at " + cfg.Audit.Path}
}

// checkListenAddr verifies server.addr can be bound.
func checkListenAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Server.Addr, err),
			Fix:     "Stop the process holding the port or change server.addr",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: cfg.Server.Addr + " is available"}
}
