package a2a

import (
	"context"
	"fmt"
	"sync"

	"shopassist/internal/domain"
)

// AgentStatus returns name's registration metadata with a live health probe.
// Agents without a health capability report domain.HealthUnknown.
func (p *Protocol) AgentStatus(ctx context.Context, name string) (domain.AgentStatus, error) {
	reg, ok := p.lookup(name)
	if !ok {
		return domain.AgentStatus{}, domain.NewSubSystemError("a2a", "Protocol.AgentStatus",
			domain.ErrAgentNotRegistered, fmt.Sprintf("agent %q", name))
	}
	health, probeErr := p.probe(ctx, reg)
	st := domain.AgentStatus{
		Name:         reg.name,
		Status:       reg.status,
		RegisteredAt: reg.registeredAt,
		Endpoint:     reg.endpoint,
		Remote:       reg.remote(),
		Capabilities: reg.capabilities(),
		Health:       health,
	}
	if probeErr != nil {
		st.HealthError = probeErr.Error()
	}
	return st, nil
}

// HealthCheck aggregates every agent's probe. The protocol is unhealthy when
// not running and degraded when any agent reports something other than
// healthy or unknown. A failing probe is folded into that agent's entry.
func (p *Protocol) HealthCheck(ctx context.Context) domain.HealthReport {
	p.mu.RLock()
	regs := make([]*registration, 0, len(p.agents))
	for _, reg := range p.agents {
		regs = append(regs, reg)
	}
	p.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		agents = make(map[string]domain.HealthState, len(regs))
	)
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			state, err := p.probe(ctx, reg)
			if err != nil {
				p.logger.Warn("agent health probe failed", "agent", reg.name, "error", err)
			}
			mu.Lock()
			agents[reg.name] = state
			mu.Unlock()
		}(reg)
	}
	wg.Wait()

	report := domain.HealthReport{
		Status:          domain.HealthHealthy,
		Running:         p.Running(),
		PendingMessages: p.PendingCount(),
		Agents:          agents,
		CheckedAt:       p.now(),
	}
	if !report.Running {
		report.Status = domain.HealthUnhealthy
		return report
	}
	for _, state := range agents {
		if state != domain.HealthHealthy && state != domain.HealthUnknown {
			report.Status = domain.HealthDegraded
			break
		}
	}
	return report
}

// probe asks one agent for its health. Errors and panics become
// domain.HealthError.
func (p *Protocol) probe(ctx context.Context, reg *registration) (state domain.HealthState, err error) {
	defer func() {
		if r := recover(); r != nil {
			state, err = domain.HealthError, fmt.Errorf("health probe panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	switch {
	case reg.remote():
		if p.transport == nil {
			return domain.HealthUnknown, nil
		}
		state, err = p.transport.Health(ctx, reg.endpoint)
	case reg.health != nil:
		state, err = reg.health.HealthCheck(ctx)
	default:
		return domain.HealthUnknown, nil
	}
	if err != nil {
		return domain.HealthError, err
	}
	if state == "" {
		state = domain.HealthUnknown
	}
	return state, nil
}
