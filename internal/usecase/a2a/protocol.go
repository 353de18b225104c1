// Package a2a is the in-process agent-to-agent dispatcher. It owns the agent
// registry and the pending-envelope map; nothing outside this package can
// mutate either.
package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/infra/logger"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSweepInterval  = 100 * time.Millisecond
	drainPollInterval     = 10 * time.Millisecond
)

// Transport delivers envelopes to agents registered with an HTTP endpoint.
type Transport interface {
	Deliver(ctx context.Context, endpoint string, env domain.Envelope) (domain.Result, error)
	Health(ctx context.Context, endpoint string) (domain.HealthState, error)
}

// HandlerFunc processes an inbound envelope selected by its message type.
type HandlerFunc func(ctx context.Context, env domain.Envelope) (domain.Result, error)

// registration is one registry entry. Capability flags are resolved once at
// registration so dispatch never inspects the handle again.
type registration struct {
	name         string
	endpoint     string
	registeredAt time.Time
	status       domain.RegistrationStatus

	processor domain.MessageProcessor
	executor  domain.TaskExecutor
	health    domain.HealthReporter
}

func (r *registration) remote() bool { return r.endpoint != "" }

func (r *registration) capabilities() []string {
	var caps []string
	if r.remote() {
		return append(caps, "remote")
	}
	if r.processor != nil {
		caps = append(caps, "process_message")
	}
	if r.executor != nil {
		caps = append(caps, "execute_task")
	}
	if r.health != nil {
		caps = append(caps, "health_check")
	}
	return caps
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

// Protocol routes envelopes between registered agents.
type Protocol struct {
	name           string
	requestTimeout time.Duration
	sweepInterval  time.Duration
	transport      Transport
	bus            domain.EventBus
	recorder       domain.EnvelopeRecorder
	logger         *slog.Logger
	now            func() time.Time

	mu       sync.RWMutex
	agents   map[string]*registration
	handlers map[string]HandlerFunc
	state    lifecycle

	pmu     sync.Mutex
	pending map[string]*pendingEntry

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithRequestTimeout sets the default per-request delivery timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// WithSweepInterval sets how often stale pending envelopes are expired.
func WithSweepInterval(d time.Duration) Option {
	return func(p *Protocol) {
		if d > 0 {
			p.sweepInterval = d
		}
	}
}

// WithTransport sets the transport used for endpoint-registered agents.
func WithTransport(t Transport) Option {
	return func(p *Protocol) { p.transport = t }
}

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(p *Protocol) { p.bus = bus }
}

// WithRecorder persists every envelope that reaches a terminal state.
func WithRecorder(r domain.EnvelopeRecorder) Option {
	return func(p *Protocol) { p.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.logger = logger.OrDiscard(l) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// WithName sets the sender name stamped on envelopes that don't specify one.
func WithName(name string) Option {
	return func(p *Protocol) { p.name = name }
}

// New creates an idle Protocol. Call Initialize to start the sweep.
func New(opts ...Option) *Protocol {
	p := &Protocol{
		name:           domain.AgentHost,
		requestTimeout: defaultRequestTimeout,
		sweepInterval:  defaultSweepInterval,
		logger:         logger.Discard(),
		now:            time.Now,
		agents:         make(map[string]*registration),
		handlers:       make(map[string]HandlerFunc),
		pending:        make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AgentOption configures a single registration.
type AgentOption func(*registration)

// WithEndpoint makes the agent remote: envelopes are POSTed to
// {endpoint}/a2a/message instead of being delivered in-process.
func WithEndpoint(endpoint string) AgentOption {
	return func(r *registration) { r.endpoint = endpoint }
}

// RegisterAgent adds name to the registry. handle may implement
// domain.MessageProcessor, domain.TaskExecutor and domain.HealthReporter in
// any combination; it may be nil for an endpoint-only agent. Registering an
// existing name replaces the previous entry.
func (p *Protocol) RegisterAgent(name string, handle any, opts ...AgentOption) error {
	if name == "" {
		return domain.NewDomainError("Protocol.RegisterAgent", domain.ErrInvalidInput, "agent name is empty")
	}
	reg := &registration{
		name:         name,
		registeredAt: p.now(),
		status:       domain.RegistrationActive,
	}
	for _, opt := range opts {
		opt(reg)
	}
	if handle != nil {
		reg.processor, _ = handle.(domain.MessageProcessor)
		reg.executor, _ = handle.(domain.TaskExecutor)
		reg.health, _ = handle.(domain.HealthReporter)
	}
	if handle == nil && reg.endpoint == "" {
		return domain.NewDomainError("Protocol.RegisterAgent", domain.ErrInvalidInput,
			fmt.Sprintf("agent %q has neither a handle nor an endpoint", name))
	}

	p.mu.Lock()
	prev, replaced := p.agents[name]
	p.agents[name] = reg
	p.mu.Unlock()

	if replaced {
		p.logger.Warn("agent re-registered, previous registration replaced",
			"agent", name,
			"previous_registered_at", prev.registeredAt,
		)
	} else {
		p.logger.Info("agent registered", "agent", name, "remote", reg.remote())
	}
	p.emit(context.Background(), domain.EventAgentRegistered, "", agentEvent{
		Agent:        name,
		Endpoint:     reg.endpoint,
		Capabilities: reg.capabilities(),
		Replaced:     replaced,
	})
	return nil
}

// UnregisterAgent removes name. Removing an absent agent is a no-op.
func (p *Protocol) UnregisterAgent(name string) {
	p.mu.Lock()
	_, ok := p.agents[name]
	delete(p.agents, name)
	p.mu.Unlock()

	if !ok {
		return
	}
	p.logger.Info("agent unregistered", "agent", name)
	p.emit(context.Background(), domain.EventAgentUnregistered, "", agentEvent{Agent: name})
}

// RegisterHandler routes inbound envelopes of messageType to fn.
func (p *Protocol) RegisterHandler(messageType string, fn HandlerFunc) {
	p.mu.Lock()
	p.handlers[messageType] = fn
	p.mu.Unlock()
	p.logger.Debug("message handler registered", "message_type", messageType)
}

func (p *Protocol) lookup(name string) (*registration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reg, ok := p.agents[name]
	return reg, ok
}

func (p *Protocol) handler(messageType string) (HandlerFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn, ok := p.handlers[messageType]
	return fn, ok
}

// Agents returns the registered agent names, sorted.
func (p *Protocol) Agents() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.agents))
	for name := range p.agents {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Running reports whether Initialize has been called and Shutdown has not.
func (p *Protocol) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateRunning
}

// Status returns a snapshot of the protocol's state.
func (p *Protocol) Status() domain.ProtocolStatus {
	p.mu.RLock()
	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	running := p.state == stateRunning
	p.mu.RUnlock()
	sort.Strings(types)

	return domain.ProtocolStatus{
		Running:          running,
		RegisteredAgents: p.Agents(),
		PendingMessages:  p.PendingCount(),
		MessageTypes:     types,
		RequestTimeout:   p.requestTimeout,
	}
}

// Initialize starts the background sweep. Calling it on a running protocol
// is a no-op.
func (p *Protocol) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateRunning:
		return nil
	case stateStopped:
		return domain.NewDomainError("Protocol.Initialize", domain.ErrProtocolStopped, "protocol was shut down")
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.stopSweep = cancel
	p.sweepDone = make(chan struct{})
	p.state = stateRunning
	go p.sweepLoop(sweepCtx, p.sweepDone)

	p.logger.Info("a2a protocol started",
		"request_timeout", p.requestTimeout,
		"sweep_interval", p.sweepInterval,
	)
	return nil
}

// Shutdown stops the sweep and waits for in-flight envelopes to drain. New
// requests are rejected as soon as Shutdown begins. It returns ctx's error if
// the pending map has not drained before ctx is done.
func (p *Protocol) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	prev := p.state
	p.state = stateStopped
	stop, done := p.stopSweep, p.sweepDone
	p.mu.Unlock()

	if prev == stateRunning {
		stop()
		<-done
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		n := p.PendingCount()
		if n == 0 {
			p.logger.Info("a2a protocol stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			p.logger.Warn("a2a shutdown timed out with pending envelopes", "pending", n)
			return domain.WrapOp("Protocol.Shutdown", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Protocol) stopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateStopped
}
