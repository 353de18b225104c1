package a2a

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/infra/tracer"
	"shopassist/internal/usecase/eventbus"
)

// pendingEntry tracks one in-flight envelope. env is guarded by Protocol.pmu.
type pendingEntry struct {
	env     *domain.Envelope
	timeout time.Duration
	expired chan struct{}
}

type requestConfig struct {
	messageType string
	timeout     time.Duration
	sender      string
}

// RequestOption configures a single SendRequest call.
type RequestOption func(*requestConfig)

// WithMessageType tags the envelope. The default is domain.DefaultMessageType.
func WithMessageType(t string) RequestOption {
	return func(c *requestConfig) { c.messageType = t }
}

// WithTimeout overrides the protocol's request timeout for one call.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSender sets the envelope's sender name.
func WithSender(name string) RequestOption {
	return func(c *requestConfig) { c.sender = name }
}

// SendRequest delivers task to agentName and waits for its result.
//
// An unregistered agent fails with domain.ErrAgentNotRegistered before any
// envelope exists. Otherwise the returned error wraps domain.ErrDeliveryFailed
// or is domain.ErrDeliveryTimeout. The envelope is removed from the pending
// map on every path.
func (p *Protocol) SendRequest(ctx context.Context, agentName string, task domain.Payload, opts ...RequestOption) (result domain.Result, err error) {
	const op = "Protocol.SendRequest"

	cfg := requestConfig{
		messageType: domain.DefaultMessageType,
		timeout:     p.requestTimeout,
		sender:      p.name,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if p.stopped() {
		return nil, domain.NewSubSystemError("a2a", op, domain.ErrProtocolStopped, agentName)
	}
	reg, ok := p.lookup(agentName)
	if !ok {
		return nil, domain.NewSubSystemError("a2a", op, domain.ErrAgentNotRegistered, fmt.Sprintf("agent %q", agentName))
	}

	ctx, span := tracer.StartSpan(ctx, "a2a.send_request",
		tracer.StringAttr("a2a.recipient", agentName),
		tracer.StringAttr("a2a.message_type", cfg.messageType),
	)
	defer func() { tracer.End(span, err) }()

	env := domain.NewEnvelope(cfg.sender, agentName, cfg.messageType, task)
	env.Timestamp = p.now()
	span.SetAttributes(tracer.StringAttr("a2a.message_id", env.MessageID))

	return p.dispatch(ctx, op, env, cfg.timeout, domain.StatusCompleted, func(ctx context.Context, env domain.Envelope) (domain.Result, error) {
		return p.deliver(ctx, reg, env)
	})
}

// deliver picks the agent's single delivery path.
func (p *Protocol) deliver(ctx context.Context, reg *registration, env domain.Envelope) (domain.Result, error) {
	if reg.remote() {
		if p.transport == nil {
			return nil, fmt.Errorf("no transport configured for endpoint %s", reg.endpoint)
		}
		return p.transport.Deliver(ctx, reg.endpoint, env)
	}
	switch {
	case reg.processor != nil:
		return reg.processor.ProcessMessage(ctx, env.Payload.String("message"), env.Payload.String("session_id"))
	case reg.executor != nil:
		return reg.executor.ExecuteTask(ctx, env.Payload)
	default:
		return nil, domain.ErrUnsupportedAgent
	}
}

type outcome struct {
	result domain.Result
	err    error
}

// dispatch tracks env as pending, runs call under timeout and resolves the
// envelope. successStatus is the terminal status recorded when call succeeds.
func (p *Protocol) dispatch(ctx context.Context, op string, env *domain.Envelope, timeout time.Duration, successStatus domain.MessageStatus, call func(context.Context, domain.Envelope) (domain.Result, error)) (domain.Result, error) {
	entry := &pendingEntry{env: env, timeout: timeout, expired: make(chan struct{})}
	p.pmu.Lock()
	p.pending[env.MessageID] = entry
	snapshot := *env
	p.pmu.Unlock()
	defer p.removePending(env.MessageID)

	sessionID := env.Payload.String("session_id")
	p.emit(ctx, domain.EventEnvelopeSent, sessionID, newEnvelopeEvent(snapshot, ""))
	p.logger.Debug("envelope sent",
		"message_id", env.MessageID,
		"recipient", env.Recipient,
		"message_type", env.MessageType,
	)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		res, err := call(callCtx, snapshot)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = callCtx.Err()
	case <-entry.expired:
		return nil, domain.NewSubSystemError("a2a", op, domain.ErrDeliveryTimeout,
			fmt.Sprintf("envelope %s to %q expired by sweep", env.MessageID, env.Recipient))
	}

	if out.err == nil {
		p.finish(ctx, entry, successStatus, out.result, nil)
		return out.result, nil
	}

	if errors.Is(out.err, context.DeadlineExceeded) {
		err := domain.NewSubSystemError("a2a", op, domain.ErrDeliveryTimeout,
			fmt.Sprintf("agent %q did not respond within %s", env.Recipient, timeout))
		p.finish(ctx, entry, domain.StatusTimeout, nil, err)
		return nil, err
	}

	err := domain.NewSubSystemError("a2a", op,
		fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, out.err),
		fmt.Sprintf("agent %q", env.Recipient))
	p.finish(ctx, entry, domain.StatusFailed, nil, err)
	return nil, err
}

// finish moves entry to a terminal status unless the sweep already did.
func (p *Protocol) finish(ctx context.Context, entry *pendingEntry, status domain.MessageStatus, result domain.Result, cause error) {
	now := p.now()

	p.pmu.Lock()
	if entry.env.Status.Terminal() {
		p.pmu.Unlock()
		return
	}
	entry.env.Status = status
	if cause != nil {
		entry.env.Response = domain.Result{"error": cause.Error()}
	} else {
		entry.env.Response = result
	}
	snapshot := *entry.env
	p.pmu.Unlock()

	sessionID := snapshot.Payload.String("session_id")
	errText := ""
	eventType := domain.EventEnvelopeCompleted
	switch status {
	case domain.StatusProcessed:
		eventType = domain.EventEnvelopeProcessed
	case domain.StatusFailed, domain.StatusTimeout:
		eventType = domain.EventEnvelopeFailed
		errText = cause.Error()
		p.logger.Warn("envelope delivery failed",
			"message_id", snapshot.MessageID,
			"recipient", snapshot.Recipient,
			"status", string(status),
			"error", cause,
		)
	}

	evt := newEnvelopeEvent(snapshot, errText)
	evt.DurationMs = now.Sub(snapshot.Timestamp).Milliseconds()
	p.emit(ctx, eventType, sessionID, evt)
	p.record(snapshot, now)
}

// removePending deletes id from the pending map. Deleting an id the sweep
// already removed is a no-op.
func (p *Protocol) removePending(id string) {
	p.pmu.Lock()
	delete(p.pending, id)
	p.pmu.Unlock()
}

// PendingCount returns the number of in-flight envelopes.
func (p *Protocol) PendingCount() int {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return len(p.pending)
}

// SendBroadcast sends payload to every registered agent not in exclude,
// concurrently. Every targeted agent gets an entry in the returned map; a
// failed delivery is reported as {"error": ...} in that agent's slot.
func (p *Protocol) SendBroadcast(ctx context.Context, messageType string, payload domain.Payload, exclude ...string) map[string]domain.Result {
	ctx, span := tracer.StartSpan(ctx, "a2a.broadcast", tracer.StringAttr("a2a.message_type", messageType))
	defer span.End()

	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]domain.Result)
	)
	for _, name := range p.Agents() {
		if skip[name] {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, err := p.SendRequest(ctx, name, payload, WithMessageType(messageType))
			if err != nil {
				res = domain.Result{"error": err.Error()}
			} else if res == nil {
				res = domain.Result{}
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	span.SetAttributes(tracer.IntAttr("a2a.recipients", len(results)))
	return results
}

// HandleInbound processes an envelope received from a remote peer. A handler
// registered for its message type takes precedence and ends the envelope
// processed; otherwise it is delivered to its local recipient in-process.
// The returned envelope carries the terminal status and response.
func (p *Protocol) HandleInbound(ctx context.Context, in domain.Envelope) (domain.Envelope, error) {
	const op = "Protocol.HandleInbound"

	if p.stopped() {
		return in, domain.NewSubSystemError("a2a", op, domain.ErrProtocolStopped, in.Recipient)
	}
	env := in
	if env.MessageID == "" {
		env.MessageID = domain.NewMessageID()
	}
	if env.MessageType == "" {
		env.MessageType = domain.DefaultMessageType
	}
	env.Timestamp = p.now()
	env.Status = domain.StatusPending
	env.Response = nil

	var (
		call   func(context.Context, domain.Envelope) (domain.Result, error)
		status domain.MessageStatus
	)
	if fn, ok := p.handler(env.MessageType); ok {
		call, status = fn, domain.StatusProcessed
	} else {
		reg, ok := p.lookup(env.Recipient)
		if !ok {
			return in, domain.NewSubSystemError("a2a", op, domain.ErrAgentNotRegistered, fmt.Sprintf("agent %q", env.Recipient))
		}
		if reg.remote() {
			return in, domain.NewSubSystemError("a2a", op, domain.ErrInvalidInput,
				fmt.Sprintf("agent %q is remote and cannot receive relayed envelopes", env.Recipient))
		}
		call, status = func(ctx context.Context, e domain.Envelope) (domain.Result, error) { return p.deliver(ctx, reg, e) }, domain.StatusCompleted
	}

	_, err := p.dispatch(ctx, op, &env, p.requestTimeout, status, call)

	p.pmu.Lock()
	out := env
	p.pmu.Unlock()
	return out, err
}

func (p *Protocol) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, p.now())
		}
	}
}

// sweep force-expires every pending envelope older than twice its timeout.
func (p *Protocol) sweep(ctx context.Context, now time.Time) int {
	var expired []domain.Envelope

	p.pmu.Lock()
	for id, entry := range p.pending {
		if entry.env.Status.Terminal() || entry.env.Age(now) <= 2*entry.timeout {
			continue
		}
		entry.env.Status = domain.StatusTimeout
		entry.env.Response = domain.Result{"error": "envelope expired before delivery completed"}
		close(entry.expired)
		delete(p.pending, id)
		expired = append(expired, *entry.env)
	}
	p.pmu.Unlock()

	for _, env := range expired {
		p.logger.Warn("envelope expired",
			"message_id", env.MessageID,
			"recipient", env.Recipient,
			"age", env.Age(now),
		)
		p.emit(ctx, domain.EventEnvelopeExpired, env.Payload.String("session_id"), newEnvelopeEvent(env, env.Response.ErrorText()))
		p.record(env, now)
	}
	return len(expired)
}

func (p *Protocol) record(env domain.Envelope, finishedAt time.Time) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(env, finishedAt); err != nil {
		p.logger.Warn("failed to record envelope", "message_id", env.MessageID, "error", err)
	}
}

type agentEvent struct {
	Agent        string   `json:"agent"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Replaced     bool     `json:"replaced,omitempty"`
}

type envelopeEvent struct {
	MessageID   string               `json:"message_id"`
	Sender      string               `json:"sender"`
	Recipient   string               `json:"recipient"`
	MessageType string               `json:"message_type"`
	Status      domain.MessageStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	DurationMs  int64                `json:"duration_ms,omitempty"`
}

func newEnvelopeEvent(env domain.Envelope, errText string) envelopeEvent {
	return envelopeEvent{
		MessageID:   env.MessageID,
		Sender:      env.Sender,
		Recipient:   env.Recipient,
		MessageType: env.MessageType,
		Status:      env.Status,
		Error:       errText,
	}
}

func (p *Protocol) emit(ctx context.Context, eventType domain.EventType, sessionID string, detail any) {
	eventbus.Emit(ctx, p.bus, p.logger, eventType, sessionID, detail)
}
