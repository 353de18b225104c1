// Package host implements the orchestrating HostAgent: it classifies each
// user message, routes it to a capability agent through the A2A protocol and
// keeps the conversation history that follow-up detection relies on.
package host

import (
	"context"
	"log/slog"
	"strings"

	"shopassist/internal/domain"
	"shopassist/internal/infra/logger"
	"shopassist/internal/infra/tracer"
	"shopassist/internal/usecase/a2a"
	"shopassist/internal/usecase/eventbus"
	"shopassist/internal/usecase/intent"
	"shopassist/internal/usecase/session"
)

// User-facing fallback messages.
const (
	MsgError   = "I encountered an error processing your request. Please try again."
	MsgTimeout = "That is taking longer than expected. Please try again in a moment."
	MsgHelp    = "I can help you find products, check their carbon footprint, manage your cart, " +
		"compare products and check out. Try \"show me sunglasses under $20\"."
	MsgEmpty = "What are you shopping for today?"
)

// Dispatcher is the part of the A2A protocol the host uses.
type Dispatcher interface {
	SendRequest(ctx context.Context, agent string, task domain.Payload, opts ...a2a.RequestOption) (domain.Result, error)
	Running() bool
}

// Host is the HostAgent.
type Host struct {
	dispatcher Dispatcher
	classifier *intent.Classifier
	sessions   *session.Store
	locks      *sessionLocks
	bus        domain.EventBus
	logger     *slog.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithEventBus publishes a message.routed event per routed message.
func WithEventBus(bus domain.EventBus) Option {
	return func(h *Host) { h.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = logger.OrDiscard(l) }
}

// New creates a Host.
func New(d Dispatcher, c *intent.Classifier, s *session.Store, opts ...Option) *Host {
	h := &Host{
		dispatcher: d,
		classifier: c,
		sessions:   s,
		locks:      newSessionLocks(),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Classify exposes the routing decision for message without dispatching it.
func (h *Host) Classify(ctx context.Context, message, sessionID string) domain.Intent {
	return h.classifier.Classify(ctx, message, h.sessions.Context(sessionID))
}

// ProcessMessage implements domain.MessageProcessor. It never returns an
// error: dispatcher failures become a friendly response with an "error" key.
func (h *Host) ProcessMessage(ctx context.Context, message, sessionID string) (domain.Result, error) {
	ctx, span := tracer.StartSpan(ctx, "host.process_message", tracer.StringAttr("session.id", sessionID))
	defer span.End()

	if strings.TrimSpace(message) == "" {
		return h.reply(sessionID, MsgEmpty, domain.Intent{Type: domain.IntentUnknown}), nil
	}

	release, err := h.locks.acquire(ctx, sessionID)
	if err != nil {
		tracer.End(span, err)
		out := h.reply(sessionID, MsgTimeout, domain.Intent{Type: domain.IntentUnknown})
		out["error"] = err.Error()
		return out, nil
	}
	defer release()

	conv := h.sessions.Context(sessionID)
	h.sessions.Append(sessionID, domain.RoleUser, "", message)

	in := h.classifier.Classify(ctx, message, conv)
	span.SetAttributes(
		tracer.StringAttr("intent.type", string(in.Type)),
		tracer.StringAttr("intent.agent", in.PrimaryAgent),
	)
	if !in.Matched() {
		h.sessions.Append(sessionID, domain.RoleAgent, domain.AgentHost, MsgHelp)
		return h.reply(sessionID, MsgHelp, in), nil
	}

	eventbus.Emit(ctx, h.bus, h.logger, domain.EventMessageRouted, sessionID, map[string]any{
		"agent":      in.PrimaryAgent,
		"intent":     in.Type,
		"confidence": in.Confidence,
		"follow_up":  in.FollowUp,
	})

	res, err := h.dispatcher.SendRequest(ctx, in.PrimaryAgent, domain.Payload{
		"message":     message,
		"session_id":  sessionID,
		"intent_type": string(in.Type),
		"parameters":  in.Parameters,
		"confidence":  in.Confidence,
	}, a2a.WithSender(domain.AgentHost))
	if err != nil {
		tracer.End(span, err)
		text := MsgError
		if domain.IsTimeout(err) {
			text = MsgTimeout
		}
		h.logger.Warn("routing failed",
			"session_id", sessionID,
			"agent", in.PrimaryAgent,
			"code", string(domain.ErrorCodeOf(err)),
			"error", err,
		)
		out := h.reply(sessionID, text, in)
		out["agent"] = in.PrimaryAgent
		out["error"] = err.Error()
		return out, nil
	}

	text := res.Response()
	if text == "" {
		text = "Done."
	}
	h.sessions.Append(sessionID, domain.RoleAgent, in.PrimaryAgent, text)

	out := make(domain.Result, len(res)+5)
	for k, v := range res {
		out[k] = v
	}
	for k, v := range h.reply(sessionID, text, in) {
		out[k] = v
	}
	out["agent"] = in.PrimaryAgent
	return out, nil
}

func (h *Host) reply(sessionID, text string, in domain.Intent) domain.Result {
	return domain.Result{
		"response":    text,
		"agent":       domain.AgentHost,
		"session_id":  sessionID,
		"intent_type": string(in.Type),
		"confidence":  in.Confidence,
		"follow_up":   in.FollowUp,
	}
}

// HealthCheck implements domain.HealthReporter. The host is healthy while
// its dispatcher runs.
func (h *Host) HealthCheck(context.Context) (domain.HealthState, error) {
	if !h.dispatcher.Running() {
		return domain.HealthUnhealthy, nil
	}
	return domain.HealthHealthy, nil
}

// ClearSession forgets a session's history.
func (h *Host) ClearSession(sessionID string) bool {
	return h.sessions.Clear(sessionID)
}
