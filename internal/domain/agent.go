package domain

import (
	"context"
	"time"
)

// Well-known agent names.
const (
	AgentHost             = "HostAgent"
	AgentProductDiscovery = "ProductDiscoveryAgent"
	AgentCO2Calculator    = "CO2CalculatorAgent"
	AgentCartManager      = "CartManagerAgent"
	AgentCheckout         = "CheckoutAgent"
	AgentComparison       = "ComparisonAgent"
)

// Payload is the structured task carried by an envelope.
type Payload map[string]any

// String returns the string value stored under key, or "".
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Result is what an agent returns for a task. Handler-internal failures are
// reported under the "error" key of an otherwise successful Result.
type Result map[string]any

// ErrorText returns the handler-reported error text, if any.
func (r Result) ErrorText() string {
	if v, ok := r["error"].(string); ok {
		return v
	}
	return ""
}

// Response returns the conversational "response" text, if any.
func (r Result) Response() string {
	if v, ok := r["response"].(string); ok {
		return v
	}
	return ""
}

// MessageProcessor is the conversational entry point of an agent.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message, sessionID string) (Result, error)
}

// TaskExecutor is the structured entry point of an agent.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task Payload) (Result, error)
}

// HealthReporter is implemented by agents that can report their own health.
type HealthReporter interface {
	HealthCheck(ctx context.Context) (HealthState, error)
}

// RegistrationStatus is a coarse membership flag, not a liveness signal.
type RegistrationStatus string

const (
	RegistrationActive   RegistrationStatus = "active"
	RegistrationInactive RegistrationStatus = "inactive"
)

// HealthState is the liveness reported by an agent or the protocol.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
	HealthError     HealthState = "error"
)

// AgentStatus is the snapshot returned by Protocol.AgentStatus.
type AgentStatus struct {
	Name         string             `json:"name"`
	Status       RegistrationStatus `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	Endpoint     string             `json:"endpoint,omitempty"`
	Remote       bool               `json:"remote"`
	Capabilities []string           `json:"capabilities"`
	Health       HealthState        `json:"health"`
	HealthError  string             `json:"health_error,omitempty"`
}

// HealthReport is the aggregate returned by Protocol.HealthCheck.
type HealthReport struct {
	Status          HealthState            `json:"status"`
	Running         bool                   `json:"running"`
	PendingMessages int                    `json:"pending_messages"`
	Agents          map[string]HealthState `json:"agents"`
	CheckedAt       time.Time              `json:"checked_at"`
}

// ProtocolStatus is the snapshot returned by Protocol.Status.
type ProtocolStatus struct {
	Running          bool          `json:"running"`
	RegisteredAgents []string      `json:"registered_agents"`
	PendingMessages  int           `json:"pending_messages"`
	MessageTypes     []string      `json:"message_types"`
	RequestTimeout   time.Duration `json:"request_timeout"`
}
