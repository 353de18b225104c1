package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the lifecycle state of an Envelope. Pending is the only
// start state; every other state is terminal.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
	StatusProcessed MessageStatus = "processed"
	StatusTimeout   MessageStatus = "timeout"
)

// Terminal reports whether s ends an envelope's lifecycle.
func (s MessageStatus) Terminal() bool {
	return s != StatusPending && s != ""
}

// DefaultMessageType tags direct request/response envelopes.
const DefaultMessageType = "task_request"

// Envelope is the routed unit of work between the dispatcher and an agent.
// This is also the JSON body POSTed to remote agents at {endpoint}/a2a/message.
type Envelope struct {
	MessageID   string        `json:"message_id"`
	Sender      string        `json:"sender"`
	Recipient   string        `json:"recipient"`
	MessageType string        `json:"message_type"`
	Payload     Payload       `json:"payload"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	Response    Result        `json:"response,omitempty"`
}

// NewEnvelope creates a pending envelope with a fresh message ID.
func NewEnvelope(sender, recipient, messageType string, payload Payload) *Envelope {
	if messageType == "" {
		messageType = DefaultMessageType
	}
	return &Envelope{
		MessageID:   NewMessageID(),
		Sender:      sender,
		Recipient:   recipient,
		MessageType: messageType,
		Payload:     payload,
		Timestamp:   time.Now(),
		Status:      StatusPending,
	}
}

// NewMessageID returns "msg_" followed by 8 random hex characters.
func NewMessageID() string {
	return "msg_" + uuid.NewString()[:8]
}

// Age returns how long ago the envelope was created.
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
