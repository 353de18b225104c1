package domain

import "time"

// TurnRole tags who produced a conversation turn.
type TurnRole string

const (
	RoleUser  TurnRole = "user"
	RoleAgent TurnRole = "agent"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	ID        string    `json:"id"`
	Role      TurnRole  `json:"role"`
	Agent     string    `json:"agent,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationContext is what the classifier sees of a session.
type ConversationContext struct {
	SessionID             string
	PreviousAgentResponse string
	PreviousAgent         string
}

// EnvelopeRecorder persists envelopes that reached a terminal state.
type EnvelopeRecorder interface {
	Record(env Envelope, finishedAt time.Time) error
}
