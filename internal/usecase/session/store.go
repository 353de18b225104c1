// Package session keeps per-session conversation history for the host agent.
// Sessions are bounded three ways: an LRU cap on the number of sessions, a TTL
// since last activity, and a cap on turns kept per session.
package session

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oklog/ulid/v2"

	"shopassist/internal/domain"
	"shopassist/internal/infra/logger"
)

const (
	defaultMaxSessions = 1000
	defaultTTL         = time.Hour
	defaultMaxTurns    = 50
)

// Session is one conversation. Fields are guarded by mu.
type Session struct {
	mu           sync.RWMutex
	id           string
	turns        []domain.Turn
	createdAt    time.Time
	lastActivity time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Turns returns a copy of the conversation history, oldest first.
func (s *Session) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Turn, len(s.turns))
	copy(cp, s.turns)
	return cp
}

// LastActivity returns the time of the most recent turn.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Store holds sessions keyed by id.
type Store struct {
	mu       sync.Mutex
	cache    *expirable.LRU[string, *Session]
	maxTurns int
	now      func() time.Time
	logger   *slog.Logger
}

// Config bounds a Store. Zero values take defaults.
type Config struct {
	MaxSessions int
	TTL         time.Duration
	MaxTurns    int
}

// NewStore creates a session store.
func NewStore(cfg Config, l *slog.Logger) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	l = logger.OrDiscard(l)
	s := &Store{maxTurns: cfg.MaxTurns, now: time.Now, logger: l}
	s.cache = expirable.NewLRU[string, *Session](cfg.MaxSessions, func(id string, _ *Session) {
		l.Debug("session evicted", "session_id", id)
	}, cfg.TTL)
	return s
}

// Append records a turn, creating the session on first use. Turns beyond the
// per-session cap are dropped oldest first. Appending refreshes the TTL.
func (s *Store) Append(sessionID string, role domain.TurnRole, agent, content string) domain.Turn {
	now := s.now()
	turn := domain.Turn{
		ID:        newTurnID(now),
		Role:      role,
		Agent:     agent,
		Content:   content,
		Timestamp: now,
	}

	s.mu.Lock()
	sess, ok := s.cache.Get(sessionID)
	if !ok {
		sess = &Session{id: sessionID, createdAt: now}
		s.logger.Debug("session created", "session_id", sessionID)
	}
	// Re-adding moves the entry to the front and restarts its TTL.
	s.cache.Add(sessionID, sess)
	s.mu.Unlock()

	sess.mu.Lock()
	sess.turns = append(sess.turns, turn)
	if len(sess.turns) > s.maxTurns {
		sess.turns = append([]domain.Turn(nil), sess.turns[len(sess.turns)-s.maxTurns:]...)
	}
	sess.lastActivity = now
	sess.mu.Unlock()
	return turn
}

// Get returns the session, if present and not expired.
func (s *Store) Get(sessionID string) (*Session, bool) {
	return s.cache.Get(sessionID)
}

// History returns the session's turns, or nil for an unknown session.
func (s *Store) History(sessionID string) []domain.Turn {
	sess, ok := s.cache.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.Turns()
}

// Context returns the classifier view of a session: the most recent agent
// turn, if any.
func (s *Store) Context(sessionID string) domain.ConversationContext {
	conv := domain.ConversationContext{SessionID: sessionID}
	sess, ok := s.cache.Get(sessionID)
	if !ok {
		return conv
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	for i := len(sess.turns) - 1; i >= 0; i-- {
		if sess.turns[i].Role == domain.RoleAgent {
			conv.PreviousAgentResponse = sess.turns[i].Content
			conv.PreviousAgent = sess.turns[i].Agent
			break
		}
	}
	return conv
}

// Clear removes a session. It reports whether the session existed.
func (s *Store) Clear(sessionID string) bool {
	return s.cache.Remove(sessionID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

func newTurnID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
