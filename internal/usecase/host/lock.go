package host

import (
	"context"
	"sync"

	"shopassist/internal/domain"
)

// sessionLocks serializes turns within a session, so a message always
// classifies against the reply to the message before it. Each session's
// slot is a one-token channel, which makes acquisition cancellable.
type sessionLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	token   chan struct{}
	waiters int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{slots: make(map[string]*slot)}
}

// acquire blocks until the session is free or ctx is done. The returned
// release must be called exactly once.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (release func(), err error) {
	l.mu.Lock()
	s, ok := l.slots[sessionID]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		l.slots[sessionID] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.token <- struct{}{}:
		return func() {
			<-s.token
			l.done(sessionID, s)
		}, nil
	case <-ctx.Done():
		l.done(sessionID, s)
		return nil, domain.WrapOp("session lock", ctx.Err())
	}
}

func (l *sessionLocks) done(sessionID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, sessionID)
	}
}

// active returns the number of sessions holding or waiting on a slot.
func (l *sessionLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
