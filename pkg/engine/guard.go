package engine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMutationInFlight is returned when a second mutation is requested for
// a session that already has one running.
var ErrMutationInFlight = errors.New("a mutation is already in flight for this session")

// sessionGuard enforces the single in-flight mutation per session rule.
// Mutations for different sessions proceed concurrently.
type sessionGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newSessionGuard() *sessionGuard {
	return &sessionGuard{inFlight: make(map[string]struct{})}
}

// acquire claims the session. The caller must release with the returned
// function exactly once.
func (g *sessionGuard) acquire(sessionID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[sessionID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrMutationInFlight, sessionID)
	}
	g.inFlight[sessionID] = struct{}{}

	return func() {
		g.mu.Lock()
		delete(g.inFlight, sessionID)
		g.mu.Unlock()
	}, nil
}
