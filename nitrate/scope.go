package nitrate

import (
	"context"
	"sync"
)

// Scope collects buffered objects and saves them together on Close.
//
//	sc := session.NewScope()
//	defer sc.Close(ctx)
//	tc := nitrate.Hold(sc, client.TestCase(ctx, 42))
type Scope struct {
	session *Session
	mu      sync.Mutex
	held    []Flusher
	closed  bool
}

// NewScope returns an empty scope.
func (s *Session) NewScope() *Scope {
	return &Scope{session: s}
}

// Hold adds f to the scope and returns it.
func Hold[F Flusher](sc *Scope, f F) F {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, h := range sc.held {
		if any(h) == any(f) {
			return f
		}
	}
	sc.held = append(sc.held, f)
	return f
}

// Len returns the number of held objects.
func (sc *Scope) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.held)
}

// Close flushes every held object in the order they were added. Failures
// are logged and do not stop the remaining flushes. Closing twice is a
// no-op.
func (sc *Scope) Close(ctx context.Context) {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.closed = true
	held := sc.held
	sc.held = nil
	sc.mu.Unlock()

	for _, f := range held {
		sc.session.Discard(ctx, f)
	}
}
