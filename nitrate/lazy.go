package nitrate

import (
	"context"
	"sync"
)

// Lazy is a read-only value loaded by its own remote call rather than
// with the owning entity's record.
type Lazy[T any] struct {
	mu sync.Mutex
	f  Field[T]
}

// Get returns the value, calling load on first use. A failed load is
// retried on the next call.
func (l *Lazy[T]) Get(ctx context.Context, load func(ctx context.Context) (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.f.Peek(); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.f.Put(v)
	return v, nil
}

// Reset discards the loaded value.
func (l *Lazy[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Reset()
}
