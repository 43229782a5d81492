package nitrate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/CaliLuke/go-nitrate/remote"
	"github.com/google/uuid"
)

// Session owns the connection to one server: the serialized Caller, the
// cache level, the per-kind registries and the logger.
type Session struct {
	caller   remote.Caller
	level    atomic.Int32
	log      *slog.Logger
	id       string
	requests atomic.Int64

	mu         sync.Mutex
	registries map[string]*registry
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithCacheLevel sets the initial cache level. Invalid levels are ignored.
func WithCacheLevel(l CacheLevel) Option {
	return func(s *Session) {
		if l.Valid() {
			s.level.Store(int32(l))
		}
	}
}

// NewSession creates a session issuing calls through c. Calls are
// serialized: at most one is in flight per session.
func NewSession(c remote.Caller, opts ...Option) *Session {
	s := &Session{
		caller:     remote.Serialize(c),
		log:        slog.Default(),
		id:         uuid.NewString(),
		registries: make(map[string]*registry),
	}
	s.level.Store(int32(DefaultCacheLevel))
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id)
	return s
}

// ID returns the session id attached to every log record.
func (s *Session) ID() string {
	return s.id
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.log
}

// Level returns the current cache level.
func (s *Session) Level() CacheLevel {
	return CacheLevel(s.level.Load())
}

// SetLevel changes the cache level. It affects subsequent operations only;
// already cached instances and buffered changes are kept.
func (s *Session) SetLevel(l CacheLevel) error {
	if !l.Valid() {
		return &InvalidArgumentError{What: "cache level", Value: int(l)}
	}
	s.level.Store(int32(l))
	s.log.Debug("cache level set to " + l.String())
	return nil
}

// Requests returns the number of remote calls issued so far.
func (s *Session) Requests() int {
	return int(s.requests.Load())
}

// Call issues one remote call. Failures are wrapped in RemoteFaultError.
func (s *Session) Call(ctx context.Context, method string, params ...any) (any, error) {
	s.requests.Add(1)
	s.log.Debug("calling "+method, "params", params)
	v, err := s.caller.Call(ctx, method, params...)
	if err != nil {
		return nil, &RemoteFaultError{Method: method, Cause: err}
	}
	return v, nil
}

// Forget drops every cached instance of kind and re-arms its bulk load.
// Instances already handed out stay valid but are no longer shared.
func (s *Session) Forget(kind *Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registries, kind.Name)
}

// Discard flushes f and logs, rather than returns, any failure. It is the
// explicit counterpart of dropping a buffered object.
func (s *Session) Discard(ctx context.Context, f Flusher) {
	if err := f.Flush(ctx); err != nil {
		name := "object"
		if e, ok := f.(interface{ Identifier() string }); ok {
			name = e.Identifier()
		}
		s.log.Error("failed to save "+name, "err", err)
	}
}
