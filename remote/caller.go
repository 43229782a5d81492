package remote

import (
	"context"
	"sync"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("go-nitrate/remote")

// Caller issues one remote procedure call and returns its decoded result.
// Results are plain values: maps, lists, strings, numbers, booleans and nil.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (any, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, method string, params ...any) (any, error)

// Call invokes f.
func (f CallerFunc) Call(ctx context.Context, method string, params ...any) (any, error) {
	return f(ctx, method, params...)
}

type serialCaller struct {
	mu   sync.Mutex
	next Caller
}

// Serialize returns a Caller that lets at most one call through to next at
// a time. Wrapping an already serialized Caller returns it unchanged.
func Serialize(next Caller) Caller {
	if s, ok := next.(*serialCaller); ok {
		return s
	}
	return &serialCaller{next: next}
}

func (s *serialCaller) Call(ctx context.Context, method string, params ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.next.Call(ctx, method, params...)
}

type tracedCaller struct {
	next Caller
}

// Traced returns a Caller that records one span per call.
func Traced(next Caller) Caller {
	return &tracedCaller{next: next}
}

func (t *tracedCaller) Call(ctx context.Context, method string, params ...any) (result any, err error) {
	ctx, span := tracer.Start(ctx, "call",
		trace.WithAttributes(
			attribute.String("nitrate.method", method),
			attribute.Int("nitrate.params", len(params)),
		),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	return t.next.Call(ctx, method, params...)
}
