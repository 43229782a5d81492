package tcms

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/CaliLuke/go-nitrate/localstore"
	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

var fixturePath = filepath.Join("..", "localstore", "testdata", "nitrate.yaml")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Recording caller ---

type call struct {
	method string
	params []any
}

// recorder forwards to a store, records every call and can fail chosen
// methods.
type recorder struct {
	next remote.Caller

	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (r *recorder) Call(ctx context.Context, method string, params ...any) (any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{method: method, params: params})
	err := r.fail[method]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.next.Call(ctx, method, params...)
}

func (r *recorder) failMethod(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = map[string]error{}
	}
	r.fail[method] = err
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (r *recorder) callsTo(method string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// --- Fixture server ---

type fixture struct {
	store *localstore.Store
	rec   *recorder
	c     *Client
}

// newFixture opens an in-memory store seeded with the shared fixtures and
// a client over it.
func newFixture(t *testing.T, opts ...nitrate.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := localstore.Open(ctx, "", localstore.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.LoadFixtureFile(ctx, fixturePath); err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	f := &fixture{store: store, rec: &recorder{next: store}}
	f.c = New(f.rec, append([]nitrate.Option{nitrate.WithLogger(quietLogger())}, opts...)...)
	return f
}

// fresh returns a client with an empty session over the same store.
func (f *fixture) fresh() *Client {
	return New(f.store, nitrate.WithLogger(quietLogger()))
}

func mustID(t *testing.T, e nitrate.Entity) int {
	t.Helper()
	id, err := e.ID(context.Background())
	if err != nil {
		t.Fatalf("id of %s: %v", e.Identifier(), err)
	}
	return id
}

// mustGet takes a (value, error) pair and returns a check that fails the
// test on error: mustGet(tc.Summary(ctx))(t).
func mustGet[T any](v T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return v
	}
}
