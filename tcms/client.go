// Package tcms maps the Nitrate test case management objects onto the
// nitrate entity layer: products, builds, users, test plans, runs, cases,
// case runs and bugs, with their tags and links.
package tcms

import (
	"context"
	"fmt"
	"sync"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

// Client gives typed access to the objects of one server session.
type Client struct {
	s *nitrate.Session

	meOnce sync.Once
	me     *User
}

// New creates a client with a fresh session over c.
func New(c remote.Caller, opts ...nitrate.Option) *Client {
	return &Client{s: nitrate.NewSession(c, opts...)}
}

// NewWithSession wraps an existing session.
func NewWithSession(s *nitrate.Session) *Client {
	return &Client{s: s}
}

// Session returns the underlying session.
func (c *Client) Session() *nitrate.Session {
	return c.s
}

// String summarizes the session.
func (c *Client) String() string {
	return fmt.Sprintf("Nitrate session %s\nTotal requests handled: %d", c.s.ID(), c.s.Requests())
}

// ForgetUsers drops the cached users, e.g. after accounts were added.
func (c *Client) ForgetUsers() {
	c.s.Forget(userKind)
}

// --- Record decoding helpers ---

// ref returns the entity referenced by an id field, or nil for a null id.
func ref[E nitrate.Materializer](ctx context.Context, s *nitrate.Session, rec remote.Record, key string, kind *nitrate.Kind, construct func(*nitrate.Session, int) E) (E, error) {
	var zero E
	id, ok, err := rec.OptInt(key)
	if err != nil || !ok {
		return zero, err
	}
	return nitrate.Lookup(ctx, s, kind, id, construct), nil
}

// identityOf returns the id of a possibly nil entity reference.
func identityOf[T any, E interface {
	*T
	nitrate.Entity
}](ctx context.Context, e E) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.ID(ctx)
}

// decodeList converts a list result into entities with Adopt.
func decodeList[E nitrate.Materializer](ctx context.Context, s *nitrate.Session, v any, kind *nitrate.Kind, construct func(*nitrate.Session, int) E) ([]E, error) {
	recs, err := remote.AsRecords(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s list: %w", kind.Name, err)
	}
	out := make([]E, 0, len(recs))
	for _, rec := range recs {
		e, err := nitrate.Adopt(ctx, s, kind, rec, construct)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// search runs a filter method and adopts every result.
func search[E nitrate.Materializer](ctx context.Context, s *nitrate.Session, method string, kind *nitrate.Kind, construct func(*nitrate.Session, int) E, filters []Filter) ([]E, error) {
	q := Query(filters...)
	s.Logger().Debug("searching "+kind.Name, "query", q)
	v, err := s.Call(ctx, method, q)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", kind.Name, err)
	}
	return decodeList(ctx, s, v, kind, construct)
}

// created adopts the record returned by a create method.
func created[E nitrate.Materializer](ctx context.Context, s *nitrate.Session, method string, kind *nitrate.Kind, construct func(*nitrate.Session, int) E, data remote.Record) (E, error) {
	var zero E
	s.Logger().Info("creating a new " + kind.Name)
	s.Logger().Debug("create data", "kind", kind.Name, "record", data)
	v, err := s.Call(ctx, method, data)
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", kind.Name, err)
	}
	rec, err := remote.AsRecord(v)
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", kind.Name, err)
	}
	e, err := nitrate.Adopt(ctx, s, kind, rec, construct)
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", kind.Name, err)
	}
	s.Logger().Info("successfully created " + e.Identifier())
	return e, nil
}

func required(what string, missing bool) error {
	if missing {
		return &nitrate.InvalidArgumentError{What: what, Value: "missing"}
	}
	return nil
}
