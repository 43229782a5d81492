package nitrate

import (
	"context"
	"fmt"
	"sync"

	"github.com/CaliLuke/go-nitrate/remote"
)

// registry maps ids to the shared instance of one kind.
type registry struct {
	mu       sync.Mutex
	items    map[int]Entity
	prefetch sync.Once
}

func (s *Session) registryFor(kind *Kind) *registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registries[kind.Name]
	if !ok {
		r = &registry{items: make(map[int]Entity)}
		s.registries[kind.Name] = r
	}
	return r
}

// Cached returns the number of instances of kind held by the session.
func (s *Session) Cached(kind *Kind) int {
	r := s.registryFor(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// offer registers e if no instance with its id is cached yet.
func (s *Session) offer(e Entity) {
	if s.Level() < CacheObjects {
		return
	}
	id, ok := e.Identity()
	if !ok {
		return
	}
	r := s.registryFor(e.Kind())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[id]; !exists {
		r.items[id] = e
	}
}

type prefetchKey struct{ kind string }

// Lookup returns the entity of kind with the given id. At CacheObjects and
// above the same instance is returned for the same id; below, every call
// constructs a fresh one. Construction never fetches. At CacheAll the first
// lookup of a kind with a bulk method loads every instance of it.
func Lookup[E Materializer](ctx context.Context, s *Session, kind *Kind, id int, construct func(*Session, int) E) E {
	level := s.Level()
	if level < CacheObjects {
		return construct(s, id)
	}
	r := s.registryFor(kind)
	if level == CacheAll && kind.All != "" && ctx.Value(prefetchKey{kind.Name}) == nil {
		r.prefetch.Do(func() { prefetchAll(ctx, s, kind, r, construct) })
	}
	return lookupIn(r, s, id, construct)
}

// Adopt returns the entity described by rec, an embedded or search result
// record. A cached instance that is already materialized is returned as is.
func Adopt[E Materializer](ctx context.Context, s *Session, kind *Kind, rec remote.Record, construct func(*Session, int) E) (E, error) {
	id, err := rec.Int(kind.IDKey)
	if err != nil {
		var zero E
		return zero, fmt.Errorf("adopt %s: %w", kind.Name, err)
	}
	e := Lookup(ctx, s, kind, id, construct)
	if err := materialize(ctx, e, rec); err != nil {
		var zero E
		return zero, err
	}
	return e, nil
}

func prefetchAll[E Materializer](ctx context.Context, s *Session, kind *Kind, r *registry, construct func(*Session, int) E) {
	ctx = context.WithValue(ctx, prefetchKey{kind.Name}, true)
	s.Logger().Info("caching all " + kind.Name + " objects")
	v, err := s.Call(ctx, kind.All, remote.Record{})
	if err != nil {
		s.Logger().Warn("bulk load failed, loading individually", "kind", kind.Name, "err", err)
		return
	}
	recs, err := remote.AsRecords(v)
	if err != nil {
		s.Logger().Warn("bulk load failed, loading individually", "kind", kind.Name, "err", err)
		return
	}
	for _, rec := range recs {
		id, err := rec.Int(kind.IDKey)
		if err != nil {
			s.Logger().Warn("skipping record without id", "kind", kind.Name, "err", err)
			continue
		}
		e := lookupIn(r, s, id, construct)
		if err := materialize(ctx, e, rec); err != nil {
			s.Logger().Warn("skipping bad record", "kind", kind.Name, "id", id, "err", err)
		}
	}
}

func lookupIn[E Materializer](r *registry, s *Session, id int, construct func(*Session, int) E) E {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.items[id]; ok {
		if e, ok := cached.(E); ok {
			return e
		}
	}
	e := construct(s, id)
	r.items[id] = e
	return e
}

// materialize populates e from rec unless it already is.
func materialize(ctx context.Context, e Materializer, rec remote.Record) error {
	b := e.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.materialized {
		return nil
	}
	if err := e.Materialize(ctx, rec); err != nil {
		return fmt.Errorf("materialize %s: %w", e.Identifier(), err)
	}
	b.materialized = true
	return nil
}
