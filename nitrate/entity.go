// Package nitrate provides the lazily loaded, cached entity layer over a
// Nitrate server. Entities fetch themselves on first field access, share one
// instance per id through a session registry and buffer changes until they
// are flushed.
package nitrate

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/CaliLuke/go-nitrate/remote"
)

// Entity is implemented by every type embedding Base.
type Entity interface {
	ID(ctx context.Context) (int, error)
	Identity() (int, bool)
	Identifier() string
	Kind() *Kind
	Session() *Session
	base() *Base
}

// Materializer is an Entity that can populate all of its fields from one
// record. Materialize runs with the entity locked and must either set every
// field or return an error before setting any.
type Materializer interface {
	Entity
	Materialize(ctx context.Context, rec remote.Record) error
}

// KeyFetcher is implemented by entity types that can be located by a natural
// key when their id is unknown.
type KeyFetcher interface {
	// HasKey reports whether a natural key was given.
	HasKey() bool
	// FetchByKey returns the record matching the natural key.
	FetchByKey(ctx context.Context) (remote.Record, error)
}

// Updater is implemented by mutable entity types. UpdateRecord runs with the
// entity locked and returns the full set of writable fields.
type Updater interface {
	UpdateRecord(ctx context.Context) (remote.Record, error)
}

// Base carries identity and fetch state. It is embedded by value in every
// entity type and initialized with Init.
type Base struct {
	session *Session
	kind    *Kind
	self    Materializer

	id    atomic.Int64
	hasID atomic.Bool

	// mu guards materialized and the Field values of the embedding type.
	mu           sync.Mutex
	materialized bool
}

// Init binds an entity to its session and kind. It must be called once from
// the entity's constructor, before the entity is shared.
func Init[E any, P interface {
	*E
	Materializer
}](p P, s *Session, kind *Kind) {
	b := p.base()
	b.session = s
	b.kind = kind
	b.self = p
	if m, ok := any(p).(interface{ mutable() *Mutable }); ok {
		st := m.mutable().state
		st.log = s.Logger()
		runtime.AddCleanup((*E)(p), warnUnsaved, st)
	}
}

func (b *Base) base() *Base {
	return b
}

// Session returns the owning session.
func (b *Base) Session() *Session {
	return b.session
}

// Kind returns the entity kind.
func (b *Base) Kind() *Kind {
	return b.kind
}

// Identify sets the id. It is used by constructors and Materialize.
func (b *Base) Identify(id int) {
	b.id.Store(int64(id))
	b.hasID.Store(true)
	if m, ok := b.self.(interface{ mutable() *Mutable }); ok {
		m.mutable().state.identifier.Store(b.Identifier())
	}
}

// Identity returns the id without fetching.
func (b *Base) Identity() (int, bool) {
	if !b.hasID.Load() {
		return 0, false
	}
	return int(b.id.Load()), true
}

// ID returns the id, fetching by natural key when it is not known yet.
func (b *Base) ID(ctx context.Context) (int, error) {
	if id, ok := b.Identity(); ok {
		return id, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fill(ctx); err != nil {
		return 0, err
	}
	id, ok := b.Identity()
	if !ok {
		return 0, &UninitializedIdentityError{Kind: b.kind.Name}
	}
	return id, nil
}

// Identifier returns the display identifier, e.g. "TC#42". An unknown id is
// shown as "?".
func (b *Base) Identifier() string {
	if id, ok := b.Identity(); ok {
		return b.kind.Prefix + "#" + strconv.Itoa(id)
	}
	return b.kind.Prefix + "#?"
}

// Materialized reports whether the entity has been populated from a record.
func (b *Base) Materialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.materialized
}

// Same reports whether a and b denote the same server object.
func Same(a, b Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind().Name != b.Kind().Name {
		return false
	}
	ida, oka := a.Identity()
	idb, okb := b.Identity()
	if !oka || !okb {
		return a == b
	}
	return ida == idb
}

// fill fetches the entity unless it is already materialized. b.mu is held.
func (b *Base) fill(ctx context.Context) error {
	if b.materialized {
		return nil
	}
	return b.fetch(ctx)
}

// fetch issues exactly one remote read and materializes the result. b.mu is
// held.
func (b *Base) fetch(ctx context.Context) error {
	log := b.session.Logger()
	var (
		rec   remote.Record
		err   error
		byKey bool
	)
	if id, ok := b.Identity(); ok {
		if b.kind.Fetch == nil {
			return &NotImplementedError{Kind: b.kind.Name, Operation: "fetch"}
		}
		log.Info("fetching " + b.Identifier())
		rec, err = b.kind.Fetch(ctx, b.session, id)
	} else if kf, ok := b.self.(KeyFetcher); ok && kf.HasKey() {
		log.Info("fetching " + b.kind.Name + " by key")
		byKey = true
		rec, err = kf.FetchByKey(ctx)
	} else {
		return &UninitializedIdentityError{Kind: b.kind.Name}
	}
	if err != nil {
		return b.fetchError(err)
	}

	log.Debug("fetched "+b.kind.Name, "record", rec)
	if err := b.self.Materialize(ctx, rec); err != nil {
		return fmt.Errorf("materialize %s: %w", b.Identifier(), err)
	}
	b.materialized = true
	if _, ok := b.Identity(); !ok {
		id, err := rec.Int(b.kind.IDKey)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", b.Identifier(), err)
		}
		b.Identify(id)
	}
	if byKey {
		b.session.offer(b.self)
	}
	return nil
}

func (b *Base) fetchError(err error) error {
	if errors.Is(err, ErrNoRecord) || remote.IsNotFound(err) {
		return &NotFoundError{Kind: b.kind.Name, Key: b.Identifier(), Cause: err}
	}
	var rf *RemoteFaultError
	if errors.As(err, &rf) {
		return fmt.Errorf("fetch %s: %w", b.Identifier(), err)
	}
	return &RemoteFaultError{Method: "fetch " + b.Identifier(), Cause: err}
}
