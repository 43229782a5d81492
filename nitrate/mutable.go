package nitrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Flusher pushes buffered changes to the server.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Mutable is embedded by entity types whose fields can be written. It adds
// the dirty flag and the list of owned containers flushed along with the
// entity.
type Mutable struct {
	Base
	state    *mutableState
	children []Flusher
}

// mutableState is kept apart from the entity so that a runtime cleanup can
// inspect it after the entity is unreachable.
type mutableState struct {
	dirty      atomic.Bool
	identifier atomic.Value
	log        *slog.Logger
}

func (m *Mutable) mutable() *Mutable {
	if m.state == nil {
		m.state = &mutableState{}
	}
	return m
}

func warnUnsaved(st *mutableState) {
	if !st.dirty.Load() {
		return
	}
	id, _ := st.identifier.Load().(string)
	if st.log == nil {
		st.log = slog.Default()
	}
	st.log.Warn("discarding unsaved changes", "entity", id)
}

// Own registers containers or sub-entities flushed before the entity's own
// update. Constructors call it once.
func (m *Mutable) Own(children ...Flusher) {
	m.children = append(m.children, children...)
}

// Dirty reports whether scalar changes are waiting to be flushed.
func (m *Mutable) Dirty() bool {
	return m.mutable().state.dirty.Load()
}

// Flush pushes owned children first, then the entity's own changes if it is
// dirty. A clean entity with clean children issues no remote call.
func (m *Mutable) Flush(ctx context.Context) error {
	for _, c := range m.children {
		if err := c.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", m.Identifier(), err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(ctx)
}

// update sends the kind's update method when dirty. m.mu is held.
func (m *Mutable) update(ctx context.Context) error {
	st := m.mutable().state
	if !st.dirty.Load() {
		return nil
	}
	if err := m.push(ctx); err != nil {
		return err
	}
	st.dirty.Store(false)
	return nil
}

// push sends the full writable field set. m.mu is held.
func (m *Mutable) push(ctx context.Context) error {
	u, ok := m.self.(Updater)
	if !ok || m.kind.Update == "" {
		return &NotImplementedError{Kind: m.kind.Name, Operation: "update"}
	}
	id, ok := m.Identity()
	if !ok {
		return &UninitializedIdentityError{Kind: m.kind.Name}
	}
	rec, err := u.UpdateRecord(ctx)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.Identifier(), err)
	}
	m.session.Logger().Info("updating " + m.Identifier())
	m.session.Logger().Debug("update data", "entity", m.Identifier(), "record", rec)
	if _, err := m.session.Call(ctx, m.kind.Update, id, rec); err != nil {
		return fmt.Errorf("update %s: %w", m.Identifier(), err)
	}
	return nil
}

func (m *Mutable) markDirty() {
	m.mutable().state.dirty.Store(true)
}
