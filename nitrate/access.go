package nitrate

import (
	"context"
	"fmt"
	"reflect"
)

// MutableEntity is an Entity embedding Mutable.
type MutableEntity interface {
	Entity
	Flusher
	mutable() *Mutable
}

// Get returns the value of f, a field of e. An unset field triggers one
// fetch of e which populates every field at once.
func Get[T any](ctx context.Context, e Entity, f *Field[T]) (T, error) {
	b := e.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !f.set {
		if err := b.fill(ctx); err != nil {
			var zero T
			return zero, err
		}
		if !f.set {
			var zero T
			return zero, &NotImplementedError{Kind: b.kind.Name, Operation: "loading this field"}
		}
	}
	return f.value, nil
}

// Set writes v to f, the field called name of m. The current value is read
// first, fetching if needed; an equal value is a no-op. Otherwise the change
// is buffered, or pushed at once when the session caches nothing.
func Set[T any](ctx context.Context, m MutableEntity, name string, f *Field[T], v T) error {
	mu := m.mutable()
	mu.mu.Lock()
	defer mu.mu.Unlock()
	if !f.set {
		if err := mu.fill(ctx); err != nil {
			return err
		}
	}
	if f.set && equalValues(f.value, v) {
		return nil
	}
	f.value = v
	f.set = true
	mu.session.Logger().Info(fmt.Sprintf("updating %s's %s to '%v'", mu.Identifier(), name, display(v)))
	mu.markDirty()
	if mu.session.Level() == CacheNone {
		return mu.update(ctx)
	}
	return nil
}

func equalValues(a, b any) bool {
	ea, oka := a.(Entity)
	eb, okb := b.(Entity)
	if oka || okb {
		if isNilEntity(ea) || isNilEntity(eb) {
			return isNilEntity(ea) && isNilEntity(eb)
		}
		return oka && okb && Same(ea, eb)
	}
	return reflect.DeepEqual(a, b)
}

func isNilEntity(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func display(v any) any {
	if e, ok := v.(Entity); ok && !isNilEntity(e) {
		return e.Identifier()
	}
	if e, ok := v.(Entity); ok && isNilEntity(e) {
		return "None"
	}
	return v
}
