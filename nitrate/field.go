package nitrate

// Field holds one lazily loaded entity attribute. The zero value is unset:
// it marks a value that has not been fetched yet and differs from any value
// the server can return, nil included.
type Field[T any] struct {
	value T
	set   bool
}

// Put stores v. Materialize implementations call it with the owning entity
// locked.
func (f *Field[T]) Put(v T) {
	f.value = v
	f.set = true
}

// Peek returns the stored value without fetching.
func (f *Field[T]) Peek() (T, bool) {
	return f.value, f.set
}

// Loaded reports whether a value is stored.
func (f *Field[T]) Loaded() bool {
	return f.set
}

// Reset returns f to the unset state.
func (f *Field[T]) Reset() {
	var zero T
	f.value = zero
	f.set = false
}
