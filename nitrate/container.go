package nitrate

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Members is the remote side of a Container.
//
// Add must be idempotent on the server: when a flush fails after the add
// call succeeded, the next flush sends the same additions again.
type Members[V any] interface {
	// Load returns the current members.
	Load(ctx context.Context) ([]V, error)
	// Add links items to the owner.
	Add(ctx context.Context, items []V) error
	// Remove unlinks items from the owner.
	Remove(ctx context.Context, items []V) error
}

// KeyFunc returns the identity of a container item.
type KeyFunc[K cmp.Ordered, V any] func(ctx context.Context, v V) (K, error)

// ByID keys entity items by their id.
func ByID[E Entity](ctx context.Context, e E) (int, error) {
	return e.ID(ctx)
}

// ByValue keys items by themselves.
func ByValue[K cmp.Ordered](_ context.Context, v K) (K, error) {
	return v, nil
}

// Container is a set-valued relation of an owner entity. It loads the
// current members on first use, records local additions and removals and
// reconciles them with the server on Flush.
type Container[K cmp.Ordered, V any] struct {
	owner   Entity
	name    string
	key     KeyFunc[K, V]
	members Members[V]

	mu       sync.Mutex
	current  map[K]V
	original map[K]V
	dirty    bool
}

// NewContainer creates an unloaded container. name is used in logs, e.g.
// "tags".
func NewContainer[K cmp.Ordered, V any](owner Entity, name string, key KeyFunc[K, V], members Members[V]) *Container[K, V] {
	return &Container[K, V]{owner: owner, name: name, key: key, members: members}
}

// Name returns the container name.
func (c *Container[K, V]) Name() string {
	return c.name
}

// Loaded reports whether the members have been fetched.
func (c *Container[K, V]) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Dirty reports whether local changes wait to be flushed.
func (c *Container[K, V]) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func (c *Container[K, V]) log(msg string, args ...any) {
	c.owner.Session().Logger().Info(msg, args...)
}

// load fetches the members once. c.mu is held.
func (c *Container[K, V]) load(ctx context.Context) error {
	if c.current != nil {
		return nil
	}
	c.log(fmt.Sprintf("fetching %s for %s", c.name, c.owner.Identifier()))
	items, err := c.members.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s of %s: %w", c.name, c.owner.Identifier(), err)
	}
	cur := make(map[K]V, len(items))
	for _, it := range items {
		k, err := c.key(ctx, it)
		if err != nil {
			return fmt.Errorf("load %s of %s: %w", c.name, c.owner.Identifier(), err)
		}
		cur[k] = it
	}
	c.current = cur
	c.original = maps.Clone(cur)
	return nil
}

// Add includes items. Items already present are ignored.
func (c *Container[K, V]) Add(ctx context.Context, items ...V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return err
	}
	keys, err := c.keys(ctx, items)
	if err != nil {
		return fmt.Errorf("add to %s of %s: %w", c.name, c.owner.Identifier(), err)
	}
	changed := false
	for i, k := range keys {
		if _, ok := c.current[k]; !ok {
			c.current[k] = items[i]
			changed = true
		}
	}
	return c.changed(ctx, changed)
}

// Remove excludes items. Items not present are ignored.
func (c *Container[K, V]) Remove(ctx context.Context, items ...V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return err
	}
	keys, err := c.keys(ctx, items)
	if err != nil {
		return fmt.Errorf("remove from %s of %s: %w", c.name, c.owner.Identifier(), err)
	}
	changed := false
	for _, k := range keys {
		if _, ok := c.current[k]; ok {
			delete(c.current, k)
			changed = true
		}
	}
	return c.changed(ctx, changed)
}

// keys resolves the key of every item before any is applied, so Add and
// Remove change nothing when one key fails.
func (c *Container[K, V]) keys(ctx context.Context, items []V) ([]K, error) {
	keys := make([]K, len(items))
	for i, it := range items {
		k, err := c.key(ctx, it)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// changed marks the container dirty, flushing at once when the owner's
// session caches nothing. c.mu is held.
func (c *Container[K, V]) changed(ctx context.Context, changed bool) error {
	if !changed {
		return nil
	}
	c.dirty = true
	if c.owner.Session().Level() == CacheNone {
		return c.flush(ctx)
	}
	return nil
}

// Flush sends additions, then removals. The baseline is moved to the
// current set only when both succeed, so a failed flush is retried in full.
func (c *Container[K, V]) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush(ctx)
}

func (c *Container[K, V]) flush(ctx context.Context) error {
	if c.current == nil {
		return nil
	}
	added := difference(c.current, c.original)
	removed := difference(c.original, c.current)
	if len(added) > 0 {
		c.log(fmt.Sprintf("adding %d %s to %s", len(added), c.name, c.owner.Identifier()))
		if err := c.members.Add(ctx, added); err != nil {
			return fmt.Errorf("add %s to %s: %w", c.name, c.owner.Identifier(), err)
		}
	}
	if len(removed) > 0 {
		c.log(fmt.Sprintf("removing %d %s from %s", len(removed), c.name, c.owner.Identifier()))
		if err := c.members.Remove(ctx, removed); err != nil {
			return fmt.Errorf("remove %s from %s: %w", c.name, c.owner.Identifier(), err)
		}
	}
	c.original = maps.Clone(c.current)
	c.dirty = false
	return nil
}

// difference returns the values of a whose keys are not in b, sorted by key.
func difference[K cmp.Ordered, V any](a, b map[K]V) []V {
	var out []V
	for _, k := range slices.Sorted(maps.Keys(a)) {
		if _, ok := b[k]; !ok {
			out = append(out, a[k])
		}
	}
	return out
}

// Contains reports whether v is a member.
func (c *Container[K, V]) Contains(ctx context.Context, v V) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return false, err
	}
	k, err := c.key(ctx, v)
	if err != nil {
		return false, err
	}
	_, ok := c.current[k]
	return ok, nil
}

// Len returns the number of members.
func (c *Container[K, V]) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return 0, err
	}
	return len(c.current), nil
}

// Items returns the members sorted by key.
func (c *Container[K, V]) Items(ctx context.Context) ([]V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	out := make([]V, 0, len(c.current))
	for _, k := range slices.Sorted(maps.Keys(c.current)) {
		out = append(out, c.current[k])
	}
	return out, nil
}

// Describe renders the members for display: sorted identifiers when the
// items have one, quoted values otherwise, and "[None]" when empty.
func (c *Container[K, V]) Describe(ctx context.Context) (string, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "[None]", nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		named, ok := any(it).(interface{ Identifier() string })
		if !ok {
			break
		}
		ids = append(ids, named.Identifier())
	}
	if len(ids) == len(items) {
		slices.Sort(ids)
		return Listed(ids, ""), nil
	}
	values := make([]string, len(items))
	for i, it := range items {
		values[i] = fmt.Sprint(it)
	}
	return Listed(values, "'"), nil
}
