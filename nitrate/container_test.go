package nitrate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestContainerFlushSendsNetDelta(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)
	w := newWidget(s, 7)

	steps := []struct {
		add bool
		tag string
	}{
		{false, "b"},
		{true, "c"},
		{false, "a"},
		{true, "b"},
	}
	for _, st := range steps {
		var err error
		if st.add {
			err = w.tags.Add(ctx, st.tag)
		} else {
			err = w.tags.Remove(ctx, st.tag)
		}
		if err != nil {
			t.Fatalf("step %+v: %v", st, err)
		}
	}
	if !w.tags.Dirty() {
		t.Error("container should be dirty before flush")
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	adds := mock.callsTo("Widget.add_tag")
	removes := mock.callsTo("Widget.remove_tag")
	if len(adds) != 1 || len(removes) != 1 {
		t.Fatalf("add calls = %d, remove calls = %d; want 1 and 1", len(adds), len(removes))
	}
	if got := adds[0].params[1]; !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("added %v, want [c]", got)
	}
	if got := removes[0].params[1]; !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("removed %v, want [a]", got)
	}
	assertCalls(t, mock, "Widget.get_tags", 1)
	assertCalls(t, mock, "Widget.update", 0)

	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, mock, "Widget.add_tag", 1)
}

func TestContainerMembershipBeforeFlush(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)
	w := newWidget(s, 7)

	if err := w.tags.Add(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if ok, err := w.tags.Contains(ctx, "x"); err != nil || !ok {
		t.Errorf("Contains(x) after Add = %v, %v", ok, err)
	}
	if err := w.tags.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := w.tags.Contains(ctx, "a"); ok {
		t.Error("Contains(a) after Remove = true")
	}
	items, err := w.tags.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(items, []string{"b", "x"}) {
		t.Errorf("Items = %v", items)
	}
	assertCalls(t, mock, "Widget.add_tag", 0)
	assertCalls(t, mock, "Widget.remove_tag", 0)
}

func TestContainerAddExistingIsNoop(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheNone))
	w := newWidget(s, 7)

	if err := w.tags.Add(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := w.tags.Remove(ctx, "zzz"); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, mock, "Widget.add_tag", 0)
	assertCalls(t, mock, "Widget.remove_tag", 0)
}

func TestContainerWriteThroughAtNone(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheNone))
	w := newWidget(s, 7)

	if err := w.tags.Add(ctx, "now"); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, mock, "Widget.add_tag", 1)
	if w.tags.Dirty() {
		t.Error("write-through container should be clean")
	}
}

func TestContainerFailedFlushIsRetried(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	srv.failAdd = 1
	mock := srv.caller()
	s := newTestSession(t, mock)
	w := newWidget(s, 7)

	if err := w.tags.Add(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if err := w.tags.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := w.tags.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	assertCalls(t, mock, "Widget.remove_tag", 0)
	if !w.tags.Dirty() {
		t.Error("failed flush must keep the delta")
	}

	if err := w.tags.Flush(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	adds := mock.callsTo("Widget.add_tag")
	if len(adds) != 2 || !reflect.DeepEqual(adds[1].params[1], []string{"c"}) {
		t.Errorf("retry add calls = %v", adds)
	}
	assertCalls(t, mock, "Widget.remove_tag", 1)
}

func TestContainerUnloadedFlushIsNoop(t *testing.T) {
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)
	w := newWidget(s, 7)

	if err := w.tags.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(mock.calls))
	}
	if w.tags.Loaded() {
		t.Error("flush must not load")
	}
}

func TestContainerDescribe(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newWidgetServer().caller())

	w := newWidget(s, 7)
	got, err := w.tags.Describe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "'a' and 'b'" {
		t.Errorf("Describe = %q", got)
	}

	empty := newWidget(s, 8)
	if got, _ := empty.tags.Describe(ctx); got != "[None]" {
		t.Errorf("Describe empty = %q", got)
	}

	owners := NewContainer[int, *gadget](w, "gadgets", ByID[*gadget], &staticMembers[*gadget]{
		items: []*gadget{newGadget(s, 3), newGadget(s, 12), newGadget(s, 1)},
	})
	if got, _ := owners.Describe(ctx); got != "G#1, G#12 and G#3" {
		t.Errorf("Describe identifiers = %q", got)
	}
}

type staticMembers[V any] struct {
	items []V
}

func (m *staticMembers[V]) Load(context.Context) ([]V, error) { return m.items, nil }
func (m *staticMembers[V]) Add(context.Context, []V) error    { return nil }
func (m *staticMembers[V]) Remove(context.Context, []V) error { return nil }

func TestListed(t *testing.T) {
	tests := []struct {
		items []string
		quote string
		want  string
	}{
		{nil, "", ""},
		{[]string{"a"}, "", "a"},
		{[]string{"a", "b"}, "", "a and b"},
		{[]string{"a", "b", "c"}, "'", "'a', 'b' and 'c'"},
	}
	for _, tt := range tests {
		if got := Listed(tt.items, tt.quote); got != tt.want {
			t.Errorf("Listed(%v, %q) = %q, want %q", tt.items, tt.quote, got, tt.want)
		}
	}
}

func TestScopeCloseFlushesAndLogsFailures(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	mock := srv.caller()
	var buf bytes.Buffer
	s := NewSession(mock, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	sc := s.NewScope()
	ok := Hold(sc, newWidget(s, 7))
	missing := Hold(sc, newWidget(s, 99))
	Hold(sc, ok)
	if sc.Len() != 2 {
		t.Errorf("Len = %d, want 2", sc.Len())
	}

	if err := Set(ctx, ok, "name", &ok.name, "Scoped"); err != nil {
		t.Fatal(err)
	}
	if err := missing.tags.Add(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	mock.handlers["Widget.add_tag"] = func([]any) (any, error) {
		return nil, errBroken
	}

	sc.Close(ctx)
	sc.Close(ctx)

	if got := srv.name(7); got != "Scoped" {
		t.Errorf("server name = %q", got)
	}
	if !strings.Contains(buf.String(), "failed to save W#99") {
		t.Errorf("expected failure to be logged:\n%s", buf.String())
	}
	assertCalls(t, mock, "Widget.update", 1)
}

func TestContainerChangesAreAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheNone))
	w := newWidget(s, 7)
	errBadTag := errors.New("bad tag")
	strict := func(_ context.Context, v string) (string, error) {
		if v == "bad" {
			return "", errBadTag
		}
		return v, nil
	}
	tags := NewContainer[string, string](w, "tags", strict, &widgetTags{w: w})

	if err := tags.Add(ctx, "x", "bad"); !errors.Is(err, errBadTag) {
		t.Fatalf("Add error = %v", err)
	}
	if err := tags.Remove(ctx, "a", "bad"); !errors.Is(err, errBadTag) {
		t.Fatalf("Remove error = %v", err)
	}
	if ok, err := tags.Contains(ctx, "x"); err != nil || ok {
		t.Errorf("Contains(x) = %v, %v; want false", ok, err)
	}
	if ok, err := tags.Contains(ctx, "a"); err != nil || !ok {
		t.Errorf("Contains(a) = %v, %v; want true", ok, err)
	}
	if tags.Dirty() {
		t.Error("a rejected change left the container dirty")
	}
	assertCalls(t, mock, "Widget.add_tag", 0)
	assertCalls(t, mock, "Widget.remove_tag", 0)
}

// syncBuffer is a log sink safe for writes from cleanup goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestUnreachableDirtyObjectLogsWarning(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	mock := srv.caller()
	var buf syncBuffer
	s := NewSession(mock, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))), WithCacheLevel(CacheChanges))

	func() {
		w := newWidget(s, 7)
		if err := Set(ctx, w, "name", &w.name, "Lost"); err != nil {
			t.Fatal(err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), "discarding unsaved changes") {
		if time.Now().After(deadline) {
			t.Fatalf("expected a warning for the dropped widget:\n%s", buf.String())
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(buf.String(), "entity=W#7") {
		t.Errorf("warning does not name the widget:\n%s", buf.String())
	}
	assertCalls(t, mock, "Widget.update", 0)
}

func TestFlushedObjectDropsQuietly(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	mock := srv.caller()
	var buf syncBuffer
	s := NewSession(mock, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))), WithCacheLevel(CacheChanges))

	func() {
		w := newWidget(s, 7)
		if err := Set(ctx, w, "name", &w.name, "Saved"); err != nil {
			t.Fatal(err)
		}
		if err := w.Flush(ctx); err != nil {
			t.Fatal(err)
		}
	}()
	for range 5 {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if strings.Contains(buf.String(), "discarding unsaved changes") {
		t.Errorf("flushed widget logged a warning:\n%s", buf.String())
	}
}

var errBroken = &NotImplementedError{Kind: "Widget", Operation: "tagging"}
