package nitrate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/CaliLuke/go-nitrate/remote"
)

func TestWidgetFetchPopulatesAllFields(t *testing.T) {
	srv := newWidgetServer()
	mock := srv.caller()
	s := newTestSession(t, mock)

	w := Lookup(context.Background(), s, widgetKind, 7, newWidget)
	if w.Materialized() {
		t.Fatal("construction must not fetch")
	}
	assertCalls(t, mock, "Widget.get", 0)

	if got := mustGet(t, w, &w.name); got != "Gadget" {
		t.Errorf("name = %q, want %q", got, "Gadget")
	}
	owner := mustGet(t, w, &w.owner)
	id, ok := owner.Identity()
	if !ok || id != 42 {
		t.Errorf("owner identity = %d, %v; want 42, true", id, ok)
	}
	assertCalls(t, mock, "Widget.get", 1)
	assertCalls(t, mock, "Gadget.filter", 0)
	if owner.Materialized() {
		t.Error("owner should stay identity-only until its own fields are read")
	}

	if got := mustGet(t, owner, &owner.label); got != "blue" {
		t.Errorf("owner label = %q, want %q", got, "blue")
	}
	assertCalls(t, mock, "Gadget.filter", 1)
}

func TestIdentifier(t *testing.T) {
	s := newTestSession(t, newWidgetServer().caller())
	w := newWidget(s, 7)
	if got := w.Identifier(); got != "W#7" {
		t.Errorf("Identifier() = %q, want %q", got, "W#7")
	}
	g := gadgetByLabel(s, "blue")
	if got := g.Identifier(); got != "G#?" {
		t.Errorf("Identifier() = %q, want %q", got, "G#?")
	}
}

func TestObjectsLevelSharesInstances(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	mock := srv.caller()
	s := newTestSession(t, mock)

	a := Lookup(ctx, s, widgetKind, 7, newWidget)
	b := Lookup(ctx, s, widgetKind, 7, newWidget)
	if a != b {
		t.Fatal("expected one shared instance at CacheObjects")
	}

	if err := Set(ctx, a, "name", &a.name, "Renamed"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	assertCalls(t, mock, "Widget.update", 0)
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := mustGet(t, b, &b.name); got != "Renamed" {
		t.Errorf("name via second reference = %q, want %q", got, "Renamed")
	}
	if got := srv.name(7); got != "Renamed" {
		t.Errorf("server name = %q, want %q", got, "Renamed")
	}
	assertCalls(t, mock, "Widget.get", 1)
	assertCalls(t, mock, "Widget.update", 1)
}

func TestNoneLevelWritesThrough(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	mock := srv.caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheNone))

	a := Lookup(ctx, s, widgetKind, 7, newWidget)
	b := Lookup(ctx, s, widgetKind, 7, newWidget)
	if a == b {
		t.Fatal("expected independent instances at CacheNone")
	}
	if !Same(a, b) {
		t.Error("instances with the same id must compare equal")
	}

	if err := Set(ctx, a, "name", &a.name, "Direct"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	assertCalls(t, mock, "Widget.update", 1)
	if got := srv.name(7); got != "Direct" {
		t.Errorf("server name = %q before any flush, want %q", got, "Direct")
	}
	if a.Dirty() {
		t.Error("write-through must leave the entity clean")
	}
	if got := mustGet(t, b, &b.name); got != "Direct" {
		t.Errorf("independent instance name = %q, want %q", got, "Direct")
	}
}

func TestChangesLevelBuffersWithoutSharing(t *testing.T) {
	ctx := context.Background()
	srv := newWidgetServer()
	mock := srv.caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheChanges))

	a := Lookup(ctx, s, widgetKind, 7, newWidget)
	if a == Lookup(ctx, s, widgetKind, 7, newWidget) {
		t.Fatal("expected independent instances at CacheChanges")
	}
	if err := Set(ctx, a, "name", &a.name, "Later"); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, mock, "Widget.update", 0)
	if !a.Dirty() {
		t.Error("expected buffered change")
	}
}

func TestFlushTwiceUpdatesOnce(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)
	w := newWidget(s, 7)

	if err := Set(ctx, w, "name", &w.name, "Once"); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := w.Flush(ctx); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	assertCalls(t, mock, "Widget.update", 1)

	calls := mock.callsTo("Widget.update")
	if calls[0].params[0] != 7 {
		t.Errorf("update id = %v, want 7", calls[0].params[0])
	}
	if rec := calls[0].params[1].(remote.Record); rec["name"] != "Once" {
		t.Errorf("update record = %v", rec)
	}
}

func TestSetEqualValueIsNoop(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheNone))
	w := newWidget(s, 7)

	if err := Set(ctx, w, "name", &w.name, "Gadget"); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, mock, "Widget.get", 1)
	assertCalls(t, mock, "Widget.update", 0)

	sameOwner := newGadget(s, 42)
	if !equalValues(mustGet(t, w, &w.owner), sameOwner) {
		t.Error("entities with equal ids must compare equal")
	}
	if equalValues((*gadget)(nil), sameOwner) {
		t.Error("nil entity must differ from a real one")
	}
}

func TestSetLogsChange(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewSession(newWidgetServer().caller(), WithLogger(log))
	w := newWidget(s, 7)

	if err := Set(ctx, w, "name", &w.name, "Loud"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "updating W#7's name to 'Loud'") {
		t.Errorf("log output missing update line:\n%s", buf.String())
	}
}

func TestFailedWriteThroughStaysDirty(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	mock.handlers["Widget.update"] = func([]any) (any, error) {
		return nil, &remote.Fault{Code: 500, Message: "read-only database"}
	}
	s := newTestSession(t, mock, WithCacheLevel(CacheNone))
	w := newWidget(s, 7)

	err := Set(ctx, w, "name", &w.name, "Nope")
	var rf *RemoteFaultError
	if !errors.As(err, &rf) {
		t.Fatalf("expected RemoteFaultError, got %v", err)
	}
	if rf.Method != "Widget.update" {
		t.Errorf("fault method = %q", rf.Method)
	}
	if !w.Dirty() {
		t.Error("a failed write must stay dirty for a later flush")
	}
}

func TestNotFound(t *testing.T) {
	s := newTestSession(t, newWidgetServer().caller())
	w := newWidget(s, 99)

	_, err := Get(context.Background(), w, &w.name)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
	if nf.Kind != "Widget" || nf.Key != "W#99" {
		t.Errorf("NotFoundError = %+v", nf)
	}
	if !remote.IsNotFound(err) {
		t.Error("cause should still carry the server fault")
	}
}

func TestNotFoundFromEmptyFilter(t *testing.T) {
	s := newTestSession(t, newWidgetServer().caller())
	g := newGadget(s, 5)

	_, err := Get(context.Background(), g, &g.label)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if !errors.Is(err, ErrNoRecord) {
		t.Error("expected ErrNoRecord cause")
	}
}

func TestUninitializedIdentity(t *testing.T) {
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)
	g := gadgetByLabel(s, "")

	_, err := g.ID(context.Background())
	var ui *UninitializedIdentityError
	if !errors.As(err, &ui) {
		t.Fatalf("expected UninitializedIdentityError, got %v", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("no remote call expected, got %d", len(mock.calls))
	}
}

func TestNaturalKeyFetchJoinsRegistry(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)

	g := gadgetByLabel(s, "blue")
	id, err := g.ID(ctx)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id != 42 {
		t.Errorf("ID = %d, want 42", id)
	}
	if got := Lookup(ctx, s, gadgetKind, 42, newGadget); got != g {
		t.Error("entity fetched by key should be shared once its id is known")
	}
	if got := mustGet(t, g, &g.label); got != "blue" {
		t.Errorf("label = %q", got)
	}
	assertCalls(t, mock, "Gadget.filter", 1)
}

func TestCacheAllPrefetchesOnce(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheAll))

	var wg sync.WaitGroup
	results := make([]*widget, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Lookup(ctx, s, widgetKind, 7+i%2, newWidget)
		}()
	}
	wg.Wait()

	assertCalls(t, mock, "Widget.filter", 1)
	for i, w := range results {
		if w != results[i%2] {
			t.Fatalf("lookup %d returned a different instance", i)
		}
	}
	if got := mustGet(t, results[1], &results[1].name); got != "Sprocket" {
		t.Errorf("name = %q", got)
	}
	assertCalls(t, mock, "Widget.get", 0)
	if n := s.Cached(widgetKind); n != 2 {
		t.Errorf("Cached = %d, want 2", n)
	}

	Lookup(ctx, s, widgetKind, 8, newWidget)
	assertCalls(t, mock, "Widget.filter", 1)
}

func TestCacheAllReusesPlaceholders(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)

	placeholder := Lookup(ctx, s, widgetKind, 7, newWidget)
	if err := s.SetLevel(CacheAll); err != nil {
		t.Fatal(err)
	}
	if got := Lookup(ctx, s, widgetKind, 7, newWidget); got != placeholder {
		t.Fatal("prefetch must reuse the cached instance")
	}
	if !placeholder.Materialized() {
		t.Error("prefetch should materialize the cached placeholder")
	}
}

func TestPrefetchFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	mock.handlers["Widget.filter"] = func([]any) (any, error) {
		return nil, &remote.Fault{Code: 500, Message: "timeout"}
	}
	s := newTestSession(t, mock, WithCacheLevel(CacheAll))

	w := Lookup(ctx, s, widgetKind, 7, newWidget)
	if got := mustGet(t, w, &w.name); got != "Gadget" {
		t.Errorf("name = %q", got)
	}
	Lookup(ctx, s, widgetKind, 8, newWidget)
	assertCalls(t, mock, "Widget.filter", 1)
	assertCalls(t, mock, "Widget.get", 1)
}

func TestForgetRearmsPrefetch(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock, WithCacheLevel(CacheAll))

	first := Lookup(ctx, s, widgetKind, 7, newWidget)
	s.Forget(widgetKind)
	second := Lookup(ctx, s, widgetKind, 7, newWidget)
	if first == second {
		t.Error("Forget should drop cached instances")
	}
	assertCalls(t, mock, "Widget.filter", 2)
}

func TestAdoptKeepsMaterializedInstance(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newWidgetServer().caller())

	w := Lookup(ctx, s, widgetKind, 7, newWidget)
	if err := Set(ctx, w, "name", &w.name, "Local"); err != nil {
		t.Fatal(err)
	}
	got, err := Adopt(ctx, s, widgetKind, remote.Record{"id": 7, "name": "Stale", "owner_id": 42}, newWidget)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if got != w {
		t.Fatal("Adopt should return the cached instance")
	}
	if name := mustGet(t, w, &w.name); name != "Local" {
		t.Errorf("name = %q, want buffered %q", name, "Local")
	}
}

func TestAdoptMaterializesWithoutFetch(t *testing.T) {
	ctx := context.Background()
	mock := newWidgetServer().caller()
	s := newTestSession(t, mock)

	w, err := Adopt(ctx, s, widgetKind, remote.Record{"id": float64(9), "name": "Embedded", "owner_id": 42}, newWidget)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, w, &w.name); got != "Embedded" {
		t.Errorf("name = %q", got)
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(mock.calls))
	}

	if _, err := Adopt(ctx, s, widgetKind, remote.Record{"name": "no id"}, newWidget); err == nil {
		t.Error("expected error for record without id")
	}
}

func TestSetLevel(t *testing.T) {
	s := newTestSession(t, newWidgetServer().caller())
	if s.Level() != CacheObjects {
		t.Errorf("default level = %v", s.Level())
	}
	var ia *InvalidArgumentError
	if err := s.SetLevel(CacheLevel(7)); !errors.As(err, &ia) {
		t.Errorf("expected InvalidArgumentError, got %v", err)
	}
	if err := s.SetLevel(CacheNone); err != nil || s.Level() != CacheNone {
		t.Errorf("SetLevel(CacheNone) = %v, level %v", err, s.Level())
	}
}

func TestParseCacheLevel(t *testing.T) {
	tests := []struct {
		in   string
		want CacheLevel
		ok   bool
	}{
		{"0", CacheNone, true},
		{"3", CacheAll, true},
		{"changes", CacheChanges, true},
		{"CACHE_OBJECTS", CacheObjects, true},
		{"4", 0, false},
		{"everything", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseCacheLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseCacheLevel(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseCacheLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUpdateOfReadOnlyKind(t *testing.T) {
	ctx := context.Background()
	kind := *widgetKind
	kind.Update = ""
	s := newTestSession(t, newWidgetServer().caller())
	w := newWidget(s, 7)
	w.kind = &kind

	if err := Set(ctx, w, "name", &w.name, "x"); err != nil {
		t.Fatal(err)
	}
	var ni *NotImplementedError
	if err := w.Flush(ctx); !errors.As(err, &ni) {
		t.Fatalf("expected NotImplementedError, got %v", err)
	}
}

func TestLazyLoadsOnce(t *testing.T) {
	var l Lazy[[]int]
	calls := 0
	load := func(context.Context) ([]int, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("flaky")
		}
		return []int{1, 2}, nil
	}
	if _, err := l.Get(context.Background(), load); err == nil {
		t.Fatal("expected first load to fail")
	}
	for range 2 {
		got, err := l.Get(context.Background(), load)
		if err != nil || !reflect.DeepEqual(got, []int{1, 2}) {
			t.Fatalf("Get = %v, %v", got, err)
		}
	}
	if calls != 2 {
		t.Errorf("load called %d times, want 2", calls)
	}
}
