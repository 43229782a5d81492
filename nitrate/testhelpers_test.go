package nitrate

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/CaliLuke/go-nitrate/remote"
)

// --- Recording mock caller ---

type call struct {
	method string
	params []any
}

type mockCaller struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(params []any) (any, error)
}

func (m *mockCaller) Call(_ context.Context, method string, params ...any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{method: method, params: params})
	h := m.handlers[method]
	m.mu.Unlock()
	if h == nil {
		return nil, &remote.Fault{Code: 500, Message: "unexpected call " + method}
	}
	return h(params)
}

func (m *mockCaller) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (m *mockCaller) callsTo(method string) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// --- Fake widget server ---

type widgetServer struct {
	mu      sync.Mutex
	widgets map[int]remote.Record
	gadgets map[int]string
	tags    map[int]map[string]bool
	failAdd int
}

func newWidgetServer() *widgetServer {
	return &widgetServer{
		widgets: map[int]remote.Record{
			7: {"id": 7, "name": "Gadget", "owner_id": 42},
			8: {"id": 8, "name": "Sprocket", "owner_id": 42},
		},
		gadgets: map[int]string{42: "blue"},
		tags: map[int]map[string]bool{
			7: {"a": true, "b": true},
		},
	}
}

func (ws *widgetServer) caller() *mockCaller {
	return &mockCaller{handlers: map[string]func([]any) (any, error){
		"Widget.get":        ws.get,
		"Widget.filter":     ws.filter,
		"Widget.update":     ws.update,
		"Widget.get_tags":   ws.getTags,
		"Widget.add_tag":    ws.addTag,
		"Widget.remove_tag": ws.removeTag,
		"Gadget.filter":     ws.gadgetFilter,
	}}
}

func (ws *widgetServer) get(params []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	rec, ok := ws.widgets[params[0].(int)]
	if !ok {
		return nil, &remote.Fault{Code: remote.FaultNotFound, Message: "Widget matching query does not exist"}
	}
	return maps.Clone(rec), nil
}

func (ws *widgetServer) filter(_ []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var out []any
	for _, id := range slices.Sorted(maps.Keys(ws.widgets)) {
		out = append(out, map[string]any(maps.Clone(ws.widgets[id])))
	}
	return out, nil
}

func (ws *widgetServer) update(params []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	id := params[0].(int)
	changes := params[1].(remote.Record)
	for k, v := range changes {
		ws.widgets[id][k] = v
	}
	return maps.Clone(ws.widgets[id]), nil
}

func (ws *widgetServer) name(id int) string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.widgets[id]["name"].(string)
}

func (ws *widgetServer) getTags(params []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var out []any
	for _, t := range slices.Sorted(maps.Keys(ws.tags[params[0].(int)])) {
		out = append(out, map[string]any{"name": t})
	}
	return out, nil
}

func (ws *widgetServer) addTag(params []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.failAdd > 0 {
		ws.failAdd--
		return nil, &remote.Fault{Code: 500, Message: "database is locked"}
	}
	id := params[0].(int)
	if ws.tags[id] == nil {
		ws.tags[id] = map[string]bool{}
	}
	for _, t := range params[1].([]string) {
		ws.tags[id][t] = true
	}
	return nil, nil
}

func (ws *widgetServer) removeTag(params []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, t := range params[1].([]string) {
		delete(ws.tags[params[0].(int)], t)
	}
	return nil, nil
}

func (ws *widgetServer) gadgetFilter(params []any) (any, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	q := params[0].(remote.Record)
	var out []any
	for id, label := range ws.gadgets {
		if want, ok := q["id"]; ok && want != id {
			continue
		}
		if want, ok := q["label"]; ok && want != label {
			continue
		}
		out = append(out, map[string]any{"id": id, "label": label})
	}
	return out, nil
}

// --- Test entity types ---

var widgetKind = &Kind{
	Name:   "Widget",
	Prefix: "W",
	IDKey:  "id",
	Fetch:  GetByID("Widget.get"),
	Update: "Widget.update",
	All:    "Widget.filter",
}

var gadgetKind = &Kind{
	Name:   "Gadget",
	Prefix: "G",
	IDKey:  "id",
	Fetch:  FilterByID("Gadget.filter", "id"),
}

type widget struct {
	Mutable
	name  Field[string]
	owner Field[*gadget]
	tags  *Container[string, string]
}

func newWidget(s *Session, id int) *widget {
	w := &widget{}
	Init(w, s, widgetKind)
	w.Identify(id)
	w.tags = NewContainer[string, string](w, "tags", ByValue[string], &widgetTags{w: w})
	w.Own(w.tags)
	return w
}

func (w *widget) Materialize(ctx context.Context, rec remote.Record) error {
	name, err := rec.String("name")
	if err != nil {
		return err
	}
	ownerID, err := rec.Int("owner_id")
	if err != nil {
		return err
	}
	w.name.Put(name)
	w.owner.Put(Lookup(ctx, w.Session(), gadgetKind, ownerID, newGadget))
	return nil
}

func (w *widget) UpdateRecord(context.Context) (remote.Record, error) {
	name, _ := w.name.Peek()
	return remote.Record{"name": name}, nil
}

type widgetTags struct {
	w *widget
}

func (t *widgetTags) Load(ctx context.Context) ([]string, error) {
	id, err := t.w.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := t.w.Session().Call(ctx, "Widget.get_tags", id)
	if err != nil {
		return nil, err
	}
	recs, err := remote.AsRecords(v)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range recs {
		name, err := r.String("name")
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (t *widgetTags) Add(ctx context.Context, items []string) error {
	id, err := t.w.ID(ctx)
	if err != nil {
		return err
	}
	_, err = t.w.Session().Call(ctx, "Widget.add_tag", id, items)
	return err
}

func (t *widgetTags) Remove(ctx context.Context, items []string) error {
	id, err := t.w.ID(ctx)
	if err != nil {
		return err
	}
	_, err = t.w.Session().Call(ctx, "Widget.remove_tag", id, items)
	return err
}

type gadget struct {
	Base
	key   string
	label Field[string]
}

func newGadget(s *Session, id int) *gadget {
	g := &gadget{}
	Init(g, s, gadgetKind)
	g.Identify(id)
	return g
}

func gadgetByLabel(s *Session, label string) *gadget {
	g := &gadget{key: label}
	Init(g, s, gadgetKind)
	return g
}

func (g *gadget) Materialize(_ context.Context, rec remote.Record) error {
	label, err := rec.String("label")
	if err != nil {
		return err
	}
	g.label.Put(label)
	return nil
}

func (g *gadget) HasKey() bool {
	return g.key != ""
}

func (g *gadget) FetchByKey(ctx context.Context) (remote.Record, error) {
	return FilterOne(ctx, g.Session(), "Gadget.filter", remote.Record{"label": g.key})
}

// --- Helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, c remote.Caller, opts ...Option) *Session {
	t.Helper()
	return NewSession(c, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func mustGet[T any](t *testing.T, e Entity, f *Field[T]) T {
	t.Helper()
	v, err := Get(context.Background(), e, f)
	if err != nil {
		t.Fatalf("get field of %s: %v", e.Identifier(), err)
	}
	return v
}

func assertCalls(t *testing.T, m *mockCaller, method string, want int) {
	t.Helper()
	if got := m.count(method); got != want {
		t.Errorf("%s called %d times, want %d", method, got, want)
	}
}
