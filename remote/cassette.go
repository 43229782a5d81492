package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Entry is one recorded call.
type Entry struct {
	Method string `msgpack:"method"`
	Params []any  `msgpack:"params"`
	Result any    `msgpack:"result"`
	Fault  *Fault `msgpack:"fault,omitempty"`
}

// Recorder is a Caller that forwards to another Caller and keeps every
// call and its outcome. Transport errors other than faults are not recorded.
type Recorder struct {
	next    Caller
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder returns a Recorder forwarding to next.
func NewRecorder(next Caller) *Recorder {
	return &Recorder{next: next}
}

// Call forwards the call and records it.
func (r *Recorder) Call(ctx context.Context, method string, params ...any) (any, error) {
	result, err := r.next.Call(ctx, method, params...)
	entry := Entry{Method: method, Params: params, Result: result}
	if err != nil {
		var f *Fault
		if !errors.As(err, &f) {
			return nil, err
		}
		entry.Result = nil
		entry.Fault = f
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return result, err
}

// Entries returns a copy of the recorded calls.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// WriteTo encodes the recorded calls as msgpack.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	b, err := msgpack.Marshal(r.Entries())
	if err != nil {
		return 0, fmt.Errorf("encode cassette: %w", err)
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Save writes the recorded calls to path.
func (r *Recorder) Save(path string) error {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save cassette: %w", err)
	}
	return nil
}

// Replayer is a Caller answering calls from recorded entries. Each entry is
// used once, in recording order among entries with equal method and params.
type Replayer struct {
	mu      sync.Mutex
	entries []replayEntry
}

type replayEntry struct {
	Entry
	key  string
	used bool
}

// NewReplayer builds a Replayer from entries.
func NewReplayer(entries []Entry) (*Replayer, error) {
	r := &Replayer{entries: make([]replayEntry, 0, len(entries))}
	for _, e := range entries {
		key, err := callKey(e.Method, e.Params)
		if err != nil {
			return nil, err
		}
		r.entries = append(r.entries, replayEntry{Entry: e, key: key})
	}
	return r, nil
}

// ReadCassette decodes msgpack-encoded entries.
func ReadCassette(rd io.Reader) ([]Entry, error) {
	dec := msgpack.NewDecoder(rd)
	dec.UseLooseInterfaceDecoding(true)
	var entries []Entry
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode cassette: %w", err)
	}
	return entries, nil
}

// LoadReplayer reads a cassette file written by Recorder.Save.
func LoadReplayer(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load cassette: %w", err)
	}
	defer f.Close()
	entries, err := ReadCassette(f)
	if err != nil {
		return nil, err
	}
	return NewReplayer(entries)
}

// Call returns the next unused recorded outcome for method and params.
func (r *Replayer) Call(ctx context.Context, method string, params ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := callKey(method, params)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		e := &r.entries[i]
		if e.used || e.key != key {
			continue
		}
		e.used = true
		if e.Fault != nil {
			return nil, e.Fault
		}
		return e.Result, nil
	}
	return nil, fmt.Errorf("%s: %w", method, ErrNoCassetteEntry)
}

// Remaining returns the number of unused entries.
func (r *Replayer) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.used {
			n++
		}
	}
	return n
}

// callKey encodes a call with integers widened and map keys sorted so
// that recorded and live params compare equal.
func callKey(method string, params []any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(normalize(reflect.ValueOf(params))); err != nil {
		return "", fmt.Errorf("encode params of %s: %w", method, err)
	}
	return method + "\x00" + buf.String(), nil
}

func normalize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return normalize(v.Elem())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes())
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = normalize(v.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value())
		}
		return out
	default:
		return v.Interface()
	}
}
