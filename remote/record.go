// Package remote provides the call surface to a Nitrate server: a generic
// Caller, the Record type exchanged with it, and XML-RPC, recording, tracing
// and serializing implementations of Caller.
package remote

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Record is one structured key/value record returned by the server.
type Record map[string]any

// AsRecord converts a decoded call result into a Record.
func AsRecord(v any) (Record, error) {
	switch r := v.(type) {
	case Record:
		return r, nil
	case map[string]any:
		return Record(r), nil
	case map[any]any:
		out := make(Record, len(r))
		for k, val := range r {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("expected record, got nil")
	default:
		return nil, fmt.Errorf("expected record, got %T", v)
	}
}

// AsRecords converts a decoded call result holding a list of records.
func AsRecords(v any) ([]Record, error) {
	switch list := v.(type) {
	case []Record:
		return list, nil
	case []map[string]any:
		out := make([]Record, len(list))
		for i, r := range list {
			out[i] = Record(r)
		}
		return out, nil
	case []any:
		out := make([]Record, 0, len(list))
		for i, item := range list {
			r, err := AsRecord(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected list of records, got %T", v)
	}
}

// FieldError is returned when a record key is missing or holds a value of
// the wrong shape.
type FieldError struct {
	Key   string
	Cause error
}

// Error returns the error message for FieldError.
func (e *FieldError) Error() string {
	return fmt.Sprintf("record field %q: %v", e.Key, e.Cause)
}

// Unwrap returns the underlying cause of the FieldError.
func (e *FieldError) Unwrap() error {
	return e.Cause
}

func (r Record) lookup(key string) (any, error) {
	v, ok := r[key]
	if !ok {
		return nil, &FieldError{Key: key, Cause: fmt.Errorf("missing")}
	}
	return v, nil
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Null reports whether key is absent or holds nil.
func (r Record) Null(key string) bool {
	return r[key] == nil
}

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// Int returns the integer stored under key.
func (r Record) Int(key string) (int, error) {
	v, err := r.lookup(key)
	if err != nil {
		return 0, err
	}
	n, err := ToInt(v)
	if err != nil {
		return 0, &FieldError{Key: key, Cause: err}
	}
	return n, nil
}

// OptInt returns the integer stored under key. ok is false when the value
// is nil.
func (r Record) OptInt(key string) (n int, ok bool, err error) {
	v, err := r.lookup(key)
	if err != nil || v == nil {
		return 0, false, err
	}
	n, err = ToInt(v)
	if err != nil {
		return 0, false, &FieldError{Key: key, Cause: err}
	}
	return n, true, nil
}

// String returns the string stored under key. Nil becomes the empty string
// and scalars are formatted.
func (r Record) String(key string) (string, error) {
	v, err := r.lookup(key)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Bool returns the boolean stored under key. The server sometimes encodes
// booleans as integers or as the strings "True" and "False".
func (r Record) Bool(key string) (bool, error) {
	v, err := r.lookup(key)
	if err != nil {
		return false, err
	}
	b, err := ToBool(v)
	if err != nil {
		return false, &FieldError{Key: key, Cause: err}
	}
	return b, nil
}

// Ints returns the list of integers stored under key. Nil is an empty list.
func (r Record) Ints(key string) ([]int, error) {
	v, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if ints, ok := v.([]int); ok {
			return ints, nil
		}
		return nil, &FieldError{Key: key, Cause: fmt.Errorf("expected list, got %T", v)}
	}
	out := make([]int, 0, len(list))
	for i, item := range list {
		n, err := ToInt(item)
		if err != nil {
			return nil, &FieldError{Key: key, Cause: fmt.Errorf("index %d: %w", i, err)}
		}
		out = append(out, n)
	}
	return out, nil
}

// ToInt coerces a decoded scalar into an int.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("cannot coerce %v to integer", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to integer", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

// ToBool coerces a decoded scalar into a bool.
func ToBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot coerce %q to bool", b)
	case nil:
		return false, nil
	default:
		n, err := ToInt(v)
		if err != nil {
			return false, fmt.Errorf("cannot coerce %T to bool", v)
		}
		return n != 0, nil
	}
}
