package tcms

import (
	"github.com/CaliLuke/go-nitrate/remote"
)

// Filter contributes lookups to a server side search query. Filters
// compose with And; the server joins all lookups of one query with AND.
type Filter interface {
	// Apply adds the filter's lookups to q.
	Apply(q remote.Record)
}

// --- Lookup filters ---

// Lookup is one Django style field lookup, e.g. summary__icontains.
type Lookup struct {
	Field string
	Op    string
	Value any
}

// Apply adds the lookup to q.
func (l *Lookup) Apply(q remote.Record) {
	key := l.Field
	if l.Op != "" {
		key += "__" + l.Op
	}
	q[key] = l.Value
}

// --- Convenience constructors ---

// Eq matches field == value.
func Eq(field string, value any) Filter {
	return &Lookup{Field: field, Value: value}
}

// Contains matches fields containing s, ignoring case.
func Contains(field, s string) Filter {
	return &Lookup{Field: field, Op: "icontains", Value: s}
}

// StartsWith matches fields starting with s.
func StartsWith(field, s string) Filter {
	return &Lookup{Field: field, Op: "startswith", Value: s}
}

// In matches fields equal to one of values.
func In[T any](field string, values ...T) Filter {
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	return &Lookup{Field: field, Op: "in", Value: list}
}

// Gt matches field > value.
func Gt(field string, value any) Filter {
	return &Lookup{Field: field, Op: "gt", Value: value}
}

// Gte matches field >= value.
func Gte(field string, value any) Filter {
	return &Lookup{Field: field, Op: "gte", Value: value}
}

// Lt matches field < value.
func Lt(field string, value any) Filter {
	return &Lookup{Field: field, Op: "lt", Value: value}
}

// Lte matches field <= value.
func Lte(field string, value any) Filter {
	return &Lookup{Field: field, Op: "lte", Value: value}
}

// IsNull matches fields that are (or are not) null.
func IsNull(field string, null bool) Filter {
	return &Lookup{Field: field, Op: "isnull", Value: null}
}

// --- Composition ---

type andFilter []Filter

func (a andFilter) Apply(q remote.Record) {
	for _, f := range a {
		f.Apply(q)
	}
}

// And combines filters. Later filters on the same lookup win.
func And(filters ...Filter) Filter {
	return andFilter(filters)
}

// Query builds the query record for filters. No filters match everything.
func Query(filters ...Filter) remote.Record {
	q := remote.Record{}
	And(filters...).Apply(q)
	return q
}
