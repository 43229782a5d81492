package localstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/CaliLuke/go-nitrate/remote"
)

// lookup is one parsed query key such as summary__icontains.
type lookup struct {
	field string
	op    string
	want  any
}

func parseQuery(q remote.Record) []lookup {
	out := make([]lookup, 0, len(q))
	for _, key := range q.Keys() {
		field, op, _ := strings.Cut(key, "__")
		out = append(out, lookup{field: field, op: op, want: q[key]})
	}
	return out
}

// resolve maps a query field onto the record key holding it.
func (t table) resolve(rec remote.Record, field string) (string, bool) {
	if field == "id" || field == "pk" {
		return t.idKey, true
	}
	if rec.Has(field) {
		return field, true
	}
	if rec.Has(field + "_id") {
		return field + "_id", true
	}
	return "", false
}

// filter returns the records of t matching every lookup of q.
func (s *Store) filter(ctx context.Context, t table, q remote.Record) ([]any, error) {
	recs, err := s.list(ctx, t)
	if err != nil {
		return nil, err
	}
	lookups := parseQuery(q)
	out := []any{}
	for _, rec := range recs {
		ok, err := s.matches(ctx, t, rec, lookups)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) matches(ctx context.Context, t table, rec remote.Record, lookups []lookup) (bool, error) {
	for _, l := range lookups {
		if t == testCases && l.field == "plan" {
			ok, err := s.caseInPlan(ctx, rec, l)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		key, ok := t.resolve(rec, l.field)
		if !ok {
			return false, badRequest("cannot resolve keyword %q into field of %s", l.field, t.name)
		}
		ok, err := compare(rec[key], l.op, l.want)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) caseInPlan(ctx context.Context, rec remote.Record, l lookup) (bool, error) {
	id, err := rec.Int(testCases.idKey)
	if err != nil {
		return false, err
	}
	plans, err := s.owners(ctx, planCasesRel, strconv.Itoa(id))
	if err != nil {
		return false, err
	}
	for _, p := range plans {
		ok, err := compare(p, l.op, l.want)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func compare(have any, op string, want any) (bool, error) {
	switch op {
	case "", "exact":
		return equal(have, want), nil
	case "iexact":
		return strings.EqualFold(fmt.Sprint(have), fmt.Sprint(want)), nil
	case "contains":
		return have != nil && strings.Contains(fmt.Sprint(have), fmt.Sprint(want)), nil
	case "icontains":
		return have != nil && strings.Contains(strings.ToLower(fmt.Sprint(have)), strings.ToLower(fmt.Sprint(want))), nil
	case "startswith":
		return have != nil && strings.HasPrefix(fmt.Sprint(have), fmt.Sprint(want)), nil
	case "in":
		list, ok := want.([]any)
		if !ok {
			return false, badRequest("lookup in expects a list, got %T", want)
		}
		for _, w := range list {
			if equal(have, w) {
				return true, nil
			}
		}
		return false, nil
	case "gt", "gte", "lt", "lte":
		if have == nil {
			return false, nil
		}
		c := order(have, want)
		switch op {
		case "gt":
			return c > 0, nil
		case "gte":
			return c >= 0, nil
		case "lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "isnull":
		null, err := remote.ToBool(want)
		if err != nil {
			return false, badRequest("lookup isnull: %v", err)
		}
		return (have == nil) == null, nil
	default:
		return false, badRequest("unsupported lookup %q", op)
	}
}

// equal compares decoded values by their printed form, so 3, int64(3) and
// "3" are the same value.
func equal(have, want any) bool {
	if have == nil || want == nil {
		return have == nil && want == nil
	}
	_, hbool := have.(bool)
	_, wbool := want.(bool)
	if hbool || wbool {
		hb, herr := remote.ToBool(have)
		wb, werr := remote.ToBool(want)
		return herr == nil && werr == nil && hb == wb
	}
	return fmt.Sprint(have) == fmt.Sprint(want)
}

func order(have, want any) int {
	h, herr := remote.ToInt(have)
	w, werr := remote.ToInt(want)
	if herr == nil && werr == nil {
		switch {
		case h < w:
			return -1
		case h > w:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(have), fmt.Sprint(want))
}
