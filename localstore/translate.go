package localstore

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/remote"
)

const stopDateLayout = "2006-01-02 15:04:05"

// column maps one create/update parameter onto a stored record key. An
// empty key accepts the parameter and drops it.
type column struct {
	key     string
	convert func(ctx context.Context, s *Store, v any) (any, error)
}

var columns = map[string]map[string]column{
	testPlans.kind: {
		"name":                    {key: "name"},
		"product":                 {key: "product_id", convert: toID},
		"type":                    {key: "type_id", convert: toID},
		"parent":                  {key: "parent_id", convert: toOptID},
		"is_active":               {key: "is_active", convert: toBool},
		"text":                    {key: "text"},
		"default_product_version": {key: "default_product_version", convert: versionValue},
	},
	testRuns.kind: {
		"plan":            {key: "plan_id", convert: toID},
		"build":           {key: "build_id", convert: toID},
		"manager":         {key: "manager_id", convert: toOptID},
		"default_tester":  {key: "default_tester_id", convert: toOptID},
		"notes":           {key: "notes"},
		"summary":         {key: "summary"},
		"estimated_time":  {key: "estimated_time"},
		"status":          {key: "stop_date", convert: stopDate},
		"product":         {},
		"product_version": {},
		"case":            {},
		"tag":             {},
	},
	testCases.kind: {
		"summary":        {key: "summary"},
		"arguments":      {key: "arguments"},
		"notes":          {key: "notes"},
		"requirement":    {key: "requirement"},
		"script":         {key: "script"},
		"estimated_time": {key: "estimated_time"},
		"is_automated":   {key: "is_automated", convert: toFlag},
		"case_status":    {key: "case_status_id", convert: toID},
		"category":       {key: "category_id", convert: toID},
		"priority":       {key: "priority_id", convert: toID},
		"default_tester": {key: "default_tester_id", convert: loginID},
		"product":        {},
	},
	caseRuns.kind: {
		"case":            {key: "case_id", convert: toID},
		"run":             {key: "run_id", convert: toID},
		"build":           {key: "build_id", convert: toID},
		"assignee":        {key: "assignee_id", convert: toOptID},
		"case_run_status": {key: "case_run_status_id", convert: toID},
		"notes":           {key: "notes"},
		"sortkey":         {key: "sortkey", convert: toOptID},
	},
}

// translate turns create/update parameters into stored record fields.
func (s *Store) translate(ctx context.Context, t table, values remote.Record) (remote.Record, error) {
	cols := columns[t.kind]
	out := remote.Record{}
	for _, name := range values.Keys() {
		col, ok := cols[name]
		if !ok {
			return nil, badRequest("%s has no field %q", t.name, name)
		}
		if col.key == "" {
			continue
		}
		v := values[name]
		if col.convert != nil {
			var err error
			if v, err = col.convert(ctx, s, v); err != nil {
				return nil, badRequest("%s.%s: %v", t.name, name, err)
			}
		}
		out[col.key] = v
	}
	return out, nil
}

func toID(_ context.Context, _ *Store, v any) (any, error) {
	return remote.ToInt(v)
}

func toOptID(_ context.Context, _ *Store, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return remote.ToInt(v)
}

func toBool(_ context.Context, _ *Store, v any) (any, error) {
	return remote.ToBool(v)
}

func toFlag(_ context.Context, _ *Store, v any) (any, error) {
	b, err := remote.ToBool(v)
	if err != nil {
		return nil, err
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

// versionValue stores a plan's version by name, as the server reports it.
func versionValue(ctx context.Context, s *Store, v any) (any, error) {
	if name, ok := v.(string); ok {
		if _, err := remote.ToInt(name); err != nil {
			return name, nil
		}
	}
	id, err := remote.ToInt(v)
	if err != nil {
		return nil, err
	}
	rec, err := s.get(ctx, versions, id)
	if err != nil {
		return nil, err
	}
	return rec.String("value")
}

func stopDate(_ context.Context, s *Store, v any) (any, error) {
	finished, err := remote.ToBool(v)
	if err != nil {
		return nil, err
	}
	if !finished {
		return nil, nil
	}
	return s.now().Format(stopDateLayout), nil
}

// loginID resolves a tester given by login or id.
func loginID(ctx context.Context, s *Store, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if id, err := remote.ToInt(v); err == nil {
		return id, nil
	}
	found, err := s.filter(ctx, users, remote.Record{"username": v})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no user %v", v)
	}
	return found[0].(remote.Record)[users.idKey], nil
}
