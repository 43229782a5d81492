package localstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/CaliLuke/go-nitrate/remote"
	"gopkg.in/yaml.v2"
)

// Fixtures is the YAML seed format of a store:
//
//	me: alice
//	records:
//	  product:
//	    - {id: 1, name: Fedora}
//	  testcase:
//	    - {case_id: 1, summary: Boot, ...}
//	tags:
//	  TestPlan: {1: [smoke, tier1]}
//	plan_cases:
//	  1: [1, 2]
//
// Record keys are the stored record kinds: product, version, build,
// category, user, testplan, testrun, testcase, caserun and bug.
type Fixtures struct {
	Me        string                      `yaml:"me"`
	Records   map[string][]map[string]any `yaml:"records"`
	Tags      map[string]map[int][]string `yaml:"tags"`
	PlanCases map[int][]int               `yaml:"plan_cases"`
}

// ParseFixtures decodes YAML fixtures.
func ParseFixtures(r io.Reader) (*Fixtures, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// LoadFixtureFile reads fixtures from path and loads them into the store.
func (s *Store) LoadFixtureFile(ctx context.Context, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	f, err := ParseFixtures(fh)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return s.Load(ctx, f)
}

// Load stores every fixture record, replacing records with the same id.
// When Me names a stored user, it becomes the current user.
func (s *Store) Load(ctx context.Context, f *Fixtures) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]string, 0, len(f.Records))
	for kind := range f.Records {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		t, ok := tables[kind]
		if !ok {
			return fmt.Errorf("fixtures: unknown record kind %q", kind)
		}
		for i, raw := range f.Records[kind] {
			rec := remote.Record(plain(raw).(map[string]any))
			if err := s.put(ctx, t, rec); err != nil {
				return fmt.Errorf("fixtures: %s[%d]: %w", kind, i, err)
			}
		}
	}
	for ns, owners := range f.Tags {
		t, ok := tagTables[ns]
		if !ok {
			return fmt.Errorf("fixtures: unknown tag namespace %q", ns)
		}
		for owner, tags := range owners {
			if err := s.link(ctx, tagRel(t), owner, tags...); err != nil {
				return err
			}
		}
	}
	for plan, cases := range f.PlanCases {
		for _, c := range cases {
			if err := s.link(ctx, planCasesRel, plan, strconv.Itoa(c)); err != nil {
				return err
			}
		}
	}
	if f.Me != "" {
		found, err := s.filter(ctx, users, remote.Record{"username": f.Me})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("fixtures: current user %q is not defined", f.Me)
		}
		s.me = mustInt(found[0].(remote.Record)[users.idKey])
	}
	return nil
}

var tagTables = map[string]table{
	testPlans.name: testPlans,
	testRuns.name:  testRuns,
	testCases.name: testCases,
}

// plain converts the map[interface{}]interface{} values yaml.v2 produces
// for nested mappings into map[string]any.
func plain(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = plain(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	default:
		return v
	}
}
