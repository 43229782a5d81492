package localstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/CaliLuke/go-nitrate/remote"
)

const planCasesRel = "TestPlan.cases"

// Case and case run status ids assigned to new objects.
const (
	caseProposed = 1
	caseRunIdle  = 1
)

func (s *Store) register() map[string]handler {
	m := map[string]handler{
		"Product.filter":          s.filterMethod(products),
		"Product.filter_versions": s.filterMethod(versions),
		"Product.get_category":    s.getMethod(categories),
		"Product.check_category":  s.checkMethod(categories),
		"Build.get":               s.getMethod(builds),
		"Build.check_build":       s.checkMethod(builds),
		"User.filter":             s.filterMethod(users),
		"User.get_me":             s.getMe,

		"TestPlan.get":            s.getPlan,
		"TestPlan.filter":         s.filterMethod(testPlans),
		"TestPlan.create":         s.createMethod(testPlans, s.createPlan),
		"TestPlan.update":         s.updateMethod(testPlans),
		"TestPlan.get_test_cases": s.planCases,
		"TestPlan.get_test_runs":  s.planRuns,

		"TestRun.get":                s.getMethod(testRuns),
		"TestRun.filter":             s.filterMethod(testRuns),
		"TestRun.create":             s.createMethod(testRuns, s.createRun, s.seedRun),
		"TestRun.update":             s.updateMethod(testRuns),
		"TestRun.get_test_cases":     s.runCases,
		"TestRun.get_test_case_runs": s.runCaseRuns,

		"TestCase.get":         s.getMethod(testCases),
		"TestCase.filter":      s.filterMethod(testCases),
		"TestCase.create":      s.createMethod(testCases, s.createCase),
		"TestCase.update":      s.updateMethod(testCases),
		"TestCase.get_plans":   s.casePlans,
		"TestCase.link_plan":   s.linkPlan,
		"TestCase.unlink_plan": s.unlinkPlan,

		"TestCaseRun.get":    s.getMethod(caseRuns),
		"TestCaseRun.filter": s.filterMethod(caseRuns),
		"TestCaseRun.create": s.createMethod(caseRuns, s.createCaseRun),
		"TestCaseRun.update": s.updateMethod(caseRuns),
	}
	for _, t := range []table{testPlans, testRuns, testCases} {
		m[t.name+".get_tags"] = s.getTags(t)
		m[t.name+".add_tag"] = s.addTag(t)
		m[t.name+".remove_tag"] = s.removeTag(t)
	}
	for _, t := range []table{testCases, caseRuns} {
		m[t.name+".get_bugs"] = s.getBugs(t)
		m[t.name+".attach_bug"] = s.attachBug(t)
		m[t.name+".detach_bug"] = s.detachBug(t)
	}
	return m
}

// --- Parameters ---

func arg(params []any, i int, name string) (any, error) {
	if i >= len(params) {
		return nil, badRequest("missing parameter %s", name)
	}
	return params[i], nil
}

func intArg(params []any, i int, name string) (int, error) {
	v, err := arg(params, i, name)
	if err != nil {
		return 0, err
	}
	n, err := remote.ToInt(v)
	if err != nil {
		return 0, badRequest("parameter %s: %v", name, err)
	}
	return n, nil
}

func recordArg(params []any, i int, name string) (remote.Record, error) {
	v, err := arg(params, i, name)
	if err != nil {
		return nil, err
	}
	rec, err := remote.AsRecord(v)
	if err != nil {
		return nil, badRequest("parameter %s: %v", name, err)
	}
	return rec, nil
}

// ints accepts a single id, a list of ids or a comma separated string.
func ints(v any) ([]int, error) {
	var items []any
	switch list := v.(type) {
	case []int:
		return list, nil
	case []any:
		items = list
	case string:
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		items = []any{v}
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := remote.ToInt(item)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// strs accepts a single name, a list of names or a comma separated string.
func strs(v any) []string {
	var out []string
	switch list := v.(type) {
	case []string:
		out = list
	case []any:
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case nil:
	default:
		out = []string{fmt.Sprint(v)}
	}
	return out
}

// --- Generic handlers ---

func (s *Store) getMethod(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		id, err := intArg(params, 0, t.idKey)
		if err != nil {
			return nil, err
		}
		return s.get(ctx, t, id)
	}
}

func (s *Store) filterMethod(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		q := remote.Record{}
		if len(params) > 0 {
			var err error
			if q, err = recordArg(params, 0, "query"); err != nil {
				return nil, err
			}
		}
		return s.filter(ctx, t, q)
	}
}

// checkMethod serves check_build and check_category: lookup by name
// within a product.
func (s *Store) checkMethod(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		name, err := arg(params, 0, "name")
		if err != nil {
			return nil, err
		}
		product, err := arg(params, 1, "product")
		if err != nil {
			return nil, err
		}
		found, err := s.filter(ctx, t, remote.Record{"name": name, "product_id": product})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, notFound(t, name)
		}
		return found[0], nil
	}
}

func (s *Store) getMe(ctx context.Context, _ []any) (any, error) {
	if s.me == 0 {
		return nil, notFound(users, "current user")
	}
	return s.get(ctx, users, s.me)
}

type fillFunc func(ctx context.Context, rec, values remote.Record) error

// createMethod translates the values into a record, lets fill validate
// and complete it, stores it and then runs the after hooks on the result.
func (s *Store) createMethod(t table, fill fillFunc, after ...fillFunc) handler {
	return func(ctx context.Context, params []any) (any, error) {
		values, err := recordArg(params, 0, "values")
		if err != nil {
			return nil, err
		}
		rec, err := s.translate(ctx, t, values)
		if err != nil {
			return nil, err
		}
		if err := fill(ctx, rec, values); err != nil {
			return nil, err
		}
		created, err := s.insert(ctx, t, rec)
		if err != nil {
			return nil, err
		}
		for _, hook := range after {
			if err := hook(ctx, created, values); err != nil {
				return nil, err
			}
		}
		s.log.Info(fmt.Sprintf("created %s %v", t.name, created[t.idKey]))
		return created, nil
	}
}

func (s *Store) updateMethod(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		id, err := intArg(params, 0, t.idKey)
		if err != nil {
			return nil, err
		}
		values, err := recordArg(params, 1, "values")
		if err != nil {
			return nil, err
		}
		rec, err := s.get(ctx, t, id)
		if err != nil {
			return nil, err
		}
		changes, err := s.translate(ctx, t, values)
		if err != nil {
			return nil, err
		}
		for k, v := range changes {
			rec[k] = v
		}
		if err := s.put(ctx, t, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// --- Test plans ---

func (s *Store) getPlan(ctx context.Context, params []any) (any, error) {
	id, err := intArg(params, 0, "plan_id")
	if err != nil {
		return nil, err
	}
	rec, err := s.get(ctx, testPlans, id)
	if err != nil {
		return nil, err
	}
	cases, err := s.memberIDs(ctx, planCasesRel, id)
	if err != nil {
		return nil, err
	}
	rec["case"] = cases
	return rec, nil
}

func (s *Store) createPlan(_ context.Context, rec, _ remote.Record) error {
	for _, key := range []string{"name", "product_id", "type_id", "default_product_version"} {
		if rec[key] == nil {
			return badRequest("test plan %s is required", key)
		}
	}
	setDefaults(rec, remote.Record{
		"author_id": s.author(),
		"is_active": true,
		"parent_id": nil,
		"text":      "",
	})
	return nil
}

func (s *Store) planCases(ctx context.Context, params []any) (any, error) {
	id, err := intArg(params, 0, "plan_id")
	if err != nil {
		return nil, err
	}
	if err := s.exists(ctx, testPlans, id); err != nil {
		return nil, err
	}
	ids, err := s.memberIDs(ctx, planCasesRel, id)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(ids))
	for _, cid := range ids {
		rec, err := s.get(ctx, testCases, cid)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) planRuns(ctx context.Context, params []any) (any, error) {
	id, err := intArg(params, 0, "plan_id")
	if err != nil {
		return nil, err
	}
	if err := s.exists(ctx, testPlans, id); err != nil {
		return nil, err
	}
	return s.filter(ctx, testRuns, remote.Record{"plan_id": id})
}

// --- Test runs ---

func (s *Store) createRun(ctx context.Context, rec, values remote.Record) error {
	for _, key := range []string{"plan_id", "build_id", "summary"} {
		if rec[key] == nil {
			return badRequest("test run %s is required", key)
		}
	}
	if _, err := s.get(ctx, testPlans, mustInt(rec["plan_id"])); err != nil {
		return err
	}
	setDefaults(rec, remote.Record{
		"manager_id":        s.author(),
		"default_tester_id": s.author(),
		"notes":             "",
		"stop_date":         nil,
		"estimated_time":    "00:00:00",
	})
	if values["case"] != nil {
		if _, err := ints(values["case"]); err != nil {
			return err
		}
	}
	return nil
}

// seedRun adds a case run for every listed case and the listed tags.
func (s *Store) seedRun(ctx context.Context, run, values remote.Record) error {
	id := mustInt(run["run_id"])
	if values["case"] != nil {
		cases, err := ints(values["case"])
		if err != nil {
			return err
		}
		for _, cid := range cases {
			if err := s.exists(ctx, testCases, cid); err != nil {
				return err
			}
			if _, err := s.insert(ctx, caseRuns, remote.Record{
				"case_id":            cid,
				"run_id":             id,
				"build_id":           run["build_id"],
				"assignee_id":        run["default_tester_id"],
				"case_run_status_id": caseRunIdle,
				"notes":              "",
				"sortkey":            nil,
			}); err != nil {
				return err
			}
		}
	}
	return s.link(ctx, tagRel(testRuns), id, strs(values["tag"])...)
}

// --- Test cases ---

func (s *Store) createCase(_ context.Context, rec, _ remote.Record) error {
	for _, key := range []string{"summary", "category_id", "priority_id"} {
		if rec[key] == nil {
			return badRequest("test case %s is required", key)
		}
	}
	setDefaults(rec, remote.Record{
		"author_id":         s.author(),
		"arguments":         "",
		"case_status_id":    caseProposed,
		"default_tester_id": nil,
		"estimated_time":    "00:00:00",
		"is_automated":      0,
		"notes":             "",
		"requirement":       "",
		"script":            "",
	})
	return nil
}

func (s *Store) casePlans(ctx context.Context, params []any) (any, error) {
	id, err := intArg(params, 0, "case_id")
	if err != nil {
		return nil, err
	}
	if err := s.exists(ctx, testCases, id); err != nil {
		return nil, err
	}
	plans, err := s.owners(ctx, planCasesRel, strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(plans))
	for _, pid := range plans {
		rec, err := s.get(ctx, testPlans, pid)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) casePlanPairs(ctx context.Context, params []any) (cases, plans []int, err error) {
	cv, err := arg(params, 0, "case_ids")
	if err != nil {
		return nil, nil, err
	}
	pv, err := arg(params, 1, "plan_ids")
	if err != nil {
		return nil, nil, err
	}
	if cases, err = ints(cv); err != nil {
		return nil, nil, err
	}
	if plans, err = ints(pv); err != nil {
		return nil, nil, err
	}
	for _, id := range cases {
		if err := s.exists(ctx, testCases, id); err != nil {
			return nil, nil, err
		}
	}
	for _, id := range plans {
		if err := s.exists(ctx, testPlans, id); err != nil {
			return nil, nil, err
		}
	}
	return cases, plans, nil
}

func (s *Store) linkPlan(ctx context.Context, params []any) (any, error) {
	cases, plans, err := s.casePlanPairs(ctx, params)
	if err != nil {
		return nil, err
	}
	for _, pid := range plans {
		for _, cid := range cases {
			if err := s.link(ctx, planCasesRel, pid, strconv.Itoa(cid)); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (s *Store) unlinkPlan(ctx context.Context, params []any) (any, error) {
	cases, plans, err := s.casePlanPairs(ctx, params)
	if err != nil {
		return nil, err
	}
	for _, pid := range plans {
		for _, cid := range cases {
			if err := s.unlink(ctx, planCasesRel, pid, strconv.Itoa(cid)); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// --- Case runs ---

func (s *Store) createCaseRun(ctx context.Context, rec, _ remote.Record) error {
	for _, key := range []string{"case_id", "run_id", "build_id"} {
		if rec[key] == nil {
			return badRequest("case run %s is required", key)
		}
	}
	if err := s.exists(ctx, testCases, mustInt(rec["case_id"])); err != nil {
		return err
	}
	if err := s.exists(ctx, testRuns, mustInt(rec["run_id"])); err != nil {
		return err
	}
	setDefaults(rec, remote.Record{
		"assignee_id":        nil,
		"case_run_status_id": caseRunIdle,
		"notes":              "",
		"sortkey":            nil,
	})
	return nil
}

func (s *Store) runCaseRuns(ctx context.Context, params []any) (any, error) {
	id, err := intArg(params, 0, "run_id")
	if err != nil {
		return nil, err
	}
	if err := s.exists(ctx, testRuns, id); err != nil {
		return nil, err
	}
	return s.filter(ctx, caseRuns, remote.Record{"run_id": id})
}

func (s *Store) runCases(ctx context.Context, params []any) (any, error) {
	v, err := s.runCaseRuns(ctx, params)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	out := []any{}
	for _, item := range v.([]any) {
		cid := mustInt(item.(remote.Record)["case_id"])
		if seen[cid] {
			continue
		}
		seen[cid] = true
		rec, err := s.get(ctx, testCases, cid)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- Tags ---

func tagRel(t table) string {
	return t.name + ".tags"
}

func (s *Store) getTags(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		id, err := intArg(params, 0, t.idKey)
		if err != nil {
			return nil, err
		}
		if err := s.exists(ctx, t, id); err != nil {
			return nil, err
		}
		names, err := s.members(ctx, tagRel(t), id)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = remote.Record{"name": n}
		}
		return out, nil
	}
}

func (s *Store) tagArgs(ctx context.Context, t table, params []any) ([]int, []string, error) {
	iv, err := arg(params, 0, "ids")
	if err != nil {
		return nil, nil, err
	}
	tv, err := arg(params, 1, "tags")
	if err != nil {
		return nil, nil, err
	}
	ids, err := ints(iv)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		if err := s.exists(ctx, t, id); err != nil {
			return nil, nil, err
		}
	}
	return ids, strs(tv), nil
}

func (s *Store) addTag(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		ids, tags, err := s.tagArgs(ctx, t, params)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if err := s.link(ctx, tagRel(t), id, tags...); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func (s *Store) removeTag(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		ids, tags, err := s.tagArgs(ctx, t, params)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if err := s.unlink(ctx, tagRel(t), id, tags...); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// --- Bugs ---

func (s *Store) getBugs(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		id, err := intArg(params, 0, t.idKey)
		if err != nil {
			return nil, err
		}
		if err := s.exists(ctx, t, id); err != nil {
			return nil, err
		}
		return s.filter(ctx, bugs, remote.Record{t.idKey: id})
	}
}

func (s *Store) attachBug(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		v, err := arg(params, 0, "values")
		if err != nil {
			return nil, err
		}
		var hashes []remote.Record
		if rec, err := remote.AsRecord(v); err == nil {
			hashes = []remote.Record{rec}
		} else if hashes, err = remote.AsRecords(v); err != nil {
			return nil, badRequest("attach_bug: %v", err)
		}
		for _, h := range hashes {
			if err := s.attachOne(ctx, t, h); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func (s *Store) attachOne(ctx context.Context, t table, h remote.Record) error {
	owner, err := h.Int(t.idKey)
	if err != nil {
		return badRequest("attach_bug: %v", err)
	}
	bug, err := h.Int("bug_id")
	if err != nil {
		return badRequest("attach_bug: %v", err)
	}
	system, err := h.Int("bug_system_id")
	if err != nil {
		return badRequest("attach_bug: %v", err)
	}
	ownerRec, err := s.get(ctx, t, owner)
	if err != nil {
		return err
	}
	existing, err := s.filter(ctx, bugs, remote.Record{t.idKey: owner, "bug_id": bug, "bug_system_id": system})
	if err != nil || len(existing) > 0 {
		return err
	}
	rec := remote.Record{
		"bug_id":        bug,
		"bug_system_id": system,
		"case_id":       nil,
		"case_run_id":   nil,
	}
	rec[t.idKey] = owner
	if t == caseRuns {
		rec["case_id"] = ownerRec["case_id"]
	}
	_, err = s.insert(ctx, bugs, rec)
	return err
}

func (s *Store) detachBug(t table) handler {
	return func(ctx context.Context, params []any) (any, error) {
		ov, err := arg(params, 0, "ids")
		if err != nil {
			return nil, err
		}
		bv, err := arg(params, 1, "bug_ids")
		if err != nil {
			return nil, err
		}
		owners, err := ints(ov)
		if err != nil {
			return nil, err
		}
		ids, err := ints(bv)
		if err != nil {
			return nil, err
		}
		for _, owner := range owners {
			for _, id := range ids {
				rec, err := s.get(ctx, bugs, id)
				if remote.IsNotFound(err) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if !equal(rec[t.idKey], owner) {
					continue
				}
				if err := s.remove(ctx, bugs, id); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	}
}

// --- Helpers ---

func (s *Store) author() any {
	if s.me == 0 {
		return nil
	}
	return s.me
}

func setDefaults(rec, defaults remote.Record) {
	for k, v := range defaults {
		if _, ok := rec[k]; !ok {
			rec[k] = v
		}
	}
}

func mustInt(v any) int {
	n, _ := remote.ToInt(v)
	return n
}
