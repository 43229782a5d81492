package tcms

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

// Tags is the set of tag names attached to a plan, run or case.
type Tags = nitrate.Container[string, string]

// tagMembers talks to the get_tags/add_tag/remove_tag methods of one
// object namespace, e.g. "TestPlan".
type tagMembers struct {
	owner     nitrate.Entity
	namespace string
}

func newTags(owner nitrate.Entity, namespace string) *Tags {
	return nitrate.NewContainer[string, string](owner, "tags", nitrate.ByValue[string], &tagMembers{owner: owner, namespace: namespace})
}

func (t *tagMembers) Load(ctx context.Context) ([]string, error) {
	id, err := t.owner.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := t.owner.Session().Call(ctx, t.namespace+".get_tags", id)
	if err != nil {
		return nil, err
	}
	recs, err := remote.AsRecords(v)
	if err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		name, err := rec.String("name")
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (t *tagMembers) Add(ctx context.Context, tags []string) error {
	id, err := t.owner.ID(ctx)
	if err != nil {
		return err
	}
	t.owner.Session().Logger().Info(fmt.Sprintf("tagging %s with %s", t.owner.Identifier(), nitrate.Listed(tags, "'")))
	_, err = t.owner.Session().Call(ctx, t.namespace+".add_tag", id, tags)
	return err
}

func (t *tagMembers) Remove(ctx context.Context, tags []string) error {
	id, err := t.owner.ID(ctx)
	if err != nil {
		return err
	}
	t.owner.Session().Logger().Info(fmt.Sprintf("untagging %s from %s", nitrate.Listed(tags, "'"), t.owner.Identifier()))
	_, err = t.owner.Session().Call(ctx, t.namespace+".remove_tag", id, tags)
	return err
}

// --- Plan and case links ---

// PlanCases is the set of test cases linked to a test plan.
type PlanCases = nitrate.Container[int, *TestCase]

// CasePlans is the set of test plans a test case is linked to.
type CasePlans = nitrate.Container[int, *TestPlan]

type planCaseMembers struct {
	plan *TestPlan
}

// Load prefers the full case records and falls back to the plan's list of
// case ids when the server cannot render them.
func (m *planCaseMembers) Load(ctx context.Context) ([]*TestCase, error) {
	s := m.plan.Session()
	id, err := m.plan.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.Call(ctx, "TestPlan.get_test_cases", id)
	if err == nil {
		return decodeList(ctx, s, v, testCaseKind, newTestCase)
	}
	if ctx.Err() != nil {
		return nil, err
	}
	s.Logger().Warn(fmt.Sprintf("failed to fetch %s's cases, trying again using ids", m.plan.Identifier()), "err", err)
	v, err = s.Call(ctx, "TestPlan.get", id)
	if err != nil {
		return nil, err
	}
	rec, err := remote.AsRecord(v)
	if err != nil {
		return nil, err
	}
	ids, err := rec.Ints("case")
	if err != nil {
		return nil, err
	}
	out := make([]*TestCase, len(ids))
	for i, cid := range ids {
		out[i] = nitrate.Lookup(ctx, s, testCaseKind, cid, newTestCase)
	}
	return out, nil
}

func (m *planCaseMembers) Add(ctx context.Context, cases []*TestCase) error {
	id, err := m.plan.ID(ctx)
	if err != nil {
		return err
	}
	ids, names, err := entityIDs(ctx, cases)
	if err != nil {
		return err
	}
	m.plan.Session().Logger().Info(fmt.Sprintf("linking %s to %s", nitrate.Listed(names, ""), m.plan.Identifier()))
	_, err = m.plan.Session().Call(ctx, "TestCase.link_plan", ids, id)
	return err
}

func (m *planCaseMembers) Remove(ctx context.Context, cases []*TestCase) error {
	id, err := m.plan.ID(ctx)
	if err != nil {
		return err
	}
	for _, tc := range cases {
		cid, err := tc.ID(ctx)
		if err != nil {
			return err
		}
		m.plan.Session().Logger().Info(fmt.Sprintf("unlinking %s from %s", tc.Identifier(), m.plan.Identifier()))
		if _, err := m.plan.Session().Call(ctx, "TestCase.unlink_plan", cid, id); err != nil {
			return err
		}
	}
	return nil
}

type casePlanMembers struct {
	testcase *TestCase
}

func (m *casePlanMembers) Load(ctx context.Context) ([]*TestPlan, error) {
	s := m.testcase.Session()
	id, err := m.testcase.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.Call(ctx, "TestCase.get_plans", id)
	if err != nil {
		return nil, err
	}
	return decodeList(ctx, s, v, testPlanKind, newTestPlan)
}

func (m *casePlanMembers) Add(ctx context.Context, plans []*TestPlan) error {
	id, err := m.testcase.ID(ctx)
	if err != nil {
		return err
	}
	ids, names, err := entityIDs(ctx, plans)
	if err != nil {
		return err
	}
	m.testcase.Session().Logger().Info(fmt.Sprintf("linking %s to %s", nitrate.Listed(names, ""), m.testcase.Identifier()))
	_, err = m.testcase.Session().Call(ctx, "TestCase.link_plan", id, ids)
	return err
}

func (m *casePlanMembers) Remove(ctx context.Context, plans []*TestPlan) error {
	id, err := m.testcase.ID(ctx)
	if err != nil {
		return err
	}
	for _, tp := range plans {
		pid, err := tp.ID(ctx)
		if err != nil {
			return err
		}
		m.testcase.Session().Logger().Info(fmt.Sprintf("unlinking %s from %s", tp.Identifier(), m.testcase.Identifier()))
		if _, err := m.testcase.Session().Call(ctx, "TestCase.unlink_plan", id, pid); err != nil {
			return err
		}
	}
	return nil
}

func entityIDs[E nitrate.Entity](ctx context.Context, items []E) ([]int, []string, error) {
	ids := make([]int, len(items))
	names := make([]string, len(items))
	for i, it := range items {
		id, err := it.ID(ctx)
		if err != nil {
			return nil, nil, err
		}
		ids[i] = id
		names[i] = it.Identifier()
	}
	return ids, names, nil
}
