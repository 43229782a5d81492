package tcms

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

// Bugzilla is the bug system id of the default tracker.
const Bugzilla = 1

// Bug is an external bug attached to a test case or case run. Bugs are
// values: two bugs are the same when they come from the same system with
// the same external number.
type Bug struct {
	// ID is the server's attachment id, 0 until the server reported it.
	ID int
	// Bug is the external bug number.
	Bug int
	// System is the bug tracker id.
	System   int
	TestCase *TestCase
	CaseRun  *CaseRun
}

// NewBug returns a Bugzilla bug.
func NewBug(bug int) Bug {
	return Bug{Bug: bug, System: Bugzilla}
}

// Key identifies the bug within one owner.
func (b Bug) Key() string {
	return strconv.Itoa(b.System) + ":" + strconv.Itoa(b.Bug)
}

func (b Bug) String() string {
	return "BZ#" + strconv.Itoa(b.Bug)
}

// Identifier returns the attachment identifier, e.g. "BUG#12".
func (b Bug) Identifier() string {
	if b.ID == 0 {
		return "BUG#?"
	}
	return "BUG#" + strconv.Itoa(b.ID)
}

// Synopsis returns e.g. "BUG#12 (BZ#1234, TC#7)".
func (b Bug) Synopsis() string {
	parts := []string{b.String()}
	if b.TestCase != nil {
		parts = append(parts, b.TestCase.Identifier())
	}
	if b.CaseRun != nil {
		parts = append(parts, b.CaseRun.Identifier())
	}
	return fmt.Sprintf("%s (%s)", b.Identifier(), strings.Join(parts, ", "))
}

func bugKey(_ context.Context, b Bug) (string, error) {
	return b.Key(), nil
}

func decodeBug(ctx context.Context, s *nitrate.Session, rec remote.Record) (Bug, error) {
	var (
		b   Bug
		err error
	)
	if b.ID, err = rec.Int("id"); err != nil {
		return Bug{}, err
	}
	if b.Bug, err = rec.Int("bug_id"); err != nil {
		return Bug{}, err
	}
	if b.System, err = rec.Int("bug_system_id"); err != nil {
		return Bug{}, err
	}
	if b.TestCase, err = ref(ctx, s, rec, "case_id", testCaseKind, newTestCase); err != nil {
		return Bug{}, err
	}
	if b.CaseRun, err = ref(ctx, s, rec, "case_run_id", caseRunKind, newCaseRun); err != nil {
		return Bug{}, err
	}
	return b, nil
}

// Bugs is the set of bugs attached to a test case or case run.
type Bugs struct {
	*nitrate.Container[string, Bug]
	owner nitrate.Entity
}

func newBugs(owner nitrate.Entity, namespace, ownerKey string) *Bugs {
	m := &bugMembers{owner: owner, namespace: namespace, ownerKey: ownerKey}
	return &Bugs{
		Container: nitrate.NewContainer[string, Bug](owner, "bugs", bugKey, m),
		owner:     owner,
	}
}

// Synopsis returns e.g. "TC#7's bugs: BZ#1, BZ#2", or "[NoBugs]" in place
// of the list.
func (b *Bugs) Synopsis(ctx context.Context) (string, error) {
	items, err := b.Items(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.String()
	}
	slices.Sort(names)
	list := strings.Join(names, ", ")
	if list == "" {
		list = "[NoBugs]"
	}
	return fmt.Sprintf("%s's bugs: %s", b.owner.Identifier(), list), nil
}

type bugMembers struct {
	owner     nitrate.Entity
	namespace string
	ownerKey  string
}

func (m *bugMembers) Load(ctx context.Context) ([]Bug, error) {
	s := m.owner.Session()
	id, err := m.owner.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.Call(ctx, m.namespace+".get_bugs", id)
	if err != nil {
		return nil, err
	}
	recs, err := remote.AsRecords(v)
	if err != nil {
		return nil, fmt.Errorf("decode bugs: %w", err)
	}
	out := make([]Bug, 0, len(recs))
	for _, rec := range recs {
		b, err := decodeBug(ctx, s, rec)
		if err != nil {
			return nil, fmt.Errorf("decode bugs: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *bugMembers) Add(ctx context.Context, bugs []Bug) error {
	id, err := m.owner.ID(ctx)
	if err != nil {
		return err
	}
	hashes := make([]any, len(bugs))
	names := make([]string, len(bugs))
	for i, b := range bugs {
		hashes[i] = remote.Record{"bug_id": b.Bug, "bug_system_id": b.System, m.ownerKey: id}
		names[i] = b.String()
	}
	m.owner.Session().Logger().Info(fmt.Sprintf("attaching %s to %s", nitrate.Listed(names, ""), m.owner.Identifier()))
	_, err = m.owner.Session().Call(ctx, m.namespace+".attach_bug", hashes)
	return err
}

// Remove detaches bugs by attachment id. Bugs attached during this session
// have no id yet; it is looked up from the server first.
func (m *bugMembers) Remove(ctx context.Context, bugs []Bug) error {
	id, err := m.owner.ID(ctx)
	if err != nil {
		return err
	}
	var attached map[string]int
	for _, b := range bugs {
		internal := b.ID
		if internal == 0 {
			if attached == nil {
				live, err := m.Load(ctx)
				if err != nil {
					return err
				}
				attached = make(map[string]int, len(live))
				for _, l := range live {
					attached[l.Key()] = l.ID
				}
			}
			var ok bool
			if internal, ok = attached[b.Key()]; !ok {
				continue
			}
		}
		m.owner.Session().Logger().Info(fmt.Sprintf("detaching %s from %s", b, m.owner.Identifier()))
		if _, err := m.owner.Session().Call(ctx, m.namespace+".detach_bug", id, internal); err != nil {
			return err
		}
	}
	return nil
}
