package tcms

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

// embeddedCase is the record key under which a case run record carries
// the record of its test case when both were fetched together.
const embeddedCase = "_testcase"

var caseRunKind = &nitrate.Kind{
	Name:   "CaseRun",
	Prefix: "CR",
	IDKey:  "case_run_id",
	Fetch:  nitrate.GetByID("TestCaseRun.get"),
	Update: "TestCaseRun.update",
}

// CaseRun is the execution of one test case within a test run.
type CaseRun struct {
	nitrate.Mutable

	testcase nitrate.Field[*TestCase]
	testrun  nitrate.Field[*TestRun]
	assignee nitrate.Field[*User]
	build    nitrate.Field[*Build]
	notes    nitrate.Field[string]
	sortkey  nitrate.Field[int]
	status   nitrate.Field[Status]

	bugs *Bugs
}

func newCaseRun(s *nitrate.Session, id int) *CaseRun {
	cr := &CaseRun{}
	nitrate.Init(cr, s, caseRunKind)
	cr.Identify(id)
	cr.bugs = newBugs(cr, "TestCaseRun", "case_run_id")
	cr.Own(cr.bugs)
	return cr
}

// CaseRun returns the case run with the given id.
func (c *Client) CaseRun(ctx context.Context, id int) *CaseRun {
	return nitrate.Lookup(ctx, c.s, caseRunKind, id, newCaseRun)
}

// SearchCaseRuns returns the case runs matching filters.
func (c *Client) SearchCaseRuns(ctx context.Context, filters ...Filter) ([]*CaseRun, error) {
	return search(ctx, c.s, "TestCaseRun.filter", caseRunKind, newCaseRun, filters)
}

// CaseRunParams describes a new case run. Both fields are required; the
// build is taken from the run.
type CaseRunParams struct {
	TestCase *TestCase
	TestRun  *TestRun
}

// CreateCaseRun adds a test case to a run.
func (c *Client) CreateCaseRun(ctx context.Context, params CaseRunParams) (*CaseRun, error) {
	if err := required("case run test case", params.TestCase == nil); err != nil {
		return nil, err
	}
	if err := required("case run test run", params.TestRun == nil); err != nil {
		return nil, err
	}
	caseID, err := params.TestCase.ID(ctx)
	if err != nil {
		return nil, err
	}
	runID, err := params.TestRun.ID(ctx)
	if err != nil {
		return nil, err
	}
	build, err := params.TestRun.Build(ctx)
	if err != nil {
		return nil, err
	}
	data := remote.Record{"case": caseID, "run": runID}
	if data["build"], err = identityOf(ctx, build); err != nil {
		return nil, err
	}
	return created(ctx, c.s, "TestCaseRun.create", caseRunKind, newCaseRun, data)
}

// TestCase returns the executed test case.
func (cr *CaseRun) TestCase(ctx context.Context) (*TestCase, error) {
	return nitrate.Get(ctx, cr, &cr.testcase)
}

// TestRun returns the run the case run belongs to.
func (cr *CaseRun) TestRun(ctx context.Context) (*TestRun, error) {
	return nitrate.Get(ctx, cr, &cr.testrun)
}

// Assignee returns the user assigned to the case run.
func (cr *CaseRun) Assignee(ctx context.Context) (*User, error) {
	return nitrate.Get(ctx, cr, &cr.assignee)
}

// SetAssignee changes the assignee.
func (cr *CaseRun) SetAssignee(ctx context.Context, assignee *User) error {
	return nitrate.Set(ctx, cr, "assignee", &cr.assignee, assignee)
}

// Build returns the build the case ran against.
func (cr *CaseRun) Build(ctx context.Context) (*Build, error) {
	return nitrate.Get(ctx, cr, &cr.build)
}

// SetBuild changes the build.
func (cr *CaseRun) SetBuild(ctx context.Context, build *Build) error {
	return nitrate.Set(ctx, cr, "build", &cr.build, build)
}

// Notes returns the case run notes.
func (cr *CaseRun) Notes(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, cr, &cr.notes)
}

// SetNotes changes the case run notes.
func (cr *CaseRun) SetNotes(ctx context.Context, notes string) error {
	return nitrate.Set(ctx, cr, "notes", &cr.notes, notes)
}

// Sortkey returns the position within the run, 0 when unset.
func (cr *CaseRun) Sortkey(ctx context.Context) (int, error) {
	return nitrate.Get(ctx, cr, &cr.sortkey)
}

// SetSortkey changes the position within the run.
func (cr *CaseRun) SetSortkey(ctx context.Context, sortkey int) error {
	return nitrate.Set(ctx, cr, "sortkey", &cr.sortkey, sortkey)
}

// Status returns the result.
func (cr *CaseRun) Status(ctx context.Context) (Status, error) {
	return nitrate.Get(ctx, cr, &cr.status)
}

// SetStatus records a result.
func (cr *CaseRun) SetStatus(ctx context.Context, status Status) error {
	if _, err := StatusByID(status.ID()); err != nil {
		return err
	}
	return nitrate.Set(ctx, cr, "status", &cr.status, status)
}

// Bugs returns the bugs attached to the case run.
func (cr *CaseRun) Bugs() *Bugs {
	return cr.bugs
}

// Synopsis returns e.g. "PASS - CR#12     - Boot test". With p enabled the
// status is coloured.
func (cr *CaseRun) Synopsis(ctx context.Context, p *Painter) (string, error) {
	status, err := cr.Status(ctx)
	if err != nil {
		return "", err
	}
	tc, err := cr.TestCase(ctx)
	if err != nil {
		return "", err
	}
	summary, err := tc.Summary(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s - %-9s - %s", p.Paint(status.Short(), status.Color()), cr.Identifier(), summary), nil
}

// Materialize implements nitrate.Materializer.
func (cr *CaseRun) Materialize(ctx context.Context, rec remote.Record) error {
	s := cr.Session()
	assignee, err := ref(ctx, s, rec, "assignee_id", userKind, newUser)
	if err != nil {
		return err
	}
	build, err := ref(ctx, s, rec, "build_id", buildKind, newBuild)
	if err != nil {
		return err
	}
	notes, err := rec.String("notes")
	if err != nil {
		return err
	}
	sortkey, _, err := rec.OptInt("sortkey")
	if err != nil {
		return err
	}
	status, err := rec.Int("case_run_status_id")
	if err != nil {
		return err
	}
	run, err := ref(ctx, s, rec, "run_id", testRunKind, newTestRun)
	if err != nil {
		return err
	}
	var tc *TestCase
	if rec.Has(embeddedCase) {
		caseRec, err := remote.AsRecord(rec[embeddedCase])
		if err != nil {
			return err
		}
		if tc, err = nitrate.Adopt(ctx, s, testCaseKind, caseRec, newTestCase); err != nil {
			return err
		}
	} else if tc, err = ref(ctx, s, rec, "case_id", testCaseKind, newTestCase); err != nil {
		return err
	}

	cr.assignee.Put(assignee)
	cr.build.Put(build)
	cr.notes.Put(notes)
	cr.sortkey.Put(sortkey)
	cr.status.Put(Status(status))
	cr.testrun.Put(run)
	cr.testcase.Put(tc)
	return nil
}

// UpdateRecord implements nitrate.Updater.
func (cr *CaseRun) UpdateRecord(ctx context.Context) (remote.Record, error) {
	assignee, _ := cr.assignee.Peek()
	build, _ := cr.build.Peek()
	notes, _ := cr.notes.Peek()
	sortkey, _ := cr.sortkey.Peek()
	status, _ := cr.status.Peek()

	rec := remote.Record{
		"case_run_status": status.ID(),
		"notes":           notes,
		"sortkey":         nil,
	}
	if sortkey != 0 {
		rec["sortkey"] = sortkey
	}
	var err error
	if rec["build"], err = identityOf(ctx, build); err != nil {
		return nil, err
	}
	if rec["assignee"], err = identityOf(ctx, assignee); err != nil {
		return nil, err
	}
	return rec, nil
}
