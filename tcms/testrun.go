package tcms

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

var testRunKind = &nitrate.Kind{
	Name:   "TestRun",
	Prefix: "TR",
	IDKey:  "run_id",
	Fetch:  nitrate.GetByID("TestRun.get"),
	Update: "TestRun.update",
}

// TestRun is one execution of a test plan.
type TestRun struct {
	nitrate.Mutable

	testplan nitrate.Field[*TestPlan]
	build    nitrate.Field[*Build]
	manager  nitrate.Field[*User]
	notes    nitrate.Field[string]
	status   nitrate.Field[RunStatus]
	summary  nitrate.Field[string]
	tester   nitrate.Field[*User]
	time     nitrate.Field[string]

	tags     *Tags
	caseruns nitrate.Lazy[[]*CaseRun]
}

func newTestRun(s *nitrate.Session, id int) *TestRun {
	r := &TestRun{}
	nitrate.Init(r, s, testRunKind)
	r.Identify(id)
	r.tags = newTags(r, "TestRun")
	r.Own(r.tags)
	return r
}

// TestRun returns the test run with the given id.
func (c *Client) TestRun(ctx context.Context, id int) *TestRun {
	return nitrate.Lookup(ctx, c.s, testRunKind, id, newTestRun)
}

// SearchTestRuns returns the runs matching filters.
func (c *Client) SearchTestRuns(ctx context.Context, filters ...Filter) ([]*TestRun, error) {
	return search(ctx, c.s, "TestRun.filter", testRunKind, newTestRun, filters)
}

// TestRunParams describes a new test run. Only Plan is required.
type TestRunParams struct {
	Plan *TestPlan
	// Product defaults to the plan's product.
	Product *Product
	// Version defaults to the plan's version.
	Version *Version
	// Build defaults to the product's "unspecified" build.
	Build *Build
	// Summary defaults to "<plan name> on <build name>".
	Summary string
	Notes   string
	// Manager and Tester default to the current user.
	Manager *User
	Tester  *User
	Tags    []string
}

// CreateTestRun creates a run of a plan including every confirmed test
// case of the plan.
func (c *Client) CreateTestRun(ctx context.Context, params TestRunParams) (*TestRun, error) {
	if err := required("test run plan", params.Plan == nil); err != nil {
		return nil, err
	}
	plan := params.Plan
	planID, err := plan.ID(ctx)
	if err != nil {
		return nil, err
	}
	product := params.Product
	if product == nil {
		if product, err = plan.Product(ctx); err != nil {
			return nil, err
		}
	}
	if err := required("test run product", product == nil); err != nil {
		return nil, err
	}
	version := params.Version
	if version == nil {
		if version, err = plan.Version(ctx); err != nil {
			return nil, err
		}
	}
	if err := required("test run product version", version == nil); err != nil {
		return nil, err
	}
	build := params.Build
	if build == nil {
		build = buildByName(c.s, product, "unspecified")
	}
	summary := params.Summary
	if summary == "" {
		planName, err := plan.Name(ctx)
		if err != nil {
			return nil, err
		}
		buildName, err := build.Name(ctx)
		if err != nil {
			return nil, err
		}
		summary = planName + " on " + buildName
	}
	manager, tester := params.Manager, params.Tester
	if manager == nil {
		manager = c.Me()
	}
	if tester == nil {
		tester = c.Me()
	}

	data := remote.Record{
		"plan":    planID,
		"summary": summary,
		"notes":   params.Notes,
	}
	for key, e := range map[string]nitrate.Entity{
		"product":         product,
		"product_version": version,
		"build":           build,
		"manager":         manager,
		"default_tester":  tester,
	} {
		if data[key], err = e.ID(ctx); err != nil {
			return nil, err
		}
	}
	cases, err := confirmedCases(ctx, plan)
	if err != nil {
		return nil, err
	}
	data["case"] = cases
	if len(params.Tags) > 0 {
		data["tag"] = strings.Join(params.Tags, ",")
	}
	return created(ctx, c.s, "TestRun.create", testRunKind, newTestRun, data)
}

func confirmedCases(ctx context.Context, plan *TestPlan) ([]int, error) {
	cases, err := plan.Cases().Items(ctx)
	if err != nil {
		return nil, err
	}
	ids := []int{}
	for _, tc := range cases {
		status, err := tc.Status(ctx)
		if err != nil {
			return nil, err
		}
		if status != CaseConfirmed {
			continue
		}
		id, err := tc.ID(ctx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// TestPlan returns the plan the run belongs to.
func (r *TestRun) TestPlan(ctx context.Context) (*TestPlan, error) {
	return nitrate.Get(ctx, r, &r.testplan)
}

// Build returns the build under test.
func (r *TestRun) Build(ctx context.Context) (*Build, error) {
	return nitrate.Get(ctx, r, &r.build)
}

// SetBuild changes the build under test.
func (r *TestRun) SetBuild(ctx context.Context, build *Build) error {
	return nitrate.Set(ctx, r, "build", &r.build, build)
}

// Manager returns the user responsible for the run.
func (r *TestRun) Manager(ctx context.Context) (*User, error) {
	return nitrate.Get(ctx, r, &r.manager)
}

// SetManager changes the run manager.
func (r *TestRun) SetManager(ctx context.Context, manager *User) error {
	return nitrate.Set(ctx, r, "manager", &r.manager, manager)
}

// Notes returns the run notes.
func (r *TestRun) Notes(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, r, &r.notes)
}

// SetNotes changes the run notes.
func (r *TestRun) SetNotes(ctx context.Context, notes string) error {
	return nitrate.Set(ctx, r, "notes", &r.notes, notes)
}

// Status tells whether the run is finished.
func (r *TestRun) Status(ctx context.Context) (RunStatus, error) {
	return nitrate.Get(ctx, r, &r.status)
}

// SetStatus finishes or reopens the run.
func (r *TestRun) SetStatus(ctx context.Context, status RunStatus) error {
	return nitrate.Set(ctx, r, "status", &r.status, status)
}

// Summary returns the run summary.
func (r *TestRun) Summary(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, r, &r.summary)
}

// SetSummary changes the run summary.
func (r *TestRun) SetSummary(ctx context.Context, summary string) error {
	return nitrate.Set(ctx, r, "summary", &r.summary, summary)
}

// Tester returns the default tester.
func (r *TestRun) Tester(ctx context.Context) (*User, error) {
	return nitrate.Get(ctx, r, &r.tester)
}

// SetTester changes the default tester.
func (r *TestRun) SetTester(ctx context.Context, tester *User) error {
	return nitrate.Set(ctx, r, "tester", &r.tester, tester)
}

// Time returns the estimated time, e.g. "0:30:00".
func (r *TestRun) Time(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, r, &r.time)
}

// SetTime changes the estimated time.
func (r *TestRun) SetTime(ctx context.Context, time string) error {
	return nitrate.Set(ctx, r, "time", &r.time, time)
}

// Tags returns the run's tags.
func (r *TestRun) Tags() *Tags {
	return r.tags
}

// CaseRuns returns the case runs of the run, each joined with its test
// case record. The list is loaded once.
func (r *TestRun) CaseRuns(ctx context.Context) ([]*CaseRun, error) {
	return r.caseruns.Get(ctx, r.loadCaseRuns)
}

func (r *TestRun) loadCaseRuns(ctx context.Context) ([]*CaseRun, error) {
	s := r.Session()
	id, err := r.ID(ctx)
	if err != nil {
		return nil, err
	}
	s.Logger().Info(fmt.Sprintf("fetching %s's test cases", r.Identifier()))
	v, err := s.Call(ctx, "TestRun.get_test_cases", id)
	if err != nil {
		return nil, err
	}
	cases, err := remote.AsRecords(v)
	if err != nil {
		return nil, fmt.Errorf("decode test cases: %w", err)
	}
	s.Logger().Info(fmt.Sprintf("fetching %s's case runs", r.Identifier()))
	v, err = s.Call(ctx, "TestRun.get_test_case_runs", id)
	if err != nil {
		return nil, err
	}
	runs, err := remote.AsRecords(v)
	if err != nil {
		return nil, fmt.Errorf("decode case runs: %w", err)
	}

	byCase := make(map[int]remote.Record, len(cases))
	for _, tc := range cases {
		cid, err := tc.Int("case_id")
		if err != nil {
			return nil, err
		}
		byCase[cid] = tc
	}
	out := make([]*CaseRun, 0, len(runs))
	for _, cr := range runs {
		cid, err := cr.Int("case_id")
		if err != nil {
			return nil, err
		}
		tc, ok := byCase[cid]
		if !ok {
			continue
		}
		joined := maps.Clone(cr)
		joined[embeddedCase] = tc
		caserun, err := nitrate.Adopt(ctx, s, caseRunKind, joined, newCaseRun)
		if err != nil {
			return nil, err
		}
		out = append(out, caserun)
	}
	return out, nil
}

// Synopsis returns e.g. "TR#9 - Smoke on 1.2 (12 cases)".
func (r *TestRun) Synopsis(ctx context.Context) (string, error) {
	summary, err := r.Summary(ctx)
	if err != nil {
		return "", err
	}
	caseruns, err := r.CaseRuns(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s - %s (%d cases)", r.Identifier(), summary, len(caseruns)), nil
}

// Materialize implements nitrate.Materializer.
func (r *TestRun) Materialize(ctx context.Context, rec remote.Record) error {
	s := r.Session()
	build, err := ref(ctx, s, rec, "build_id", buildKind, newBuild)
	if err != nil {
		return err
	}
	manager, err := ref(ctx, s, rec, "manager_id", userKind, newUser)
	if err != nil {
		return err
	}
	notes, err := rec.String("notes")
	if err != nil {
		return err
	}
	var stop any
	if rec.Has("stop_date") {
		stop = rec["stop_date"]
	}
	status, err := RunStatusFromStopDate(stop)
	if err != nil {
		return err
	}
	summary, err := rec.String("summary")
	if err != nil {
		return err
	}
	tester, err := ref(ctx, s, rec, "default_tester_id", userKind, newUser)
	if err != nil {
		return err
	}
	plan, err := ref(ctx, s, rec, "plan_id", testPlanKind, newTestPlan)
	if err != nil {
		return err
	}
	estimated, err := rec.String("estimated_time")
	if err != nil {
		return err
	}

	r.build.Put(build)
	r.manager.Put(manager)
	r.notes.Put(notes)
	r.status.Put(status)
	r.summary.Put(summary)
	r.tester.Put(tester)
	r.testplan.Put(plan)
	r.time.Put(estimated)
	return nil
}

// UpdateRecord implements nitrate.Updater.
func (r *TestRun) UpdateRecord(ctx context.Context) (remote.Record, error) {
	build, _ := r.build.Peek()
	manager, _ := r.manager.Peek()
	tester, _ := r.tester.Peek()
	notes, _ := r.notes.Peek()
	status, _ := r.status.Peek()
	summary, _ := r.summary.Peek()
	estimated, _ := r.time.Peek()

	rec := remote.Record{
		"estimated_time": estimated,
		"notes":          notes,
		"status":         status.ID(),
		"summary":        summary,
	}
	var err error
	if rec["build"], err = identityOf(ctx, build); err != nil {
		return nil, err
	}
	if rec["manager"], err = identityOf(ctx, manager); err != nil {
		return nil, err
	}
	if rec["default_tester"], err = identityOf(ctx, tester); err != nil {
		return nil, err
	}
	if build != nil {
		product, err := build.Product(ctx)
		if err != nil {
			return nil, err
		}
		if rec["product"], err = identityOf(ctx, product); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
