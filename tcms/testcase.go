package tcms

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

var testCaseKind = &nitrate.Kind{
	Name:   "TestCase",
	Prefix: "TC",
	IDKey:  "case_id",
	Fetch:  nitrate.GetByID("TestCase.get"),
	Update: "TestCase.update",
}

// TestCase is a test case. Tags, linked plans and bugs are flushed along
// with the case.
type TestCase struct {
	nitrate.Mutable

	author      nitrate.Field[*User]
	automated   nitrate.Field[bool]
	arguments   nitrate.Field[string]
	category    nitrate.Field[*Category]
	notes       nitrate.Field[string]
	priority    nitrate.Field[Priority]
	requirement nitrate.Field[string]
	script      nitrate.Field[string]
	status      nitrate.Field[CaseStatus]
	summary     nitrate.Field[string]
	tester      nitrate.Field[*User]
	time        nitrate.Field[string]

	tags  *Tags
	plans *CasePlans
	bugs  *Bugs
}

func newTestCase(s *nitrate.Session, id int) *TestCase {
	tc := &TestCase{}
	nitrate.Init(tc, s, testCaseKind)
	tc.Identify(id)
	tc.tags = newTags(tc, "TestCase")
	tc.plans = nitrate.NewContainer[int, *TestPlan](tc, "plans", nitrate.ByID[*TestPlan], &casePlanMembers{testcase: tc})
	tc.bugs = newBugs(tc, "TestCase", "case_id")
	tc.Own(tc.bugs, tc.tags, tc.plans)
	return tc
}

// TestCase returns the test case with the given id.
func (c *Client) TestCase(ctx context.Context, id int) *TestCase {
	return nitrate.Lookup(ctx, c.s, testCaseKind, id, newTestCase)
}

// SearchTestCases returns the cases matching filters, e.g.
// Contains("summary", "boot").
func (c *Client) SearchTestCases(ctx context.Context, filters ...Filter) ([]*TestCase, error) {
	return search(ctx, c.s, "TestCase.filter", testCaseKind, newTestCase, filters)
}

// TestCaseParams describes a new test case. Summary, Product and a
// category (object or name) are required.
type TestCaseParams struct {
	Summary  string
	Product  *Product
	Category *Category
	// CategoryName is looked up in Product when Category is nil.
	CategoryName string
	// Priority defaults to P3.
	Priority Priority
	Tester   *User
	Script   string
}

// CreateTestCase creates a test case on the server.
func (c *Client) CreateTestCase(ctx context.Context, params TestCaseParams) (*TestCase, error) {
	if err := required("test case summary", params.Summary == ""); err != nil {
		return nil, err
	}
	if err := required("test case product", params.Product == nil); err != nil {
		return nil, err
	}
	category := params.Category
	if category == nil && params.CategoryName != "" {
		category = categoryByName(c.s, params.Product, params.CategoryName)
	}
	if err := required("test case category", category == nil); err != nil {
		return nil, err
	}
	priority := params.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if _, err := PriorityByID(priority.ID()); err != nil {
		return nil, err
	}
	pid, err := params.Product.ID(ctx)
	if err != nil {
		return nil, err
	}
	cid, err := category.ID(ctx)
	if err != nil {
		return nil, err
	}
	data := remote.Record{
		"summary":  params.Summary,
		"product":  pid,
		"category": cid,
		"priority": priority.ID(),
		"script":   params.Script,
	}
	if params.Tester != nil {
		if data["default_tester"], err = params.Tester.Login(ctx); err != nil {
			return nil, err
		}
	}
	return created(ctx, c.s, "TestCase.create", testCaseKind, newTestCase, data)
}

// Author returns the user who wrote the case.
func (tc *TestCase) Author(ctx context.Context) (*User, error) {
	return nitrate.Get(ctx, tc, &tc.author)
}

// Automated reports the automation flag.
func (tc *TestCase) Automated(ctx context.Context) (bool, error) {
	return nitrate.Get(ctx, tc, &tc.automated)
}

// SetAutomated changes the automation flag.
func (tc *TestCase) SetAutomated(ctx context.Context, automated bool) error {
	return nitrate.Set(ctx, tc, "automated", &tc.automated, automated)
}

// Arguments returns the test script arguments.
func (tc *TestCase) Arguments(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, tc, &tc.arguments)
}

// SetArguments changes the test script arguments.
func (tc *TestCase) SetArguments(ctx context.Context, arguments string) error {
	return nitrate.Set(ctx, tc, "arguments", &tc.arguments, arguments)
}

// Category returns the case category.
func (tc *TestCase) Category(ctx context.Context) (*Category, error) {
	return nitrate.Get(ctx, tc, &tc.category)
}

// SetCategory moves the case to another category.
func (tc *TestCase) SetCategory(ctx context.Context, category *Category) error {
	return nitrate.Set(ctx, tc, "category", &tc.category, category)
}

// Notes returns the case notes.
func (tc *TestCase) Notes(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, tc, &tc.notes)
}

// SetNotes changes the case notes.
func (tc *TestCase) SetNotes(ctx context.Context, notes string) error {
	return nitrate.Set(ctx, tc, "notes", &tc.notes, notes)
}

// Priority returns the case priority.
func (tc *TestCase) Priority(ctx context.Context) (Priority, error) {
	return nitrate.Get(ctx, tc, &tc.priority)
}

// SetPriority changes the case priority.
func (tc *TestCase) SetPriority(ctx context.Context, priority Priority) error {
	if _, err := PriorityByID(priority.ID()); err != nil {
		return err
	}
	return nitrate.Set(ctx, tc, "priority", &tc.priority, priority)
}

// Requirement returns the requirement the case covers.
func (tc *TestCase) Requirement(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, tc, &tc.requirement)
}

// SetRequirement changes the requirement.
func (tc *TestCase) SetRequirement(ctx context.Context, requirement string) error {
	return nitrate.Set(ctx, tc, "requirement", &tc.requirement, requirement)
}

// Script returns the test script path.
func (tc *TestCase) Script(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, tc, &tc.script)
}

// SetScript changes the test script path.
func (tc *TestCase) SetScript(ctx context.Context, script string) error {
	return nitrate.Set(ctx, tc, "script", &tc.script, script)
}

// Status returns the review status.
func (tc *TestCase) Status(ctx context.Context) (CaseStatus, error) {
	return nitrate.Get(ctx, tc, &tc.status)
}

// SetStatus changes the review status.
func (tc *TestCase) SetStatus(ctx context.Context, status CaseStatus) error {
	if _, err := CaseStatusByID(status.ID()); err != nil {
		return err
	}
	return nitrate.Set(ctx, tc, "status", &tc.status, status)
}

// Summary returns the one line description.
func (tc *TestCase) Summary(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, tc, &tc.summary)
}

// SetSummary changes the description.
func (tc *TestCase) SetSummary(ctx context.Context, summary string) error {
	return nitrate.Set(ctx, tc, "summary", &tc.summary, summary)
}

// Tester returns the default tester, or nil.
func (tc *TestCase) Tester(ctx context.Context) (*User, error) {
	return nitrate.Get(ctx, tc, &tc.tester)
}

// SetTester changes the default tester.
func (tc *TestCase) SetTester(ctx context.Context, tester *User) error {
	return nitrate.Set(ctx, tc, "tester", &tc.tester, tester)
}

// Time returns the estimated time.
func (tc *TestCase) Time(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, tc, &tc.time)
}

// SetTime changes the estimated time.
func (tc *TestCase) SetTime(ctx context.Context, time string) error {
	return nitrate.Set(ctx, tc, "time", &tc.time, time)
}

// Tags returns the case's tags.
func (tc *TestCase) Tags() *Tags {
	return tc.tags
}

// Plans returns the plans the case is linked to.
func (tc *TestCase) Plans() *CasePlans {
	return tc.plans
}

// Bugs returns the bugs attached to the case.
func (tc *TestCase) Bugs() *Bugs {
	return tc.bugs
}

// Line returns the identifier padded to nine columns and the summary,
// e.g. "TC#7      - Boot test".
func (tc *TestCase) Line(ctx context.Context) (string, error) {
	summary, err := tc.Summary(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%-9s - %s", tc.Identifier(), summary), nil
}

// Synopsis returns e.g. "TC#7      - Boot test (Sanity, P3, CONFIRMED,
// 1 test plan)".
func (tc *TestCase) Synopsis(ctx context.Context) (string, error) {
	line, err := tc.Line(ctx)
	if err != nil {
		return "", err
	}
	category, err := tc.Category(ctx)
	if err != nil {
		return "", err
	}
	categoryName := "None"
	if category != nil {
		if categoryName, err = category.Name(ctx); err != nil {
			return "", err
		}
	}
	priority, err := tc.Priority(ctx)
	if err != nil {
		return "", err
	}
	status, err := tc.Status(ctx)
	if err != nil {
		return "", err
	}
	plans, err := tc.plans.Len(ctx)
	if err != nil {
		return "", err
	}
	noun := "test plans"
	if plans == 1 {
		noun = "test plan"
	}
	return fmt.Sprintf("%s (%s, %s, %s, %d %s)", line, categoryName, priority, status, plans, noun), nil
}

// Materialize implements nitrate.Materializer.
func (tc *TestCase) Materialize(ctx context.Context, rec remote.Record) error {
	s := tc.Session()
	var (
		strs = map[string]string{}
		err  error
	)
	for _, key := range []string{"arguments", "notes", "requirement", "script", "summary", "estimated_time"} {
		if strs[key], err = rec.String(key); err != nil {
			return err
		}
	}
	author, err := ref(ctx, s, rec, "author_id", userKind, newUser)
	if err != nil {
		return err
	}
	automated, err := rec.Bool("is_automated")
	if err != nil {
		return err
	}
	category, err := ref(ctx, s, rec, "category_id", categoryKind, newCategory)
	if err != nil {
		return err
	}
	priority, err := rec.Int("priority_id")
	if err != nil {
		return err
	}
	status, err := rec.Int("case_status_id")
	if err != nil {
		return err
	}
	tester, err := ref(ctx, s, rec, "default_tester_id", userKind, newUser)
	if err != nil {
		return err
	}

	tc.arguments.Put(strs["arguments"])
	tc.author.Put(author)
	tc.automated.Put(automated)
	tc.category.Put(category)
	tc.notes.Put(strs["notes"])
	tc.priority.Put(Priority(priority))
	tc.requirement.Put(strs["requirement"])
	tc.script.Put(strs["script"])
	tc.status.Put(CaseStatus(status))
	tc.summary.Put(strs["summary"])
	tc.time.Put(strs["estimated_time"])
	tc.tester.Put(tester)
	return nil
}

// UpdateRecord implements nitrate.Updater.
func (tc *TestCase) UpdateRecord(ctx context.Context) (remote.Record, error) {
	arguments, _ := tc.arguments.Peek()
	automated, _ := tc.automated.Peek()
	category, _ := tc.category.Peek()
	notes, _ := tc.notes.Peek()
	priority, _ := tc.priority.Peek()
	requirement, _ := tc.requirement.Peek()
	script, _ := tc.script.Peek()
	status, _ := tc.status.Peek()
	summary, _ := tc.summary.Peek()
	tester, _ := tc.tester.Peek()
	estimated, _ := tc.time.Peek()

	rec := remote.Record{
		"arguments":      arguments,
		"case_status":    status.ID(),
		"estimated_time": estimated,
		"is_automated":   automated,
		"notes":          notes,
		"priority":       priority.ID(),
		"requirement":    requirement,
		"script":         script,
		"summary":        summary,
	}
	if category != nil {
		cid, err := category.ID(ctx)
		if err != nil {
			return nil, err
		}
		product, err := category.Product(ctx)
		if err != nil {
			return nil, err
		}
		rec["category"] = cid
		if rec["product"], err = identityOf(ctx, product); err != nil {
			return nil, err
		}
	}
	if tester != nil {
		login, err := tester.Login(ctx)
		if err != nil {
			return nil, err
		}
		rec["default_tester"] = login
	}
	return rec, nil
}
