package tcms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

func TestCreateTestPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fedora := f.c.ProductByName("Fedora")
	smoke, err := ParsePlanType("Smoke")
	if err != nil {
		t.Fatal(err)
	}

	plan, err := f.c.CreateTestPlan(ctx, TestPlanParams{
		Name:    "Nightly",
		Product: fedora,
		Version: f.c.VersionByName(fedora, "39"),
		Type:    smoke,
		Parent:  f.c.TestPlan(ctx, 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := plan.Identifier(); got != "TP#3" {
		t.Errorf("identifier = %q", got)
	}
	author := mustGet(plan.Author(ctx))(t)
	if author != f.c.User(ctx, 1) {
		t.Error("expected the current user as author")
	}
	if parent := mustGet(plan.Parent(ctx))(t); parent != f.c.TestPlan(ctx, 1) {
		t.Error("expected parent TP#1")
	}
	if got := mustGet(plan.Status(ctx))(t); got != PlanEnabled {
		t.Errorf("status = %v", got)
	}
	if got := f.rec.count("TestPlan.get"); got != 0 {
		t.Errorf("created plan was fetched again %d times", got)
	}

	create := f.rec.callsTo("TestPlan.create")[0].params[0].(remote.Record)
	if create["text"] != " " || create["is_active"] != "1" {
		t.Errorf("create record = %v", create)
	}
}

func TestCreateTestRunDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	run, err := f.c.CreateTestRun(ctx, TestRunParams{
		Plan: f.c.TestPlan(ctx, 1),
		Tags: []string{"ad-hoc", "beta"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := mustGet(run.Summary(ctx))(t); got != "Smoke on unspecified" {
		t.Errorf("summary = %q", got)
	}
	build := mustGet(run.Build(ctx))(t)
	if got := mustID(t, build); got != 1 {
		t.Errorf("build = %d", got)
	}
	manager := mustGet(run.Manager(ctx))(t)
	if got := mustGet(manager.Login(ctx))(t); got != "alice" {
		t.Errorf("manager = %q", got)
	}

	data := f.rec.callsTo("TestRun.create")[0].params[0].(remote.Record)
	cases, ok := data["case"].([]int)
	if !ok || len(cases) != 2 || cases[0] != 1 || cases[1] != 2 {
		t.Errorf("case list = %#v, want the confirmed cases 1 and 2", data["case"])
	}
	if data["tag"] != "ad-hoc,beta" {
		t.Errorf("tag = %v", data["tag"])
	}

	caseruns := mustGet(run.CaseRuns(ctx))(t)
	if len(caseruns) != 2 {
		t.Fatalf("case runs = %d", len(caseruns))
	}
	for _, cr := range caseruns {
		if got := mustGet(cr.Status(ctx))(t); got != StatusIdle {
			t.Errorf("%s status = %v", cr.Identifier(), got)
		}
	}
	tags := mustGet(run.Tags().Items(ctx))(t)
	if strings.Join(tags, " ") != "ad-hoc beta" {
		t.Errorf("tags = %v", tags)
	}
}

func TestCreateTestRunWithoutConfirmedCases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	run, err := f.c.CreateTestRun(ctx, TestRunParams{
		Plan:    f.c.TestPlan(ctx, 2),
		Summary: "Legacy",
		Build:   f.c.Build(ctx, 2),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data := f.rec.callsTo("TestRun.create")[0].params[0].(remote.Record)
	if cases, ok := data["case"].([]int); !ok || len(cases) != 0 {
		t.Errorf("case list = %#v, want an empty list", data["case"])
	}
	if got := len(mustGet(run.CaseRuns(ctx))(t)); got != 0 {
		t.Errorf("case runs = %d", got)
	}
}

func TestCreateTestCaseDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fedora := f.c.ProductByName("Fedora")

	tc, err := f.c.CreateTestCase(ctx, TestCaseParams{
		Summary:      "Suspend",
		Product:      fedora,
		CategoryName: "Regression",
		Tester:       f.c.UserByLogin("bob"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := tc.Identifier(); got != "TC#4" {
		t.Errorf("identifier = %q", got)
	}
	if got := mustGet(tc.Priority(ctx))(t); got != DefaultPriority {
		t.Errorf("priority = %v", got)
	}
	if got := mustGet(tc.Status(ctx))(t); got != CaseProposed {
		t.Errorf("status = %v", got)
	}
	category := mustGet(tc.Category(ctx))(t)
	if got := mustID(t, category); got != 2 {
		t.Errorf("category = %d", got)
	}
	tester := mustGet(tc.Tester(ctx))(t)
	if got := mustID(t, tester); got != 2 {
		t.Errorf("tester = %d", got)
	}
}

func TestCreateCaseRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cr, err := f.c.CreateCaseRun(ctx, CaseRunParams{
		TestCase: f.c.TestCase(ctx, 3),
		TestRun:  f.c.TestRun(ctx, 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	build := mustGet(cr.Build(ctx))(t)
	if got := mustID(t, build); got != 2 {
		t.Errorf("build = %d, want the run's build", got)
	}
	if got := mustGet(cr.Status(ctx))(t); got != StatusIdle {
		t.Errorf("status = %v", got)
	}
	if tc := mustGet(cr.TestCase(ctx))(t); tc != f.c.TestCase(ctx, 3) {
		t.Error("expected TC#3")
	}
}

func TestCreateRequiresParams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fedora := f.c.ProductByName("Fedora")

	tests := []struct {
		name   string
		create func() error
		what   string
	}{
		{"plan name", func() error {
			_, err := f.c.CreateTestPlan(ctx, TestPlanParams{})
			return err
		}, "test plan name"},
		{"plan version", func() error {
			_, err := f.c.CreateTestPlan(ctx, TestPlanParams{Name: "x", Product: fedora})
			return err
		}, "test plan version"},
		{"plan type", func() error {
			_, err := f.c.CreateTestPlan(ctx, TestPlanParams{Name: "x", Product: fedora, Version: f.c.Version(ctx, 1)})
			return err
		}, "test plan type id"},
		{"run plan", func() error {
			_, err := f.c.CreateTestRun(ctx, TestRunParams{})
			return err
		}, "test run plan"},
		{"case product", func() error {
			_, err := f.c.CreateTestCase(ctx, TestCaseParams{Summary: "x"})
			return err
		}, "test case product"},
		{"case category", func() error {
			_, err := f.c.CreateTestCase(ctx, TestCaseParams{Summary: "x", Product: fedora})
			return err
		}, "test case category"},
		{"case priority", func() error {
			_, err := f.c.CreateTestCase(ctx, TestCaseParams{Summary: "x", Product: fedora, CategoryName: "Sanity", Priority: 7})
			return err
		}, "priority id"},
		{"caserun case", func() error {
			_, err := f.c.CreateCaseRun(ctx, CaseRunParams{TestRun: f.c.TestRun(ctx, 1)})
			return err
		}, "case run test case"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.create()
			var invalid *nitrate.InvalidArgumentError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidArgumentError, got %v", err)
			}
			if invalid.What != tt.what {
				t.Errorf("what = %q, want %q", invalid.What, tt.what)
			}
		})
	}
	for _, method := range []string{"TestPlan.create", "TestRun.create", "TestCase.create", "TestCaseRun.create"} {
		if got := f.rec.count(method); got != 0 {
			t.Errorf("%s called %d times", method, got)
		}
	}
}
