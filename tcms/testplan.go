package tcms

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

var testPlanKind = &nitrate.Kind{
	Name:   "TestPlan",
	Prefix: "TP",
	IDKey:  "plan_id",
	Fetch:  nitrate.GetByID("TestPlan.get"),
	Update: "TestPlan.update",
}

// TestPlan is a test plan. Its tags and linked cases are containers
// flushed together with the plan.
type TestPlan struct {
	nitrate.Mutable

	author   nitrate.Field[*User]
	name     nitrate.Field[string]
	parent   nitrate.Field[*TestPlan]
	product  nitrate.Field[*Product]
	version  nitrate.Field[*Version]
	planType nitrate.Field[PlanType]
	status   nitrate.Field[PlanStatus]

	tags  *Tags
	cases *PlanCases
	runs  nitrate.Lazy[[]*TestRun]
}

func newTestPlan(s *nitrate.Session, id int) *TestPlan {
	p := &TestPlan{}
	nitrate.Init(p, s, testPlanKind)
	p.Identify(id)
	p.tags = newTags(p, "TestPlan")
	p.cases = nitrate.NewContainer[int, *TestCase](p, "cases", nitrate.ByID[*TestCase], &planCaseMembers{plan: p})
	p.Own(p.tags, p.cases)
	return p
}

// TestPlan returns the test plan with the given id.
func (c *Client) TestPlan(ctx context.Context, id int) *TestPlan {
	return nitrate.Lookup(ctx, c.s, testPlanKind, id, newTestPlan)
}

// SearchTestPlans returns the plans matching filters.
func (c *Client) SearchTestPlans(ctx context.Context, filters ...Filter) ([]*TestPlan, error) {
	return search(ctx, c.s, "TestPlan.filter", testPlanKind, newTestPlan, filters)
}

// TestPlanParams describes a new test plan. Name, Product, Version and
// Type are required.
type TestPlanParams struct {
	Name    string
	Product *Product
	Version *Version
	Type    PlanType
	Parent  *TestPlan
	// Document is the plan text. Empty means a single space.
	Document string
}

// CreateTestPlan creates a test plan on the server.
func (c *Client) CreateTestPlan(ctx context.Context, params TestPlanParams) (*TestPlan, error) {
	if err := required("test plan name", params.Name == ""); err != nil {
		return nil, err
	}
	if err := required("test plan product", params.Product == nil); err != nil {
		return nil, err
	}
	if err := required("test plan version", params.Version == nil); err != nil {
		return nil, err
	}
	if _, err := PlanTypeByID(params.Type.ID()); err != nil {
		return nil, err
	}
	pid, err := params.Product.ID(ctx)
	if err != nil {
		return nil, err
	}
	vid, err := params.Version.ID(ctx)
	if err != nil {
		return nil, err
	}
	data := remote.Record{
		"name":                    params.Name,
		"product":                 pid,
		"default_product_version": vid,
		"type":                    params.Type.ID(),
		"text":                    params.Document,
		"is_active":               "1",
	}
	if params.Document == "" {
		data["text"] = " "
	}
	if params.Parent != nil {
		parent, err := params.Parent.ID(ctx)
		if err != nil {
			return nil, err
		}
		data["parent"] = parent
	}
	return created(ctx, c.s, "TestPlan.create", testPlanKind, newTestPlan, data)
}

// Author returns the user who wrote the plan.
func (p *TestPlan) Author(ctx context.Context) (*User, error) {
	return nitrate.Get(ctx, p, &p.author)
}

// Name returns the plan name.
func (p *TestPlan) Name(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, p, &p.name)
}

// SetName renames the plan.
func (p *TestPlan) SetName(ctx context.Context, name string) error {
	return nitrate.Set(ctx, p, "name", &p.name, name)
}

// Parent returns the parent plan, or nil.
func (p *TestPlan) Parent(ctx context.Context) (*TestPlan, error) {
	return nitrate.Get(ctx, p, &p.parent)
}

// SetParent changes the parent plan.
func (p *TestPlan) SetParent(ctx context.Context, parent *TestPlan) error {
	return nitrate.Set(ctx, p, "parent", &p.parent, parent)
}

// Product returns the plan's product.
func (p *TestPlan) Product(ctx context.Context) (*Product, error) {
	return nitrate.Get(ctx, p, &p.product)
}

// SetProduct moves the plan to another product.
func (p *TestPlan) SetProduct(ctx context.Context, product *Product) error {
	return nitrate.Set(ctx, p, "product", &p.product, product)
}

// Version returns the default product version, or nil.
func (p *TestPlan) Version(ctx context.Context) (*Version, error) {
	return nitrate.Get(ctx, p, &p.version)
}

// SetVersion changes the default product version.
func (p *TestPlan) SetVersion(ctx context.Context, version *Version) error {
	return nitrate.Set(ctx, p, "version", &p.version, version)
}

// Type returns the plan type.
func (p *TestPlan) Type(ctx context.Context) (PlanType, error) {
	return nitrate.Get(ctx, p, &p.planType)
}

// SetType changes the plan type.
func (p *TestPlan) SetType(ctx context.Context, t PlanType) error {
	if _, err := PlanTypeByID(t.ID()); err != nil {
		return err
	}
	return nitrate.Set(ctx, p, "type", &p.planType, t)
}

// Status tells whether the plan is active.
func (p *TestPlan) Status(ctx context.Context) (PlanStatus, error) {
	return nitrate.Get(ctx, p, &p.status)
}

// SetStatus enables or disables the plan.
func (p *TestPlan) SetStatus(ctx context.Context, status PlanStatus) error {
	return nitrate.Set(ctx, p, "status", &p.status, status)
}

// Tags returns the plan's tags.
func (p *TestPlan) Tags() *Tags {
	return p.tags
}

// Cases returns the test cases linked to the plan.
func (p *TestPlan) Cases() *PlanCases {
	return p.cases
}

// TestRuns returns the runs created from the plan. The list is loaded
// once.
func (p *TestPlan) TestRuns(ctx context.Context) ([]*TestRun, error) {
	return p.runs.Get(ctx, func(ctx context.Context) ([]*TestRun, error) {
		id, err := p.ID(ctx)
		if err != nil {
			return nil, err
		}
		p.Session().Logger().Info(fmt.Sprintf("fetching %s's test runs", p.Identifier()))
		v, err := p.Session().Call(ctx, "TestPlan.get_test_runs", id)
		if err != nil {
			return nil, err
		}
		return decodeList(ctx, p.Session(), v, testRunKind, newTestRun)
	})
}

// Synopsis returns e.g. "TP#3 - Release tests (12 cases, 2 runs)".
func (p *TestPlan) Synopsis(ctx context.Context) (string, error) {
	name, err := p.Name(ctx)
	if err != nil {
		return "", err
	}
	cases, err := p.cases.Len(ctx)
	if err != nil {
		return "", err
	}
	runs, err := p.TestRuns(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s - %s (%d cases, %d runs)", p.Identifier(), name, cases, len(runs)), nil
}

// Materialize implements nitrate.Materializer.
func (p *TestPlan) Materialize(ctx context.Context, rec remote.Record) error {
	s := p.Session()
	author, err := ref(ctx, s, rec, "author_id", userKind, newUser)
	if err != nil {
		return err
	}
	name, err := rec.String("name")
	if err != nil {
		return err
	}
	product, err := ref(ctx, s, rec, "product_id", productKind, newProduct)
	if err != nil {
		return err
	}
	versionName, err := rec.String("default_product_version")
	if err != nil {
		return err
	}
	typeID, err := rec.Int("type_id")
	if err != nil {
		return err
	}
	active, err := rec.Bool("is_active")
	if err != nil {
		return err
	}
	parent, err := ref(ctx, s, rec, "parent_id", testPlanKind, newTestPlan)
	if err != nil {
		return err
	}

	var version *Version
	if versionName != "" && product != nil {
		version = versionByName(s, product, versionName)
	}
	p.author.Put(author)
	p.name.Put(name)
	p.product.Put(product)
	p.version.Put(version)
	p.planType.Put(PlanType(typeID))
	p.status.Put(PlanStatus(active))
	p.parent.Put(parent)
	return nil
}

// UpdateRecord implements nitrate.Updater.
func (p *TestPlan) UpdateRecord(ctx context.Context) (remote.Record, error) {
	name, _ := p.name.Peek()
	product, _ := p.product.Peek()
	version, _ := p.version.Peek()
	planType, _ := p.planType.Peek()
	status, _ := p.status.Peek()
	parent, _ := p.parent.Peek()

	rec := remote.Record{
		"name":      name,
		"type":      planType.ID(),
		"is_active": bool(status),
	}
	var err error
	if rec["product"], err = identityOf(ctx, product); err != nil {
		return nil, err
	}
	if version != nil {
		if rec["default_product_version"], err = version.ID(ctx); err != nil {
			return nil, err
		}
	}
	if parent != nil {
		if rec["parent"], err = parent.ID(ctx); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
