package tcms

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/remote"
)

// --- Product ---

var productKind = &nitrate.Kind{
	Name:   "Product",
	Prefix: "ID",
	IDKey:  "id",
	Fetch:  nitrate.FilterByID("Product.filter", "id"),
}

// Product is a product known to the server. It is read-only.
type Product struct {
	nitrate.Base
	key  string
	name nitrate.Field[string]
}

func newProduct(s *nitrate.Session, id int) *Product {
	p := &Product{}
	nitrate.Init(p, s, productKind)
	p.Identify(id)
	return p
}

// Product returns the product with the given id.
func (c *Client) Product(ctx context.Context, id int) *Product {
	return nitrate.Lookup(ctx, c.s, productKind, id, newProduct)
}

// ProductByName returns the product with the given name. The id is looked
// up on first use.
func (c *Client) ProductByName(name string) *Product {
	return productByName(c.s, name)
}

func productByName(s *nitrate.Session, name string) *Product {
	p := &Product{key: name}
	nitrate.Init(p, s, productKind)
	p.name.Put(name)
	return p
}

// Name returns the product name.
func (p *Product) Name(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, p, &p.name)
}

// Materialize implements nitrate.Materializer.
func (p *Product) Materialize(_ context.Context, rec remote.Record) error {
	name, err := rec.String("name")
	if err != nil {
		return err
	}
	p.name.Put(name)
	return nil
}

// HasKey implements nitrate.KeyFetcher.
func (p *Product) HasKey() bool { return p.key != "" }

// FetchByKey implements nitrate.KeyFetcher.
func (p *Product) FetchByKey(ctx context.Context) (remote.Record, error) {
	return nitrate.FilterOne(ctx, p.Session(), "Product.filter", remote.Record{"name": p.key})
}

// SearchProducts returns the products matching filters.
func (c *Client) SearchProducts(ctx context.Context, filters ...Filter) ([]*Product, error) {
	return search(ctx, c.s, "Product.filter", productKind, newProduct, filters)
}

// --- Version ---

var versionKind = &nitrate.Kind{
	Name:   "Version",
	Prefix: "ID",
	IDKey:  "id",
	Fetch:  nitrate.FilterByID("Product.filter_versions", "id"),
}

// Version is a product version.
type Version struct {
	nitrate.Base
	keyProduct *Product
	key        string

	name    nitrate.Field[string]
	product nitrate.Field[*Product]
}

func newVersion(s *nitrate.Session, id int) *Version {
	v := &Version{}
	nitrate.Init(v, s, versionKind)
	v.Identify(id)
	return v
}

// Version returns the version with the given id.
func (c *Client) Version(ctx context.Context, id int) *Version {
	return nitrate.Lookup(ctx, c.s, versionKind, id, newVersion)
}

// VersionByName returns the version called name of product.
func (c *Client) VersionByName(product *Product, name string) *Version {
	return versionByName(c.s, product, name)
}

func versionByName(s *nitrate.Session, product *Product, name string) *Version {
	v := &Version{keyProduct: product, key: name}
	nitrate.Init(v, s, versionKind)
	v.name.Put(name)
	v.product.Put(product)
	return v
}

// Name returns the version string, e.g. "1.2".
func (v *Version) Name(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, v, &v.name)
}

// Product returns the product the version belongs to.
func (v *Version) Product(ctx context.Context) (*Product, error) {
	return nitrate.Get(ctx, v, &v.product)
}

// Materialize implements nitrate.Materializer.
func (v *Version) Materialize(ctx context.Context, rec remote.Record) error {
	name, err := rec.String("value")
	if err != nil {
		return err
	}
	product, err := ref(ctx, v.Session(), rec, "product_id", productKind, newProduct)
	if err != nil {
		return err
	}
	v.name.Put(name)
	if product != nil || !v.product.Loaded() {
		v.product.Put(product)
	}
	return nil
}

// HasKey implements nitrate.KeyFetcher.
func (v *Version) HasKey() bool { return v.keyProduct != nil && v.key != "" }

// FetchByKey implements nitrate.KeyFetcher.
func (v *Version) FetchByKey(ctx context.Context) (remote.Record, error) {
	pid, err := v.keyProduct.ID(ctx)
	if err != nil {
		return nil, err
	}
	return nitrate.FilterOne(ctx, v.Session(), "Product.filter_versions",
		remote.Record{"product": pid, "value": v.key})
}

// --- Build ---

var buildKind = &nitrate.Kind{
	Name:   "Build",
	Prefix: "ID",
	IDKey:  "build_id",
	Fetch:  nitrate.GetByID("Build.get"),
}

// Build is a product build.
type Build struct {
	nitrate.Base
	keyProduct *Product
	key        string

	name    nitrate.Field[string]
	product nitrate.Field[*Product]
}

func newBuild(s *nitrate.Session, id int) *Build {
	b := &Build{}
	nitrate.Init(b, s, buildKind)
	b.Identify(id)
	return b
}

// Build returns the build with the given id.
func (c *Client) Build(ctx context.Context, id int) *Build {
	return nitrate.Lookup(ctx, c.s, buildKind, id, newBuild)
}

// BuildByName returns the build called name of product.
func (c *Client) BuildByName(product *Product, name string) *Build {
	return buildByName(c.s, product, name)
}

func buildByName(s *nitrate.Session, product *Product, name string) *Build {
	b := &Build{keyProduct: product, key: name}
	nitrate.Init(b, s, buildKind)
	b.name.Put(name)
	b.product.Put(product)
	return b
}

// Name returns the build name.
func (b *Build) Name(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, b, &b.name)
}

// Product returns the product the build belongs to.
func (b *Build) Product(ctx context.Context) (*Product, error) {
	return nitrate.Get(ctx, b, &b.product)
}

// Materialize implements nitrate.Materializer.
func (b *Build) Materialize(ctx context.Context, rec remote.Record) error {
	name, err := rec.String("name")
	if err != nil {
		return err
	}
	product, err := ref(ctx, b.Session(), rec, "product_id", productKind, newProduct)
	if err != nil {
		return err
	}
	b.name.Put(name)
	if product != nil || !b.product.Loaded() {
		b.product.Put(product)
	}
	return nil
}

// HasKey implements nitrate.KeyFetcher.
func (b *Build) HasKey() bool { return b.keyProduct != nil && b.key != "" }

// FetchByKey implements nitrate.KeyFetcher.
func (b *Build) FetchByKey(ctx context.Context) (remote.Record, error) {
	pid, err := b.keyProduct.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := b.Session().Call(ctx, "Build.check_build", b.key, pid)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nitrate.ErrNoRecord
	}
	return remote.AsRecord(v)
}

// --- Category ---

var categoryKind = &nitrate.Kind{
	Name:   "Category",
	Prefix: "ID",
	IDKey:  "id",
	Fetch:  nitrate.GetByID("Product.get_category"),
}

// Category is a test case category of a product.
type Category struct {
	nitrate.Base
	keyProduct *Product
	key        string

	name        nitrate.Field[string]
	product     nitrate.Field[*Product]
	description nitrate.Field[string]
}

func newCategory(s *nitrate.Session, id int) *Category {
	c := &Category{}
	nitrate.Init(c, s, categoryKind)
	c.Identify(id)
	return c
}

// Category returns the category with the given id.
func (c *Client) Category(ctx context.Context, id int) *Category {
	return nitrate.Lookup(ctx, c.s, categoryKind, id, newCategory)
}

// CategoryByName returns the category called name of product.
func (c *Client) CategoryByName(product *Product, name string) *Category {
	return categoryByName(c.s, product, name)
}

func categoryByName(s *nitrate.Session, product *Product, name string) *Category {
	cat := &Category{keyProduct: product, key: name}
	nitrate.Init(cat, s, categoryKind)
	cat.name.Put(name)
	cat.product.Put(product)
	return cat
}

// Name returns the category name.
func (c *Category) Name(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, c, &c.name)
}

// Product returns the product the category belongs to.
func (c *Category) Product(ctx context.Context) (*Product, error) {
	return nitrate.Get(ctx, c, &c.product)
}

// Description returns the category description.
func (c *Category) Description(ctx context.Context) (string, error) {
	return nitrate.Get(ctx, c, &c.description)
}

// Synopsis returns "name, product".
func (c *Category) Synopsis(ctx context.Context) (string, error) {
	name, err := c.Name(ctx)
	if err != nil {
		return "", err
	}
	product, err := c.Product(ctx)
	if err != nil {
		return "", err
	}
	pname, err := product.Name(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %s", name, pname), nil
}

// Materialize implements nitrate.Materializer.
func (c *Category) Materialize(ctx context.Context, rec remote.Record) error {
	name, err := rec.String("name")
	if err != nil {
		return err
	}
	product, err := ref(ctx, c.Session(), rec, "product_id", productKind, newProduct)
	if err != nil {
		return err
	}
	var description string
	if rec.Has("description") {
		if description, err = rec.String("description"); err != nil {
			return err
		}
	}
	c.name.Put(name)
	if product != nil || !c.product.Loaded() {
		c.product.Put(product)
	}
	c.description.Put(description)
	return nil
}

// HasKey implements nitrate.KeyFetcher.
func (c *Category) HasKey() bool { return c.keyProduct != nil && c.key != "" }

// FetchByKey implements nitrate.KeyFetcher.
func (c *Category) FetchByKey(ctx context.Context) (remote.Record, error) {
	pid, err := c.keyProduct.ID(ctx)
	if err != nil {
		return nil, err
	}
	v, err := c.Session().Call(ctx, "Product.check_category", c.key, pid)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nitrate.ErrNoRecord
	}
	return remote.AsRecord(v)
}
