package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/tcms"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

var errUsage = errors.New("usage")

const usage = `usage: nitrate [flags] <command> [arguments]

commands:
  show ID...                    print the synopsis of TP#, TR#, TC# or CR# objects
  search KIND [LOOKUP=VALUE]... search plans, runs, cases, caseruns, users or products
  tag ID add|remove TAG...      change the tags of a plan, run or case
  status CR#ID STATUS           set the result of a case run
  runs TP#ID                    list the runs of a plan
`

// app runs one command against a client.
type app struct {
	c     *tcms.Client
	out   io.Writer
	paint *tcms.Painter
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	logging.GetFromContext(ctx).Debug("running command", "command", args[0], "args", args[1:])
	switch cmd, rest := args[0], args[1:]; cmd {
	case "show":
		return a.show(ctx, rest)
	case "search":
		return a.search(ctx, rest)
	case "tag":
		return a.tag(ctx, rest)
	case "status":
		return a.status(ctx, rest)
	case "runs":
		return a.runs(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// --- Identifiers ---

// object is anything addressable from the command line by identifier.
type object interface {
	nitrate.Flusher
	Identifier() string
}

type tagged interface {
	object
	Tags() *tcms.Tags
}

func parseIdentifier(s string) (prefix string, id int, err error) {
	prefix, num, ok := strings.Cut(strings.ToUpper(s), "#")
	if !ok {
		return "", 0, &nitrate.InvalidArgumentError{What: "identifier", Value: s}
	}
	if id, err = strconv.Atoi(num); err != nil || id <= 0 {
		return "", 0, &nitrate.InvalidArgumentError{What: "identifier", Value: s}
	}
	return prefix, id, nil
}

func (a *app) lookup(ctx context.Context, s string) (object, error) {
	prefix, id, err := parseIdentifier(s)
	if err != nil {
		return nil, err
	}
	switch prefix {
	case "TP":
		return a.c.TestPlan(ctx, id), nil
	case "TR":
		return a.c.TestRun(ctx, id), nil
	case "TC":
		return a.c.TestCase(ctx, id), nil
	case "CR":
		return a.c.CaseRun(ctx, id), nil
	}
	return nil, &nitrate.InvalidArgumentError{What: "identifier prefix", Value: prefix}
}

func (a *app) synopsis(ctx context.Context, o object) (string, error) {
	switch v := o.(type) {
	case *tcms.TestPlan:
		return v.Synopsis(ctx)
	case *tcms.TestRun:
		return v.Synopsis(ctx)
	case *tcms.TestCase:
		return v.Synopsis(ctx)
	case *tcms.CaseRun:
		return v.Synopsis(ctx, a.paint)
	}
	return o.Identifier(), nil
}

// --- Commands ---

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("show needs an identifier: %w", errUsage)
	}
	for _, arg := range args {
		o, err := a.lookup(ctx, arg)
		if err != nil {
			return err
		}
		line, err := a.synopsis(ctx, o)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// parseLookup turns "summary__icontains=boot" into a filter. Integer
// values are sent as integers.
func parseLookup(s string) (tcms.Filter, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return nil, &nitrate.InvalidArgumentError{What: "lookup", Value: s}
	}
	field, op, _ := strings.Cut(key, "__")
	var value any = raw
	switch {
	case op == "in":
		list := []any{}
		for _, part := range strings.Split(raw, ",") {
			list = append(list, scalar(part))
		}
		value = list
	case op == "isnull":
		value = raw == "1" || strings.EqualFold(raw, "true")
	default:
		value = scalar(raw)
	}
	return &tcms.Lookup{Field: field, Op: op, Value: value}, nil
}

func scalar(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

func (a *app) search(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("search needs a kind: %w", errUsage)
	}
	filters := make([]tcms.Filter, 0, len(args)-1)
	for _, arg := range args[1:] {
		f, err := parseLookup(arg)
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}

	var lines []string
	var err error
	switch args[0] {
	case "plans":
		lines, err = describe(ctx, a.c.SearchTestPlans, filters, (*tcms.TestPlan).Synopsis)
	case "runs":
		lines, err = describe(ctx, a.c.SearchTestRuns, filters, (*tcms.TestRun).Synopsis)
	case "cases":
		lines, err = describe(ctx, a.c.SearchTestCases, filters, (*tcms.TestCase).Line)
	case "caseruns":
		lines, err = describe(ctx, a.c.SearchCaseRuns, filters, func(cr *tcms.CaseRun, ctx context.Context) (string, error) {
			return cr.Synopsis(ctx, a.paint)
		})
	case "users":
		lines, err = describe(ctx, a.c.SearchUsers, filters, (*tcms.User).Login)
	case "products":
		lines, err = describe(ctx, a.c.SearchProducts, filters, (*tcms.Product).Name)
	default:
		return fmt.Errorf("unknown search kind %q: %w", args[0], errUsage)
	}
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func describe[E any](ctx context.Context, search func(context.Context, ...tcms.Filter) ([]E, error), filters []tcms.Filter, line func(E, context.Context) (string, error)) ([]string, error) {
	found, err := search(ctx, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(found))
	for _, e := range found {
		s, err := line(e, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *app) tag(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("tag needs an identifier, add or remove and tags: %w", errUsage)
	}
	o, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	t, ok := o.(tagged)
	if !ok {
		return &nitrate.InvalidArgumentError{What: "tagged object", Value: args[0]}
	}
	switch args[1] {
	case "add":
		err = t.Tags().Add(ctx, args[2:]...)
	case "remove":
		err = t.Tags().Remove(ctx, args[2:]...)
	default:
		return fmt.Errorf("unknown tag action %q: %w", args[1], errUsage)
	}
	if err != nil {
		return err
	}
	if err := t.Flush(ctx); err != nil {
		return err
	}
	desc, err := t.Tags().Describe(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s tags: %s\n", t.Identifier(), desc)
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("status needs a case run and a status: %w", errUsage)
	}
	o, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	cr, ok := o.(*tcms.CaseRun)
	if !ok {
		return &nitrate.InvalidArgumentError{What: "case run identifier", Value: args[0]}
	}
	status, err := tcms.ParseStatus(args[1])
	if err != nil {
		return err
	}
	if err := cr.SetStatus(ctx, status); err != nil {
		return err
	}
	if err := cr.Flush(ctx); err != nil {
		return err
	}
	line, err := cr.Synopsis(ctx, a.paint)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, line)
	return nil
}

func (a *app) runs(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("runs needs a test plan: %w", errUsage)
	}
	o, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	plan, ok := o.(*tcms.TestPlan)
	if !ok {
		return &nitrate.InvalidArgumentError{What: "test plan identifier", Value: args[0]}
	}
	runs, err := plan.TestRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		line, err := r.Synopsis(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}
