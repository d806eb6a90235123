package reach_test

import (
	"context"
	"errors"
	"go/ast"
	"testing"

	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/prover"
	"github.com/akerouanton/muproof/pkg/reach"
	"github.com/akerouanton/muproof/pkg/reference"
	"github.com/akerouanton/muproof/pkg/schedule"
)

const src = `package main

type Owner struct{ name string }

func use(a, b *Owner) {}

func main() {
	y := &Owner{}
	x := y
	use(x, y)
	split(1)
	loop(3)
}

func split(balance int) {
	o := &Owner{}
	var p, q *Owner
	if balance > 0 {
		p = o
	}
	if balance < 0 {
		q = o
	}
	use(p, q)
}

func loop(n int) {
	var a, b, c *Owner
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			a = b
		} else {
			b = a
		}
	}
	c = &Owner{}
	use(a, c)
}
`

type fixture struct {
	prog    *program.Program
	tracker *reference.Tracker
}

func setup(t *testing.T) fixture {
	t.Helper()
	prog, err := program.FromSource("main", map[string]string{"main.go": src})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	sched, err := schedule.Build(context.Background(), prog, schedule.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return fixture{prog: prog, tracker: reference.NewTracker(prog, sched, nil)}
}

func (f fixture) prover(opts ...reach.Option) *reach.Prover {
	return reach.New(f.prog, f.tracker, prover.New(f.prog), opts...)
}

// arg returns the i-th argument of the call to use in fn.
func (f fixture) arg(t *testing.T, fn string, i int) reference.Reference {
	t.Helper()
	var e ast.Expr
	ast.Inspect(f.prog.LookupFunc(fn).Body(), func(n ast.Node) bool {
		if call, ok := n.(*ast.CallExpr); ok {
			if id, ok := call.Fun.(*ast.Ident); ok && id.Name == "use" {
				e = call.Args[i]
			}
		}
		return true
	})
	if e == nil {
		t.Fatalf("no call to use in %s", fn)
	}
	return reference.Of(f.prog, e, nil)
}

// rhs returns the value assigned to name in fn.
func (f fixture) rhs(t *testing.T, fn, name string) reference.Reference {
	t.Helper()
	var e ast.Expr
	ast.Inspect(f.prog.LookupFunc(fn).Body(), func(n ast.Node) bool {
		if as, ok := n.(*ast.AssignStmt); ok && e == nil {
			if id, ok := as.Lhs[0].(*ast.Ident); ok && id.Name == name {
				e = as.Rhs[0]
			}
		}
		return e == nil
	})
	if e == nil {
		t.Fatalf("no assignment to %s in %s", name, fn)
	}
	return reference.Of(f.prog, e, nil)
}

func TestReflexivity(t *testing.T) {
	f := setup(t)
	x := f.arg(t, "main.main", 0)
	ok, _, err := f.prover().HaveCommonReference(context.Background(), x, x)
	if err != nil {
		t.Fatalf("HaveCommonReference: %v", err)
	}
	if ok {
		t.Errorf("a reference is common with its own location")
	}
}

func TestDirectCopy(t *testing.T) {
	f := setup(t)
	p := f.prover()
	x, y := f.arg(t, "main.main", 0), f.arg(t, "main.main", 1)

	ok, common, err := p.HaveCommonReference(context.Background(), x, y)
	if err != nil {
		t.Fatalf("HaveCommonReference: %v", err)
	}
	if !ok || common.Text() != "y" {
		t.Fatalf("HaveCommonReference(x, y) = %v, %q; want true, y", ok, common.Text())
	}

	ok, rev, err := p.HaveCommonReference(context.Background(), y, x)
	if err != nil {
		t.Fatalf("HaveCommonReference: %v", err)
	}
	if !ok || rev.Key() != common.Key() {
		t.Errorf("HaveCommonReference(y, x) = %v, %s; want the same common reference %s", ok, rev.Key(), common.Key())
	}
}

func TestConflictingGuards(t *testing.T) {
	f := setup(t)
	p := f.prover()
	a, b := f.rhs(t, "main.split", "p"), f.rhs(t, "main.split", "q")
	ok, _, err := p.HaveCommonReference(context.Background(), a, b)
	if err != nil {
		t.Fatalf("HaveCommonReference: %v", err)
	}
	if ok {
		t.Errorf("values under balance > 0 and balance < 0 share a reference")
	}
	if v, cached := p.Cache().Lookup(b, a); !cached || v.Common {
		t.Errorf("Lookup = %+v, %v; want a cached negative", v, cached)
	}
}

func TestCycle(t *testing.T) {
	f := setup(t)
	a, c := f.arg(t, "main.loop", 0), f.arg(t, "main.loop", 1)
	ok, _, err := f.prover().HaveCommonReference(context.Background(), a, c)
	if err != nil {
		t.Fatalf("HaveCommonReference: %v", err)
	}
	if ok {
		t.Errorf("a and c share a reference")
	}
}

func TestDepthExceeded(t *testing.T) {
	f := setup(t)
	x, y := f.arg(t, "main.main", 0), f.arg(t, "main.main", 1)
	ok, _, err := f.prover(reach.WithMaxDepth(0)).HaveCommonReference(context.Background(), x, y)
	if !errors.Is(err, reach.ErrDepthExceeded) {
		t.Fatalf("HaveCommonReference error = %v, want ErrDepthExceeded", err)
	}
	if ok {
		t.Errorf("HaveCommonReference = true past the depth bound")
	}
}

func TestCacheWriteOnce(t *testing.T) {
	f := setup(t)
	x, y := f.arg(t, "main.main", 0), f.arg(t, "main.main", 1)
	c := reach.NewCache()
	first := c.Store(x, y, reach.Verdict{Common: true, Ref: y})
	second := c.Store(y, x, reach.Verdict{})
	if !first.Common || !second.Common {
		t.Errorf("Store replaced a settled verdict: %+v, %+v", first, second)
	}
	if v, ok := c.Lookup(y, x); !ok || v.Ref.Key() != y.Key() {
		t.Errorf("Lookup(y, x) = %+v, %v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
