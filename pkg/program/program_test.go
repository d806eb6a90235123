package program_test

import (
	"go/ast"
	"go/types"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akerouanton/muproof/pkg/program"
)

const src = `package p

import "strings"

type Counter struct {
	n    int
	name string
}

func NewCounter() *Counter { return &Counter{name: "c"} }

func (c *Counter) Inc() { c.n++ }

func (c *Counter) Get() int { return c.n }

func (c *Counter) Rename(s string) { c.setName(s) }

func (c *Counter) setName(s string) { c.name = s }

func (c Counter) Copy() Counter {
	c.n = 0
	return c
}

type Getter interface{ Get() int }

type Fixed struct{}

func (Fixed) Get() int { return 1 }

func positive(x int) bool { return x > 0 }

func upper(s string) string { return strings.ToUpper(s) }

var total int

func bump() bool {
	total++
	return true
}

func run(g Getter) int {
	go func() {
		bump()
	}()
	defer bump()
	return g.Get()
}
`

func load(t *testing.T) *program.Program {
	t.Helper()
	prog, err := program.FromSource("p", map[string]string{"p.go": src})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	return prog
}

func TestIndex(t *testing.T) {
	prog := load(t)

	var names []string
	for _, fn := range prog.Funcs() {
		names = append(names, fn.Name())
	}
	want := []string{
		"p.NewCounter",
		"(*p.Counter).Inc",
		"(*p.Counter).Get",
		"(*p.Counter).Rename",
		"(*p.Counter).setName",
		"(p.Counter).Copy",
		"(p.Fixed).Get",
		"p.positive",
		"p.upper",
		"p.bump",
		"p.run",
		"p.run$1",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Funcs() mismatch (-want +got):\n%s", diff)
	}

	bump := prog.LookupFunc("p.bump")
	var kinds []string
	for _, cs := range prog.CallersOf(bump) {
		switch {
		case cs.Go:
			kinds = append(kinds, "go")
		case cs.Defer:
			kinds = append(kinds, "defer")
		default:
			kinds = append(kinds, "call:"+cs.Caller.Name())
		}
	}
	if diff := cmp.Diff([]string{"call:p.run$1", "defer"}, kinds); diff != "" {
		t.Errorf("CallersOf(bump) mismatch (-want +got):\n%s", diff)
	}

	lit := prog.LookupFunc("p.run")
	var goCalls int
	for _, cs := range prog.Calls() {
		if cs.Go && cs.Caller == lit && cs.Callee != nil && cs.Callee.Outer == lit {
			goCalls++
		}
	}
	if goCalls != 1 {
		t.Errorf("go statements launching p.run$1 = %d, want 1", goCalls)
	}
}

func TestPurity(t *testing.T) {
	prog := load(t)
	for name, want := range map[string]bool{
		"p.positive":          true,
		"p.upper":             true,
		"(*p.Counter).Get":    true,
		"(*p.Counter).Inc":    false,
		"p.bump":              false,
		"(p.Counter).Copy":    true,
		"(*p.Counter).Rename": false,
	} {
		if got := prog.IsPure(prog.LookupFunc(name)); got != want {
			t.Errorf("IsPure(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestMutates(t *testing.T) {
	prog := load(t)
	counter := prog.LookupType("p", "Counter")
	ptr := types.NewPointer(counter)
	for method, want := range map[string]bool{
		"Inc":     true,
		"Get":     false,
		"Rename":  true,
		"setName": true,
		"Copy":    false,
		"Missing": false,
	} {
		if got := prog.Mutates(ptr, counter.Obj().Pkg(), method); got != want {
			t.Errorf("Mutates(*Counter, %s) = %v, want %v", method, got, want)
		}
	}
}

func TestImplementations(t *testing.T) {
	prog := load(t)
	getter := prog.LookupType("p", "Getter")
	iface := getter.Underlying().(*types.Interface)

	var got []string
	for _, impl := range prog.Implementations(iface) {
		got = append(got, impl.String())
	}
	if diff := cmp.Diff([]string{"*p.Counter", "p.Fixed"}, got); diff != "" {
		t.Errorf("Implementations mismatch (-want +got):\n%s", diff)
	}

	run := prog.LookupFunc("p.run")
	var call *ast.CallExpr
	ast.Inspect(run.Body(), func(n ast.Node) bool {
		if c, ok := n.(*ast.CallExpr); ok {
			if sel, ok := c.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == "Get" {
				call = c
			}
		}
		return true
	})
	var callees []string
	for _, fn := range prog.CalleesOf(call) {
		callees = append(callees, fn.Name())
	}
	if diff := cmp.Diff([]string{"(*p.Counter).Get", "(p.Fixed).Get"}, callees); diff != "" {
		t.Errorf("CalleesOf(g.Get()) mismatch (-want +got):\n%s", diff)
	}
}

func TestIsConstructorLike(t *testing.T) {
	prog := load(t)
	counter := prog.LookupType("p", "Counter")
	for name, want := range map[string]bool{
		"p.NewCounter":     true,
		"(*p.Counter).Inc": false,
		"(p.Counter).Copy": false,
		"p.bump":           false,
	} {
		if got := prog.IsConstructorLike(prog.LookupFunc(name), counter); got != want {
			t.Errorf("IsConstructorLike(%s) = %v, want %v", name, got, want)
		}
	}
}

const recursiveSrc = `package r

type Inner struct{ n int }

func (i *Inner) A(k int) {
	i.B(k)
	i.n++
}

func (i *Inner) B(k int) {
	if k > 0 {
		i.A(k - 1)
	}
}

func even(k int) bool {
	if k == 0 {
		return true
	}
	return odd(k - 1)
}

func odd(k int) bool {
	if k == 0 {
		return false
	}
	return even(k - 1)
}

var calls int

func ping(k int) {
	if k > 0 {
		pong(k - 1)
	}
}

func pong(k int) {
	calls++
	ping(k)
}
`

func TestRecursiveEffects(t *testing.T) {
	prog, err := program.FromSource("r", map[string]string{"r.go": recursiveSrc})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	inner := prog.LookupType("r", "Inner")
	ptr := types.NewPointer(inner)
	for _, method := range []string{"A", "B"} {
		if !prog.Mutates(ptr, inner.Obj().Pkg(), method) {
			t.Errorf("Mutates(*Inner, %s) = false, want true", method)
		}
	}
	for name, want := range map[string]bool{
		"(*r.Inner).A": false,
		"(*r.Inner).B": false,
		"r.even":       true,
		"r.odd":        true,
		"r.ping":       false,
		"r.pong":       false,
	} {
		if got := prog.IsPure(prog.LookupFunc(name)); got != want {
			t.Errorf("IsPure(%s) = %v, want %v", name, got, want)
		}
	}
}

const unexportedSrc = `package u

type worker interface{ run() }

type a struct{ n int }

func (x *a) run() { x.n++ }

type b struct{}

func (b) run() {}

func start(w worker) {
	go w.run()
}
`

func TestUnexportedMethods(t *testing.T) {
	prog, err := program.FromSource("u", map[string]string{"u.go": unexportedSrc})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	named := prog.LookupType("u", "a")
	pkg := named.Obj().Pkg()
	if fn := prog.ResolveMethod(types.NewPointer(named), pkg, "run"); fn == nil || fn.Name() != "(*u.a).run" {
		t.Errorf("ResolveMethod(*a, run) = %v, want (*u.a).run", fn)
	}
	if !prog.Mutates(types.NewPointer(named), pkg, "run") {
		t.Errorf("Mutates(*a, run) = false, want true")
	}

	var call *ast.CallExpr
	ast.Inspect(prog.LookupFunc("u.start").Body(), func(n ast.Node) bool {
		if c, ok := n.(*ast.CallExpr); ok {
			call = c
		}
		return true
	})
	var callees []string
	for _, fn := range prog.CalleesOf(call) {
		callees = append(callees, fn.Name())
	}
	if diff := cmp.Diff([]string{"(*u.a).run", "(u.b).run"}, callees); diff != "" {
		t.Errorf("CalleesOf(w.run()) mismatch (-want +got):\n%s", diff)
	}
}
