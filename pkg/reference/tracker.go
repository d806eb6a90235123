package reference

import (
	"context"
	"go/ast"
	"go/token"
	"go/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/condition"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/schedule"
)

// Tracker finds the conditional origins of references.
type Tracker struct {
	prog  *program.Program
	sched *schedule.Schedule
	log   *logrus.Entry
}

// NewTracker returns a tracker for prog restricted to code sched reaches.
func NewTracker(prog *program.Program, sched *schedule.Schedule, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{prog: prog, sched: sched, log: log.WithField("component", "tracker")}
}

// Assignments returns the candidate origins of ref. Locations no thread
// path reaches have none. When restrict is set, parameter origins are taken
// from that call only.
func (t *Tracker) Assignments(ctx context.Context, ref Reference, restrict *ast.CallExpr) ([]Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.sched.ContainsNode(ref.Node) {
		return nil, nil
	}

	var out []Assignment
	if ref.Elem {
		out = t.elements(ref)
	} else {
		out = t.dispatch(ref, restrict)
	}

	filtered := out[:0]
	for _, a := range out {
		if t.sched.ContainsNode(a.Ref.Node) {
			filtered = append(filtered, a)
		}
	}
	if t.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		t.log.WithFields(logrus.Fields{
			"ref":         ref.Text(),
			"assignments": len(filtered),
		}).Debug("assignments")
	}
	return filtered, nil
}

func (t *Tracker) dispatch(ref Reference, restrict *ast.CallExpr) []Assignment {
	switch e := astutil.Unparen(ref.Node).(type) {
	case *ast.Ident:
		return t.ident(ref, e, restrict)
	case *ast.SelectorExpr:
		if sel := t.prog.Info(e).Selections[e]; sel == nil {
			// Qualified identifier.
			return t.ident(ref, e.Sel, restrict)
		} else if sel.Kind() == types.FieldVal {
			return t.field(ref, sel)
		}
	case *ast.CallExpr:
		return t.call(ref, e)
	case *ast.IndexExpr:
		if isCollection(t.prog.TypeOf(e.X)) && ref.Index == 0 {
			return t.elements(t.ref(e.X, ref.Contexts))
		}
	case *ast.UnaryExpr:
		if e.Op == token.AND {
			if _, isLit := astutil.Unparen(e.X).(*ast.CompositeLit); !isLit {
				return []Assignment{{Ref: t.ref(e.X, ref.Contexts)}}
			}
		}
	case *ast.TypeAssertExpr:
		if ref.Index == 0 {
			return []Assignment{{Ref: t.ref(e.X, ref.Contexts)}}
		}
	}
	return nil
}

func (t *Tracker) ref(e ast.Expr, ctx condition.Context) Reference {
	return Of(t.prog, e, ctx)
}

func (t *Tracker) ident(ref Reference, id *ast.Ident, restrict *ast.CallExpr) []Assignment {
	v, ok := t.prog.ObjectOf(id).(*types.Var)
	if !ok {
		return nil
	}
	if fn := t.declaringFunc(id, v); fn != nil {
		if fn.Param(v) >= 0 || fn.Recv() == v {
			return t.param(ref, fn, v, restrict)
		}
		return t.storesOf([]ast.Node{fn.Body()}, t.objectMatcher(v), ref.Contexts)
	}
	if v.IsField() {
		return nil
	}
	// Package-level variable: every store in the program.
	return t.storesOf(t.files(), t.objectMatcher(v), nil)
}

// declaringFunc returns the function declaring v, searching outwards from
// the function enclosing the use.
func (t *Tracker) declaringFunc(use ast.Node, v *types.Var) *program.Func {
	for fn := t.prog.EnclosingFunc(use); fn != nil; fn = fn.Outer {
		if fn.Contains(v.Pos()) {
			return fn
		}
	}
	return nil
}

// param resolves a parameter or receiver: through the innermost context
// when it describes a call of fn, or else through every call site.
func (t *Tracker) param(ref Reference, fn *program.Func, v *types.Var, restrict *ast.CallExpr) []Assignment {
	if len(ref.Contexts) > 0 && ref.Contexts[0].Callee == fn {
		frame := ref.Contexts[0]
		arg, ok := frame.Bound(v)
		if !ok {
			return nil
		}
		outer := ref.Contexts.Pop()
		return []Assignment{{
			Ref:        t.ref(arg, outer),
			Conditions: condition.Extract(t.prog, frame.Call).In(outer),
		}}
	}

	var out []Assignment
	for _, cs := range t.prog.CallersOf(fn) {
		if restrict != nil && cs.Call != restrict {
			continue
		}
		if !t.sched.ContainsNode(cs.Call) {
			continue
		}
		arg := t.argument(cs, fn, v)
		if arg == nil {
			continue
		}
		out = append(out, Assignment{
			Ref:        t.ref(arg, nil),
			Conditions: condition.Extract(t.prog, cs.Call),
		})
	}
	return out
}

// argument returns the expression cs passes for v, or nil.
func (t *Tracker) argument(cs *program.CallSite, fn *program.Func, v *types.Var) ast.Expr {
	if fn.Recv() == v {
		if sel, ok := astutil.Unparen(cs.Call.Fun).(*ast.SelectorExpr); ok {
			return sel.X
		}
		return nil
	}
	i := fn.Param(v)
	sig := fn.Signature()
	if sig.Variadic() && i == sig.Params().Len()-1 && !cs.Call.Ellipsis.IsValid() {
		// The variadic slice is built by the call.
		return nil
	}
	if i >= len(cs.Call.Args) {
		return nil
	}
	return cs.Call.Args[i]
}

// Bind builds the call context of crossing into fn through call.
func Bind(call *ast.CallExpr, fn *program.Func) *CallContext {
	frame := &CallContext{Call: call, Callee: fn, Bindings: make(map[*types.Var]ast.Expr)}
	if recv := fn.Recv(); recv != nil {
		if sel, ok := astutil.Unparen(call.Fun).(*ast.SelectorExpr); ok {
			frame.Instance = sel.X
			frame.Bindings[recv] = sel.X
		}
	}
	sig := fn.Signature()
	for i := 0; i < sig.Params().Len(); i++ {
		p := sig.Params().At(i)
		if sig.Variadic() && i == sig.Params().Len()-1 && !call.Ellipsis.IsValid() {
			break
		}
		if i < len(call.Args) {
			frame.Bindings[p] = call.Args[i]
		}
	}
	return frame
}

func (t *Tracker) field(ref Reference, selection *types.Selection) []Assignment {
	field := selection.Obj().(*types.Var)
	out := t.storesOf(t.files(), t.fieldMatcher(field), nil)

	owner := ownerOf(selection)
	if owner == nil {
		return out
	}
	for _, lit := range t.prog.CompositeLits(owner) {
		value := t.fieldValue(lit, owner, field)
		if value == nil {
			continue
		}
		out = append(out, Assignment{
			Ref:        t.ref(value, nil),
			Conditions: guards(t.prog, lit),
		})
	}
	return out
}

// fieldValue returns the element of lit initializing field, or nil.
func (t *Tracker) fieldValue(lit *ast.CompositeLit, owner *types.Named, field *types.Var) ast.Expr {
	st, ok := owner.Underlying().(*types.Struct)
	if !ok {
		return nil
	}
	for i, elt := range lit.Elts {
		if kv, ok := elt.(*ast.KeyValueExpr); ok {
			if id, ok := kv.Key.(*ast.Ident); ok && t.prog.ObjectOf(id) == field {
				return kv.Value
			}
			continue
		}
		if i < st.NumFields() && st.Field(i) == field {
			return elt
		}
	}
	return nil
}

// ownerOf returns the named struct type declaring the selected field,
// following embedded fields.
func ownerOf(sel *types.Selection) *types.Named {
	t := sel.Recv()
	idx := sel.Index()
	for _, i := range idx[:len(idx)-1] {
		if ptr, ok := t.Underlying().(*types.Pointer); ok {
			t = ptr.Elem()
		}
		st, ok := t.Underlying().(*types.Struct)
		if !ok {
			return nil
		}
		t = st.Field(i).Type()
	}
	named := program.NamedOf(t)
	if named == nil {
		return nil
	}
	if _, ok := named.Underlying().(*types.Struct); !ok {
		return nil
	}
	return named.Origin()
}

// call inlines the returns of an in-program callee.
func (t *Tracker) call(ref Reference, call *ast.CallExpr) []Assignment {
	info := t.prog.Info(call)
	if tv, ok := info.Types[call.Fun]; ok && tv.IsType() && len(call.Args) == 1 {
		return []Assignment{{Ref: t.ref(call.Args[0], ref.Contexts)}}
	}
	if id, ok := astutil.Unparen(call.Fun).(*ast.Ident); ok {
		if b, ok := info.Uses[id].(*types.Builtin); ok {
			if b.Name() == "append" && len(call.Args) > 0 {
				return []Assignment{{Ref: t.ref(call.Args[0], ref.Contexts)}}
			}
			return nil
		}
	}

	callers := condition.Extract(t.prog, call).In(ref.Contexts)
	var out []Assignment
	for _, fn := range t.prog.CalleesOf(call) {
		inner := ref.Contexts.Push(Bind(call, fn))
		for _, ret := range Returns(fn) {
			result := t.result(fn, ret, ref.Index)
			if result == nil || isConstruction(result.value) {
				continue
			}
			r := t.ref(result.value, inner)
			r.Index = result.index
			out = append(out, Assignment{
				Ref:        r,
				Conditions: callers.And(condition.Extract(t.prog, ret).In(inner)),
			})
		}
	}
	return out
}

type component struct {
	value ast.Expr
	index int
}

// result returns the expression ret yields for result i of fn.
func (t *Tracker) result(fn *program.Func, ret *ast.ReturnStmt, i int) *component {
	sig := fn.Signature()
	switch {
	case len(ret.Results) == 0:
		// Bare return of named results.
		if i >= sig.Results().Len() {
			return nil
		}
		if id := t.resultIdent(fn, i); id != nil {
			return &component{value: id}
		}
		return nil
	case len(ret.Results) == sig.Results().Len():
		if i >= len(ret.Results) {
			return nil
		}
		return &component{value: ret.Results[i]}
	case len(ret.Results) == 1:
		// return g() with g returning a tuple.
		return &component{value: ret.Results[0], index: i}
	}
	return nil
}

// resultIdent returns the declaring identifier of named result i.
func (t *Tracker) resultIdent(fn *program.Func, i int) *ast.Ident {
	var ft *ast.FuncType
	if fn.Decl != nil {
		ft = fn.Decl.Type
	} else {
		ft = fn.Lit.Type
	}
	if ft.Results == nil {
		return nil
	}
	n := 0
	for _, field := range ft.Results.List {
		for _, name := range field.Names {
			if n == i {
				return name
			}
			n++
		}
	}
	return nil
}

// Returns lists fn's return statements, excluding those of nested literals.
func Returns(fn *program.Func) []*ast.ReturnStmt {
	var out []*ast.ReturnStmt
	ast.Inspect(fn.Body(), func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.ReturnStmt:
			out = append(out, n)
		}
		return true
	})
	return out
}

// isConstruction reports whether e builds a new value.
func isConstruction(e ast.Expr) bool {
	switch e := astutil.Unparen(e).(type) {
	case *ast.CompositeLit:
		return true
	case *ast.UnaryExpr:
		_, ok := astutil.Unparen(e.X).(*ast.CompositeLit)
		return e.Op == token.AND && ok
	}
	return false
}

// files returns every file of the program as traversal roots.
func (t *Tracker) files() []ast.Node {
	var out []ast.Node
	for _, pkg := range t.prog.Packages {
		for _, f := range pkg.Files {
			out = append(out, f)
		}
	}
	return out
}

func (t *Tracker) objectMatcher(v *types.Var) func(ast.Expr) bool {
	return func(e ast.Expr) bool {
		id, ok := astutil.Unparen(e).(*ast.Ident)
		return ok && t.prog.ObjectOf(id) == v
	}
}

func (t *Tracker) fieldMatcher(field *types.Var) func(ast.Expr) bool {
	return func(e ast.Expr) bool {
		sel, ok := astutil.Unparen(e).(*ast.SelectorExpr)
		return ok && t.prog.ObjectOf(sel.Sel) == field
	}
}
