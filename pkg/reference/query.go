package reference

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/condition"
	"github.com/akerouanton/muproof/pkg/program"
)

// store is one write of a value into a matched location.
type store struct {
	stmt      ast.Node
	value     ast.Expr
	index     int
	elem      bool
	algebraic bool
}

// stores collects the writes below roots into locations accepted by match:
// assignments, declarations with initializers, increments and range values.
func (t *Tracker) stores(roots []ast.Node, match func(ast.Expr) bool) []store {
	var out []store
	for _, root := range roots {
		ast.Inspect(root, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.AssignStmt:
				for i, lhs := range n.Lhs {
					if !match(lhs) {
						continue
					}
					switch {
					case n.Tok != token.ASSIGN && n.Tok != token.DEFINE:
						out = append(out, store{stmt: n, value: n.Rhs[0], algebraic: true})
					case len(n.Lhs) == len(n.Rhs):
						out = append(out, store{stmt: n, value: n.Rhs[i]})
					default:
						out = append(out, store{stmt: n, value: n.Rhs[0], index: i})
					}
				}
			case *ast.IncDecStmt:
				if match(n.X) {
					out = append(out, store{stmt: n, value: n.X, algebraic: true})
				}
			case *ast.ValueSpec:
				for i, name := range n.Names {
					if !match(name) {
						continue
					}
					switch {
					case len(n.Values) == len(n.Names):
						out = append(out, store{stmt: n, value: n.Values[i]})
					case len(n.Values) == 1:
						out = append(out, store{stmt: n, value: n.Values[0], index: i})
					}
				}
			case *ast.RangeStmt:
				if n.Value != nil && match(n.Value) {
					out = append(out, store{stmt: n, value: n.X, elem: true})
				}
			}
			return true
		})
	}
	return out
}

// storesOf converts the stores below roots into assignments evaluated in
// ctx.
func (t *Tracker) storesOf(roots []ast.Node, match func(ast.Expr) bool, ctx condition.Context) []Assignment {
	var out []Assignment
	for _, s := range t.stores(roots, match) {
		r := t.ref(s.value, ctx)
		r.Index = s.index
		r.Elem = s.elem
		out = append(out, Assignment{
			Ref:        r,
			Conditions: condition.Extract(t.prog, s.stmt).In(ctx),
			Algebraic:  s.algebraic,
		})
	}
	return out
}

// elements returns the origins of the elements of the collection ref
// denotes: element stores, appended values and literal elements of its
// initializers.
func (t *Tracker) elements(ref Reference) []Assignment {
	coll := astutil.Unparen(ref.Node)
	info := t.prog.Info(coll)
	if info == nil {
		return nil
	}
	root := program.RootObject(info, coll)
	if root == nil {
		return nil
	}
	text := types.ExprString(coll)
	same := func(e ast.Expr) bool {
		e = astutil.Unparen(e)
		return types.ExprString(e) == text && program.RootObject(t.prog.Info(e), e) == root
	}

	roots := t.files()
	ctx := condition.Context(nil)
	if v, ok := root.(*types.Var); ok && !v.IsField() {
		if fn := t.declaringFunc(coll, v); fn != nil {
			roots = []ast.Node{fn.Body()}
			ctx = ref.Contexts
		}
	}

	var out []Assignment
	add := func(value ast.Expr, stmt ast.Node, elem bool) {
		r := t.ref(value, ctx)
		r.Elem = elem
		out = append(out, Assignment{Ref: r, Conditions: condition.Extract(t.prog, stmt).In(ctx)})
	}

	// Element stores: coll[k] = v.
	for _, s := range t.stores(roots, func(lhs ast.Expr) bool {
		ix, ok := astutil.Unparen(lhs).(*ast.IndexExpr)
		return ok && same(ix.X)
	}) {
		if !s.algebraic && s.index == 0 {
			add(s.value, s.stmt, false)
		}
	}

	// Appends and literal initializers: coll = append(coll, v...), coll = T{...}.
	for _, s := range t.stores(roots, same) {
		switch v := astutil.Unparen(s.value).(type) {
		case *ast.CallExpr:
			if !isAppend(t.prog.Info(v), v) {
				continue
			}
			for i, arg := range v.Args[1:] {
				spread := v.Ellipsis.IsValid() && i == len(v.Args)-2
				add(arg, s.stmt, spread)
			}
		case *ast.CompositeLit:
			for _, elt := range v.Elts {
				if kv, ok := elt.(*ast.KeyValueExpr); ok {
					elt = kv.Value
				}
				add(elt, s.stmt, false)
			}
		}
	}
	return out
}

func isAppend(info *types.Info, call *ast.CallExpr) bool {
	id, ok := astutil.Unparen(call.Fun).(*ast.Ident)
	if !ok || len(call.Args) == 0 {
		return false
	}
	b, ok := info.Uses[id].(*types.Builtin)
	return ok && b.Name() == "append"
}

// isCollection reports whether indexing a value of type t queries an
// element: slices, arrays, pointers to arrays, maps and strings.
func isCollection(t types.Type) bool {
	if t == nil {
		return false
	}
	switch u := t.Underlying().(type) {
	case *types.Slice, *types.Array, *types.Map:
		return true
	case *types.Pointer:
		_, ok := u.Elem().Underlying().(*types.Array)
		return ok
	case *types.Basic:
		return u.Info()&types.IsString != 0
	}
	return false
}
