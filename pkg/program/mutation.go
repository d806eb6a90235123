package program

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"
)

// mutatorCatalog lists standard library methods that change receiver state,
// keyed by types.Func.FullName.
var mutatorCatalog = map[string]bool{
	"(*bytes.Buffer).Write":                true,
	"(*bytes.Buffer).WriteString":          true,
	"(*bytes.Buffer).WriteByte":            true,
	"(*bytes.Buffer).WriteRune":            true,
	"(*bytes.Buffer).Reset":                true,
	"(*bytes.Buffer).Truncate":             true,
	"(*bytes.Buffer).Grow":                 true,
	"(*bytes.Buffer).Read":                 true,
	"(*bytes.Buffer).ReadFrom":             true,
	"(*strings.Builder).Write":             true,
	"(*strings.Builder).WriteString":       true,
	"(*strings.Builder).WriteByte":         true,
	"(*strings.Builder).WriteRune":         true,
	"(*strings.Builder).Reset":             true,
	"(*strings.Builder).Grow":              true,
	"(*container/list.List).PushBack":      true,
	"(*container/list.List).PushFront":     true,
	"(*container/list.List).Remove":        true,
	"(*container/list.List).Init":          true,
	"(*container/list.List).MoveToFront":   true,
	"(*container/list.List).MoveToBack":    true,
	"(*container/list.List).InsertBefore":  true,
	"(*container/list.List).InsertAfter":   true,
	"(*container/list.List).PushBackList":  true,
	"(*container/list.List).PushFrontList": true,
	"(*container/ring.Ring).Link":          true,
	"(*container/ring.Ring).Unlink":        true,
}

// mutatorFuncs lists package-level functions that mutate their first
// argument.
var mutatorFuncs = map[string]bool{
	"container/heap.Init":   true,
	"container/heap.Push":   true,
	"container/heap.Pop":    true,
	"container/heap.Fix":    true,
	"container/heap.Remove": true,
	"sort.Sort":             true,
	"sort.Stable":           true,
	"sort.Ints":             true,
	"sort.Strings":          true,
	"sort.Float64s":         true,
	"sort.Slice":            true,
	"sort.SliceStable":      true,
	"slices.Sort":           true,
	"slices.SortFunc":       true,
	"slices.SortStableFunc": true,
	"slices.Reverse":        true,
}

// atomicPackages hold types whose methods are atomic by construction.
var atomicPackages = map[string]bool{
	"sync/atomic": true,
	"sync":        true,
}

// Mutates reports whether calling method on a value of type recv changes
// the receiver's state. pkg qualifies unexported method names.
func (p *Program) Mutates(recv types.Type, pkg *types.Package, method string) bool {
	obj, _, _ := types.LookupFieldOrMethod(recv, true, pkg, method)
	fn, ok := obj.(*types.Func)
	if !ok {
		return false
	}
	return p.MutatesTarget(fn)
}

// MutatesTarget reports whether calling fn changes its receiver's state.
func (p *Program) MutatesTarget(fn *types.Func) bool {
	fn = fn.Origin()
	name := fn.FullName()
	if p.extraMutators[name] {
		return true
	}
	if fn.Pkg() != nil && atomicPackages[fn.Pkg().Path()] {
		return false
	}
	if mutatorCatalog[name] {
		return true
	}
	return p.mutating[fn] == impure
}

// hasPointerRecv reports whether fn is a method with a pointer receiver,
// the only kind that can change its receiver's state.
func hasPointerRecv(fn *Func) bool {
	if fn.Body() == nil || fn.Recv() == nil {
		return false
	}
	_, isPtr := fn.Recv().Type().(*types.Pointer)
	return isPtr
}

// MutatingFunc reports whether fn is a package-level function that mutates
// its first argument.
func (p *Program) MutatingFunc(fn *types.Func) bool {
	name := fn.Origin().FullName()
	return p.extraMutators[name] || mutatorFuncs[name]
}

// storesIntoReceiver reports whether fn's body writes through its receiver.
func (p *Program) storesIntoReceiver(fn *Func) bool {
	recv := fn.Recv()
	info := fn.Pkg.Info
	rooted := func(e ast.Expr) bool {
		return RootObject(info, e) == types.Object(recv)
	}
	found := false
	ast.Inspect(fn.Body(), func(n ast.Node) bool {
		if found {
			return false
		}
		switch n := n.(type) {
		case *ast.AssignStmt:
			if n.Tok == token.DEFINE {
				return true
			}
			for _, lhs := range n.Lhs {
				if _, isIdent := astutil.Unparen(lhs).(*ast.Ident); !isIdent && rooted(lhs) {
					found = true
				}
			}
		case *ast.IncDecStmt:
			if _, isIdent := astutil.Unparen(n.X).(*ast.Ident); !isIdent && rooted(n.X) {
				found = true
			}
		case *ast.CallExpr:
			sel, ok := astutil.Unparen(n.Fun).(*ast.SelectorExpr)
			if ok && rooted(sel.X) {
				if target, ok := info.Uses[sel.Sel].(*types.Func); ok && p.MutatesTarget(target) {
					found = true
				}
			}
			if id, ok := astutil.Unparen(n.Fun).(*ast.Ident); ok && len(n.Args) > 0 {
				if b, ok := info.Uses[id].(*types.Builtin); ok && (b.Name() == "delete" || b.Name() == "clear") && rooted(n.Args[0]) {
					found = true
				}
			}
		}
		return !found
	})
	return found
}

// RootObject returns the variable at the root of a selector, index, star or
// paren chain, or nil.
func RootObject(info *types.Info, e ast.Expr) types.Object {
	if info == nil {
		return nil
	}
	for {
		switch x := e.(type) {
		case *ast.ParenExpr:
			e = x.X
		case *ast.SelectorExpr:
			if sel := info.Selections[x]; sel == nil {
				// Qualified identifier.
				return info.ObjectOf(x.Sel)
			}
			e = x.X
		case *ast.IndexExpr:
			e = x.X
		case *ast.StarExpr:
			e = x.X
		case *ast.Ident:
			return info.ObjectOf(x)
		default:
			return nil
		}
	}
}
