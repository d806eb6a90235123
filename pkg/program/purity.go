package program

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/types/typeutil"
)

type purity int

const (
	unknownPurity purity = iota
	pure
	impure
)

// purePackages lists standard packages whose package-level functions have
// no observable side effects.
var purePackages = map[string]bool{
	"bytes":         true,
	"math":          true,
	"math/bits":     true,
	"path":          true,
	"path/filepath": true,
	"strconv":       true,
	"strings":       true,
	"unicode":       true,
	"unicode/utf8":  true,
}

// pureMethods lists standard library methods that only read their receiver.
var pureMethods = map[string]bool{
	"(*bytes.Buffer).Len":       true,
	"(*bytes.Buffer).String":    true,
	"(*strings.Builder).Len":    true,
	"(*strings.Builder).String": true,
	"(time.Duration).Seconds":   true,
	"(time.Time).Before":        true,
	"(time.Time).After":         true,
	"(time.Time).IsZero":        true,
	"(error).Error":             true,
}

// impurePackageFuncs are exceptions inside purePackages.
var impurePackageFuncs = map[string]bool{
	"path/filepath.Walk":    true,
	"path/filepath.WalkDir": true,
	"path/filepath.Glob":    true,
	"path/filepath.Abs":     true,
}

// pureBuiltins are builtins without side effects.
var pureBuiltins = map[string]bool{
	"append":  true,
	"cap":     true,
	"complex": true,
	"imag":    true,
	"len":     true,
	"make":    true,
	"max":     true,
	"min":     true,
	"new":     true,
	"real":    true,
}

// IsPure reports whether fn is side-effect free: it stores only into its own
// locals, starts no goroutines, sends on no channels, and calls only pure
// functions. A recursive cycle is pure when every function in it is.
func (p *Program) IsPure(fn *Func) bool {
	return p.purity[fn] == pure
}

// analyzeEffects computes the purity and receiver mutation of every
// function. Both start optimistic and are lowered until nothing changes, so
// the functions of a recursive cycle end with the verdict of the whole
// cycle and no verdict rests on a function still being analyzed.
func (p *Program) analyzeEffects() {
	for _, fn := range p.funcs {
		p.purity[fn] = impure
		if fn.Body() != nil {
			p.purity[fn] = pure
		}
		if fn.Obj != nil && hasPointerRecv(fn) {
			p.mutating[fn.Obj] = pure
		}
	}
	for rounds := 1; ; rounds++ {
		changed := false
		for _, fn := range p.funcs {
			if p.purity[fn] == pure && !p.bodyIsPure(fn) {
				p.purity[fn] = impure
				changed = true
			}
			if fn.Obj != nil && p.mutating[fn.Obj] == pure && p.storesIntoReceiver(fn) {
				p.mutating[fn.Obj] = impure
				changed = true
			}
		}
		if !changed {
			p.log.WithField("rounds", rounds).Debug("effects computed")
			return
		}
	}
}

// IsPureTarget reports whether an out-of-program function is known pure.
func (p *Program) IsPureTarget(obj *types.Func) bool {
	if fn := p.FuncOf(obj); fn != nil {
		return p.IsPure(fn)
	}
	name := obj.FullName()
	if p.extraPure[name] || pureMethods[name] {
		return true
	}
	sig, _ := obj.Type().(*types.Signature)
	if sig != nil && sig.Recv() != nil {
		return false
	}
	if obj.Pkg() == nil {
		return false
	}
	return purePackages[obj.Pkg().Path()] && !impurePackageFuncs[name]
}

// IsPureCall reports whether evaluating call has no side effects.
func (p *Program) IsPureCall(call *ast.CallExpr) bool {
	info := p.Info(call)
	if info == nil {
		return false
	}
	if tv, ok := info.Types[call.Fun]; ok && tv.IsType() {
		return true // conversion
	}
	if id, ok := astutil.Unparen(call.Fun).(*ast.Ident); ok {
		if b, ok := info.Uses[id].(*types.Builtin); ok {
			return pureBuiltins[b.Name()]
		}
	}
	if lit, ok := astutil.Unparen(call.Fun).(*ast.FuncLit); ok {
		if fn := p.byNode[lit]; fn != nil {
			return p.IsPure(fn)
		}
		return false
	}
	obj := typeutil.StaticCallee(info, call)
	if obj == nil {
		return false
	}
	return p.IsPureTarget(obj)
}

func (p *Program) bodyIsPure(fn *Func) bool {
	ok := true
	ast.Inspect(fn.Body(), func(n ast.Node) bool {
		if !ok {
			return false
		}
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.GoStmt, *ast.SendStmt, *ast.DeferStmt:
			ok = false
		case *ast.UnaryExpr:
			if n.Op == token.ARROW {
				ok = false
			}
		case *ast.AssignStmt:
			if n.Tok == token.DEFINE {
				return true
			}
			for _, lhs := range n.Lhs {
				if !p.isLocalStore(fn, lhs) {
					ok = false
				}
			}
		case *ast.IncDecStmt:
			if !p.isLocalStore(fn, n.X) {
				ok = false
			}
		case *ast.CallExpr:
			if !p.IsPureCall(n) {
				ok = false
			}
		}
		return ok
	})
	return ok
}

// isLocalStore reports whether assigning to lhs only updates a local
// variable of fn, possibly through fields or array elements held by value.
func (p *Program) isLocalStore(fn *Func, lhs ast.Expr) bool {
	info := fn.Pkg.Info
	e := astutil.Unparen(lhs)
	for {
		switch x := e.(type) {
		case *ast.SelectorExpr:
			sel := info.Selections[x]
			if sel == nil || sel.Indirect() {
				return false
			}
			if _, isPtr := info.TypeOf(x.X).Underlying().(*types.Pointer); isPtr {
				return false
			}
			e = astutil.Unparen(x.X)
			continue
		case *ast.IndexExpr:
			if _, isArray := info.TypeOf(x.X).Underlying().(*types.Array); !isArray {
				return false
			}
			e = astutil.Unparen(x.X)
			continue
		case *ast.Ident:
			if x.Name == "_" {
				return true
			}
			obj := info.ObjectOf(x)
			return obj != nil && fn.Contains(obj.Pos())
		}
		return false
	}
}
