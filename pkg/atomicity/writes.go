package atomicity

import (
	"go/ast"
	"go/token"
	"go/types"
	"sort"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/program"
)

// WriteKind classifies how a write site changes the member.
type WriteKind int

const (
	Store WriteKind = iota
	Update
	Escape
	ElemStore
	MutatingCall
)

func (k WriteKind) String() string {
	switch k {
	case Store:
		return "store"
	case Update:
		return "update"
	case Escape:
		return "address taken"
	case ElemStore:
		return "element store"
	}
	return "mutating call"
}

// Write is a site that changes the member's state.
type Write struct {
	Kind WriteKind
	// Node is the statement or expression performing the write.
	Node ast.Node
	// Sel selects the member; Sel.X is the instance written to.
	Sel    *ast.SelectorExpr
	Func   *program.Func
	Chains [][]Lock
}

func (w *Write) Pos() token.Pos { return w.Sel.Pos() }

// writeSites returns the writes to member reachable from the schedule,
// ignoring constructor-like functions of the member's owner.
func (a *Analyzer) writeSites(member *types.Var) []*Write {
	var out []*Write
	for _, id := range a.prog.Uses(member) {
		sel, ok := a.prog.Parent(id).(*ast.SelectorExpr)
		if !ok || sel.Sel != id {
			continue
		}
		fn := a.prog.EnclosingFunc(sel)
		if fn == nil || !a.sched.ContainsNode(sel) {
			continue
		}
		if owner := a.ownerOf(sel); owner != nil && a.prog.IsConstructorLike(fn, owner) {
			continue
		}
		kind, node, ok := a.classify(sel)
		if !ok {
			continue
		}
		out = append(out, &Write{Kind: kind, Node: node, Sel: sel, Func: fn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos() < out[j].Pos() })
	return out
}

func (a *Analyzer) ownerOf(sel *ast.SelectorExpr) *types.Named {
	info := a.prog.Info(sel)
	if info == nil {
		return nil
	}
	s := info.Selections[sel]
	if s == nil {
		return nil
	}
	return fieldOwner(s)
}

// classify decides whether the use of the member at sel writes it. Stores
// through nested selectors and indexes (x.m.f = v, x.m[k] = v) write the
// member too.
func (a *Analyzer) classify(sel *ast.SelectorExpr) (WriteKind, ast.Node, bool) {
	var e ast.Expr = sel
	indexed := false
	for {
		parent := a.prog.Parent(e)
		switch p := parent.(type) {
		case *ast.ParenExpr:
			e = p
			continue
		case *ast.SelectorExpr:
			if p.X != e {
				return 0, nil, false
			}
			if call, ok := a.prog.Parent(p).(*ast.CallExpr); ok && call.Fun == p {
				return a.methodCall(call, p)
			}
			e = p
			continue
		case *ast.IndexExpr:
			if p.X != e {
				return 0, nil, false
			}
			indexed = true
			e = p
			continue
		case *ast.StarExpr:
			e = p
			continue
		case *ast.AssignStmt:
			for _, lhs := range p.Lhs {
				if lhs != e {
					continue
				}
				switch {
				case indexed:
					return ElemStore, p, true
				case p.Tok == token.ASSIGN || p.Tok == token.DEFINE:
					return Store, p, true
				}
				return Update, p, true
			}
		case *ast.IncDecStmt:
			if indexed {
				return ElemStore, p, true
			}
			return Update, p, true
		case *ast.UnaryExpr:
			if p.Op == token.AND {
				return Escape, p, true
			}
		case *ast.CallExpr:
			if a.isClearing(p, e) {
				return ElemStore, p, true
			}
		case *ast.RangeStmt:
			if p.Key == e || p.Value == e {
				return Store, p, true
			}
		}
		return 0, nil, false
	}
}

// methodCall classifies x.m.Method(...) by the mutation catalog.
func (a *Analyzer) methodCall(call *ast.CallExpr, fun *ast.SelectorExpr) (WriteKind, ast.Node, bool) {
	info := a.prog.Info(call)
	if info == nil {
		return 0, nil, false
	}
	fn, ok := info.Uses[fun.Sel].(*types.Func)
	if !ok {
		return 0, nil, false
	}
	if a.prog.MutatesTarget(fn) {
		return MutatingCall, call, true
	}
	return 0, nil, false
}

// isClearing reports whether call is delete(e, k) or clear(e).
func (a *Analyzer) isClearing(call *ast.CallExpr, e ast.Expr) bool {
	if len(call.Args) == 0 || call.Args[0] != e {
		return false
	}
	id, ok := astutil.Unparen(call.Fun).(*ast.Ident)
	if !ok {
		return false
	}
	b, ok := a.prog.Info(call).Uses[id].(*types.Builtin)
	return ok && (b.Name() == "delete" || b.Name() == "clear")
}
