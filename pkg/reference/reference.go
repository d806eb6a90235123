// Package reference tracks where the value observed at a program point may
// have come from, together with the branch conditions under which each
// origin applies.
package reference

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/condition"
	"github.com/akerouanton/muproof/pkg/program"
)

// CallContext is one crossed call boundary: the call, the instance it went
// through and the parameter bindings.
type CallContext = condition.Frame

// Reference is a symbolic handle to a value-producing expression, evaluated
// in a call-context stack.
type Reference struct {
	Node     ast.Expr
	Contexts condition.Context
	// Index selects a component of a multi-valued expression.
	Index int
	// Elem marks a reference to an element of the collection Node.
	Elem bool

	Is3rdParty bool
	IsPure     bool
}

// Of returns the reference to e in ctx, with its purity and provenance
// flags computed.
func Of(prog *program.Program, e ast.Expr, ctx condition.Context) Reference {
	ref := Reference{Node: e, Contexts: ctx, IsPure: true}
	ast.Inspect(e, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.CallExpr:
			if !prog.IsPureCall(n) {
				ref.IsPure = false
			}
			if cs := prog.CallSite(n); cs != nil && cs.Target != nil && !prog.Contains(cs.Target.Pkg()) {
				ref.Is3rdParty = true
			}
		case *ast.UnaryExpr:
			if n.Op == token.ARROW {
				ref.IsPure = false
			}
		case *ast.SelectorExpr:
			if obj := prog.ObjectOf(n.Sel); obj != nil && obj.Pkg() != nil && !prog.Contains(obj.Pkg()) {
				ref.Is3rdParty = true
			}
		}
		return true
	})
	return ref
}

// SameLocation reports whether both references denote the same source
// position, regardless of their contexts.
func (r Reference) SameLocation(o Reference) bool {
	return r.Node.Pos() == o.Node.Pos() && r.Node.End() == o.Node.End() &&
		r.Index == o.Index && r.Elem == o.Elem
}

// Text returns the source text of the referenced expression.
func (r Reference) Text() string {
	s := types.ExprString(astutil.Unparen(r.Node))
	if r.Elem {
		s += "[*]"
	}
	if r.Index > 0 {
		s += fmt.Sprintf("#%d", r.Index)
	}
	return s
}

// Key identifies the reference with its context, for caching.
func (r Reference) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d", r.Node.Pos(), r.Node.End())
	if r.Index > 0 {
		fmt.Fprintf(&b, "#%d", r.Index)
	}
	if r.Elem {
		b.WriteString("[*]")
	}
	for _, f := range r.Contexts {
		fmt.Fprintf(&b, "@%d", f.Call.Pos())
	}
	return b.String()
}

func (r Reference) String() string { return r.Text() }

// Assignment is a candidate origin of a reference's value with the
// conditions under which it is the operative one.
type Assignment struct {
	Ref        Reference
	Conditions condition.Set
	// Algebraic marks origins combined arithmetically rather than copied.
	Algebraic bool
}

func (a Assignment) String() string {
	s := a.Ref.Text()
	if a.Algebraic {
		s = "~" + s
	}
	if a.Conditions.Empty() {
		return s
	}
	return s + " if " + a.Conditions.String()
}

// Trivial returns ref as an assignment guarded by the conditions of its own
// location.
func Trivial(prog *program.Program, ref Reference) Assignment {
	return Assignment{Ref: ref, Conditions: guards(prog, ref.Node).In(ref.Contexts)}
}

// guards extracts the conditions of the statement enclosing n.
func guards(prog *program.Program, n ast.Node) condition.Set {
	stmt := n
	for stmt != nil {
		if _, ok := stmt.(ast.Stmt); ok {
			break
		}
		if _, ok := stmt.(*ast.ValueSpec); ok {
			break
		}
		stmt = prog.Parent(stmt)
	}
	if stmt == nil {
		return nil
	}
	return condition.Extract(prog, stmt)
}
