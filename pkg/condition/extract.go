package condition

import (
	"go/ast"

	"github.com/akerouanton/muproof/pkg/program"
)

// Extract returns the branch conditions that must hold for control to reach
// n inside its enclosing function, innermost first. For a return statement
// the negated conditions of every earlier return of the same function are
// added, since control reaching it did not leave through them. Returns the
// path already rules out, such as those of sibling switch clauses, add
// nothing.
func Extract(prog *program.Program, n ast.Node) Set {
	set := branches(prog, n)
	ret, ok := n.(*ast.ReturnStmt)
	if !ok {
		return set
	}
	fn := prog.EnclosingFunc(ret)
	if fn == nil {
		return set
	}
	for _, earlier := range earlierReturns(fn.Body(), ret) {
		if guard := branches(prog, earlier); !guard.Empty() && !set.Excludes(guard) {
			set = set.And(guard.Negate())
		}
	}
	return set
}

// branches walks the ancestors of n up to the enclosing function.
func branches(prog *program.Program, n ast.Node) Set {
	var set Set
	child := n
	for parent := prog.Parent(n); parent != nil; child, parent = parent, prog.Parent(parent) {
		switch p := parent.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
			return set
		case *ast.IfStmt:
			switch child {
			case p.Body:
				set = set.And(Of(p.Cond, false))
			case p.Else:
				set = set.And(Of(p.Cond, true))
			}
		case *ast.ForStmt:
			if child == p.Body && p.Cond != nil {
				set = set.And(Of(p.Cond, false))
			}
		case *ast.CaseClause:
			if !inBody(p, child) {
				continue
			}
			sw, ok := prog.Parent(prog.Parent(p)).(*ast.SwitchStmt)
			if !ok {
				// Type switches constrain types only.
				continue
			}
			set = set.And(clauseGuard(sw, p))
		}
	}
	return set
}

func inBody(cc *ast.CaseClause, n ast.Node) bool {
	for _, s := range cc.Body {
		if s == n {
			return true
		}
	}
	return false
}

// clauseGuard returns the condition of entering cc: one of its values
// matches and no earlier clause matched. The default clause requires that
// no other clause matches.
func clauseGuard(sw *ast.SwitchStmt, cc *ast.CaseClause) Set {
	var set Set
	if cc.List != nil {
		set = clauseMatch(sw.Tag, cc)
	}
	for _, stmt := range sw.Body.List {
		other := stmt.(*ast.CaseClause)
		if other == cc {
			if cc.List != nil {
				break
			}
			continue
		}
		if other.List == nil {
			continue
		}
		set = set.And(clauseMatch(sw.Tag, other).Negate())
	}
	return set
}

func clauseMatch(tag ast.Expr, cc *ast.CaseClause) Set {
	alts := make([]Set, len(cc.List))
	for i, v := range cc.List {
		alts[i] = Of(caseTest(tag, v), false)
	}
	return Or(alts...)
}

// earlierReturns lists the return statements of body that precede ret in
// source order, excluding those of nested function literals.
func earlierReturns(body *ast.BlockStmt, ret *ast.ReturnStmt) []*ast.ReturnStmt {
	var out []*ast.ReturnStmt
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.ReturnStmt:
			if n.Pos() < ret.Pos() {
				out = append(out, n)
			}
		}
		return n == nil || n.Pos() < ret.Pos()
	})
	return out
}
