package atomicity

import (
	"go/ast"
	"strings"

	"github.com/akerouanton/muproof/pkg/program"
)

// lexicalChain returns the locks held at n by its own function: Lock calls
// in n's enclosing blocks, textually before n and not released since. A
// deferred Unlock keeps its lock held to the end of the function.
func (a *Analyzer) lexicalChain(n ast.Node) []Lock {
	fn := a.prog.EnclosingFunc(n)
	if fn == nil {
		return nil
	}
	body := fn.Body()

	// Ancestors of n up to the function body, innermost first.
	var path []ast.Node
	for cur := n; cur != nil && cur != body; cur = a.prog.Parent(cur) {
		path = append(path, cur)
	}
	path = append(path, body)

	ls := newLockState()
	for i := len(path) - 1; i > 0; i-- {
		list := stmtList(path[i])
		if list == nil {
			continue
		}
		child := path[i-1]
		for _, stmt := range list {
			if stmt == child {
				break
			}
			a.scanStmt(ls, stmt)
		}
	}
	return ls.heldLocks()
}

// scanStmt applies a top-level lock or unlock statement to ls.
func (a *Analyzer) scanStmt(ls *lockState, stmt ast.Stmt) {
	if l, ok := stmt.(*ast.LabeledStmt); ok {
		stmt = l.Stmt
	}
	es, ok := stmt.(*ast.ExprStmt)
	if !ok {
		return
	}
	call, ok := es.X.(*ast.CallExpr)
	if !ok {
		return
	}
	name, method, ok := lockCall(a.prog, call)
	if !ok {
		return
	}
	if isLockAcquire(method) {
		ls.lock(Lock{Name: name, Pos: call.Pos(), Shared: method == "RLock"})
	} else {
		ls.unlock(name)
	}
}

func stmtList(n ast.Node) []ast.Stmt {
	switch n := n.(type) {
	case *ast.BlockStmt:
		return n.List
	case *ast.CaseClause:
		return n.Body
	case *ast.CommClause:
		return n.Body
	}
	return nil
}

// chains returns the lock chains under which n executes: the chains held by
// every caller path into n's function followed by the locks n's function
// holds at n.
func (a *Analyzer) chains(n ast.Node) ([][]Lock, bool) {
	fn := a.prog.EnclosingFunc(n)
	local := a.lexicalChain(n)
	if fn == nil {
		return [][]Lock{local}, false
	}
	prefixes, truncated := a.callerChains(fn, make(map[*program.Func]bool))
	out := make([][]Lock, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, concat(p, local))
	}
	return dedup(out), truncated
}

// callerChains returns the locks held when fn is entered, one chain per
// caller path. Paths starting at a thread root or through a go statement
// hold nothing: locks do not cross goroutines.
func (a *Analyzer) callerChains(fn *program.Func, visiting map[*program.Func]bool) ([][]Lock, bool) {
	if visiting[fn] {
		return nil, false
	}
	visiting[fn] = true
	defer delete(visiting, fn)

	var out [][]Lock
	truncated := false
	add := func(c []Lock) {
		if len(out) >= a.maxChains {
			truncated = true
			return
		}
		out = append(out, c)
	}

	callers := a.sched.Callers(fn)
	if a.roots[fn] {
		add(nil)
	}
	for _, cs := range callers {
		if !a.sched.Contains(cs.Caller) {
			continue
		}
		if cs.Go {
			add(nil)
			continue
		}
		local := a.lexicalChain(cs.Call)
		prefixes, t := a.callerChains(cs.Caller, visiting)
		truncated = truncated || t
		for _, p := range prefixes {
			add(concat(p, local))
		}
	}
	if len(callers) == 0 && !a.roots[fn] && fn.Lit != nil && fn.Outer != nil {
		// A closure passed along runs under the locks held where it is
		// defined.
		local := a.lexicalChain(fn.Lit)
		prefixes, t := a.callerChains(fn.Outer, visiting)
		truncated = truncated || t
		for _, p := range prefixes {
			add(concat(p, local))
		}
	}
	if len(out) == 0 && !truncated {
		out = append(out, nil)
	}
	return out, truncated
}

func concat(a, b []Lock) []Lock {
	out := make([]Lock, 0, len(a)+len(b))
	out = append(out, a...)
	for _, l := range b {
		if !contains(out, l.Name) {
			out = append(out, l)
		}
	}
	return out
}

func dedup(chains [][]Lock) [][]Lock {
	seen := make(map[string]bool)
	out := chains[:0]
	for _, c := range chains {
		k := chainKey(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

func chainKey(c []Lock) string {
	names := make([]string, len(c))
	for i, l := range c {
		names[i] = l.Name
	}
	return strings.Join(names, ",")
}

func contains(c []Lock, name string) bool {
	return index(c, name) >= 0
}

func index(c []Lock, name string) int {
	for i, l := range c {
		if l.Name == name {
			return i
		}
	}
	return -1
}
