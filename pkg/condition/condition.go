// Package condition models the branch conditions guarding a program point
// and extracts them from enclosing if, else, for and switch statements.
package condition

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"github.com/akerouanton/muproof/pkg/program"
)

// Frame is one level of call context: the call that was crossed, the
// instance it was made through and the parameter to argument bindings.
type Frame struct {
	Call     *ast.CallExpr
	Callee   *program.Func
	Instance ast.Expr // receiver expression, nil for plain function calls
	Bindings map[*types.Var]ast.Expr
}

// Bound returns the argument bound to v, if any.
func (f *Frame) Bound(v *types.Var) (ast.Expr, bool) {
	if f == nil {
		return nil, false
	}
	e, ok := f.Bindings[v]
	return e, ok
}

// Context is a call-context stack, innermost frame first.
type Context []*Frame

// Push returns a new context with f as the innermost frame.
func (c Context) Push(f *Frame) Context {
	out := make(Context, 0, len(c)+1)
	out = append(out, f)
	return append(out, c...)
}

// Pop returns the context of the caller.
func (c Context) Pop() Context {
	if len(c) == 0 {
		return nil
	}
	return c[1:]
}

// Equal reports whether both stacks cross the same calls into the same
// callees.
func (c Context) Equal(o Context) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] == o[i] {
			continue
		}
		if c[i] == nil || o[i] == nil || c[i].Call != o[i].Call || c[i].Callee != o[i].Callee {
			return false
		}
	}
	return true
}

// Condition is a boolean test that must evaluate to !Negated, evaluated in
// the given call context.
type Condition struct {
	Test    ast.Expr
	Negated bool
	Context Context
}

// Not returns the negated condition.
func (c Condition) Not() Condition {
	c.Negated = !c.Negated
	return c
}

// Equal reports structural equality: same test, same polarity, same context.
func (c Condition) Equal(o Condition) bool {
	return c.Negated == o.Negated && sameTest(c.Test, o.Test) && c.Context.Equal(o.Context)
}

func (c Condition) String() string {
	s := types.ExprString(c.Test)
	if c.Negated {
		return "!(" + s + ")"
	}
	return s
}

// sameTest compares tests by identity. Equalities synthesized from switch
// clauses compare by their operands.
func sameTest(a, b ast.Expr) bool {
	if a == b {
		return true
	}
	x, ok1 := a.(*ast.BinaryExpr)
	y, ok2 := b.(*ast.BinaryExpr)
	return ok1 && ok2 && x.Op == y.Op && x.X == y.X && x.Y == y.Y
}

// Term is one conjunct of a Set: either a single condition or a
// disjunction of sets. A disjunction with no alternatives is false.
type Term struct {
	Cond  *Condition
	AnyOf []Set
}

// Equal reports structural equality.
func (t Term) Equal(o Term) bool {
	if t.Cond != nil || o.Cond != nil {
		return t.Cond != nil && o.Cond != nil && t.Cond.Equal(*o.Cond)
	}
	if len(t.AnyOf) != len(o.AnyOf) {
		return false
	}
	for i := range t.AnyOf {
		if !t.AnyOf[i].Equal(o.AnyOf[i]) {
			return false
		}
	}
	return true
}

// Not returns the negation of t as a set.
func (t Term) Not() Set {
	if t.Cond != nil {
		c := t.Cond.Not()
		return Set{{Cond: &c}}
	}
	// !(s1 || s2 ...) == !s1 && !s2 ...
	var out Set
	for _, s := range t.AnyOf {
		out = out.And(s.Negate())
	}
	return out
}

func (t Term) String() string {
	if t.Cond != nil {
		return t.Cond.String()
	}
	if len(t.AnyOf) == 0 {
		return "false"
	}
	parts := make([]string, len(t.AnyOf))
	for i, s := range t.AnyOf {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " || ") + ")"
}

// Set is a conjunction of terms. The empty set is true.
type Set []Term

// Of returns the set holding the single condition test, negated or not.
func Of(test ast.Expr, negated bool) Set {
	return Set{{Cond: &Condition{Test: test, Negated: negated}}}
}

// False returns the unsatisfiable set.
func False() Set { return Set{{AnyOf: []Set{}}} }

// Empty reports whether s is trivially true.
func (s Set) Empty() bool { return len(s) == 0 }

// And returns the conjunction of s and o, without duplicate terms.
func (s Set) And(o Set) Set {
	out := make(Set, 0, len(s)+len(o))
	out = append(out, s...)
	for _, t := range o {
		if !out.has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Union is an alias of And kept for call sites that merge the guards of
// two levels of the same derivation.
func (s Set) Union(o Set) Set { return s.And(o) }

// Or returns the disjunction of the given sets as a single-term set.
func Or(sets ...Set) Set {
	for _, s := range sets {
		if s.Empty() {
			return nil
		}
	}
	if len(sets) == 1 {
		return sets[0]
	}
	return Set{{AnyOf: sets}}
}

// Negate returns !s by De Morgan.
func (s Set) Negate() Set {
	switch len(s) {
	case 0:
		return False()
	case 1:
		return s[0].Not()
	}
	alts := make([]Set, len(s))
	for i, t := range s {
		alts[i] = t.Not()
	}
	return Set{{AnyOf: alts}}
}

// In returns a copy of s whose conditions are evaluated in ctx.
func (s Set) In(ctx Context) Set {
	if len(s) == 0 {
		return s
	}
	out := make(Set, len(s))
	for i, t := range s {
		if t.Cond != nil {
			c := *t.Cond
			c.Context = ctx
			out[i] = Term{Cond: &c}
			continue
		}
		alts := make([]Set, len(t.AnyOf))
		for j, a := range t.AnyOf {
			alts[j] = a.In(ctx)
		}
		out[i] = Term{AnyOf: alts}
	}
	return out
}

// Equal reports whether both sets hold equal terms in the same order.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Excludes reports whether s holds the negation of one of o's terms, so
// that s alone implies !o.
func (s Set) Excludes(o Set) bool {
	for _, t := range o {
		if neg := t.Not(); len(neg) > 0 && s.hasAll(neg) {
			return true
		}
	}
	return false
}

func (s Set) hasAll(o Set) bool {
	for _, t := range o {
		if !s.has(t) {
			return false
		}
	}
	return true
}

func (s Set) has(t Term) bool {
	for _, u := range s {
		if u.Equal(t) {
			return true
		}
	}
	return false
}

// Conditions returns every condition mentioned in s, depth first.
func (s Set) Conditions() []Condition {
	var out []Condition
	for _, t := range s {
		if t.Cond != nil {
			out = append(out, *t.Cond)
			continue
		}
		for _, a := range t.AnyOf {
			out = append(out, a.Conditions()...)
		}
	}
	return out
}

func (s Set) String() string {
	if len(s) == 0 {
		return "true"
	}
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return strings.Join(parts, " && ")
}

// caseTest builds the equality a switch clause value stands for.
func caseTest(tag, value ast.Expr) ast.Expr {
	if tag == nil {
		return value
	}
	return &ast.BinaryExpr{X: tag, OpPos: value.Pos(), Op: token.EQL, Y: value}
}
