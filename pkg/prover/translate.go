package prover

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/condition"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/reference"
)

// UnsupportedConstructError reports a condition the prover cannot translate.
type UnsupportedConstructError struct {
	Pos  token.Position
	Kind string
	Text string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("%s: unsupported %s in condition: %s", e.Pos, e.Kind, e.Text)
}

// translator turns condition sets into formulas of one solver. Its memo
// lives for a single query.
type translator struct {
	prog      *program.Program
	s         Solver
	th        *theory
	maxInline int

	opaque map[string]Formula
	fresh  map[string]string
	depth  int
}

func newTranslator(prog *program.Program, s Solver, maxInline int) *translator {
	return &translator{
		prog:      prog,
		s:         s,
		th:        newTheory(s),
		maxInline: maxInline,
		opaque:    make(map[string]Formula),
		fresh:     make(map[string]string),
	}
}

func (tr *translator) set(s condition.Set) (Formula, error) {
	fs := make([]Formula, 0, len(s))
	for _, term := range s {
		f, err := tr.term(term)
		if err != nil {
			return 0, err
		}
		fs = append(fs, f)
	}
	return tr.s.And(fs...), nil
}

func (tr *translator) term(t condition.Term) (Formula, error) {
	if t.Cond != nil {
		return tr.cond(*t.Cond)
	}
	fs := make([]Formula, 0, len(t.AnyOf))
	for _, s := range t.AnyOf {
		f, err := tr.set(s)
		if err != nil {
			return 0, err
		}
		fs = append(fs, f)
	}
	return tr.s.Or(fs...), nil
}

func (tr *translator) cond(c condition.Condition) (Formula, error) {
	if err := tr.supported(c.Test); err != nil {
		return 0, err
	}
	f, err := tr.expr(c.Test, c.Context)
	if err != nil {
		return 0, err
	}
	if c.Negated {
		return tr.s.Not(f), nil
	}
	return f, nil
}

// supported rejects tests holding constructs with no logical reading.
func (tr *translator) supported(test ast.Expr) error {
	var err error
	ast.Inspect(test, func(n ast.Node) bool {
		if err != nil {
			return false
		}
		kind := ""
		switch n := n.(type) {
		case *ast.FuncLit:
			kind = "function literal"
		case *ast.CompositeLit:
			kind = "composite literal"
		case *ast.TypeAssertExpr:
			kind = "type assertion"
		case *ast.SliceExpr:
			kind = "slice expression"
		case *ast.UnaryExpr:
			if n.Op == token.ARROW {
				kind = "channel receive"
			}
		}
		if kind != "" {
			err = &UnsupportedConstructError{
				Pos:  tr.prog.Position(n.Pos()),
				Kind: kind,
				Text: types.ExprString(test),
			}
		}
		return true
	})
	return err
}

// expr translates a boolean expression evaluated in ctx.
func (tr *translator) expr(e ast.Expr, ctx condition.Context) (Formula, error) {
	if v, ok := tr.constant(e); ok {
		if v.Kind() == constant.Bool {
			if constant.BoolVal(v) {
				return tr.s.True(), nil
			}
			return tr.s.False(), nil
		}
	}
	switch e := e.(type) {
	case *ast.ParenExpr:
		return tr.expr(e.X, ctx)
	case *ast.UnaryExpr:
		if e.Op == token.NOT {
			f, err := tr.expr(e.X, ctx)
			if err != nil {
				return 0, err
			}
			return tr.s.Not(f), nil
		}
	case *ast.BinaryExpr:
		switch e.Op {
		case token.LAND, token.LOR:
			x, err := tr.expr(e.X, ctx)
			if err != nil {
				return 0, err
			}
			y, err := tr.expr(e.Y, ctx)
			if err != nil {
				return 0, err
			}
			if e.Op == token.LAND {
				return tr.s.And(x, y), nil
			}
			return tr.s.Or(x, y), nil
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
			return tr.compare(e, ctx)
		}
	case *ast.Ident:
		if arg, inner, ok := tr.bound(e, ctx); ok {
			return tr.expr(arg, inner)
		}
	case *ast.CallExpr:
		return tr.call(e, ctx)
	}
	return tr.atom("b:" + tr.sym(e, ctx)), nil
}

// atom returns the boolean variable named key.
func (tr *translator) atom(key string) Formula {
	f, ok := tr.opaque[key]
	if !ok {
		f = tr.s.Var()
		tr.opaque[key] = f
	}
	return f
}

func (tr *translator) compare(b *ast.BinaryExpr, ctx condition.Context) (Formula, error) {
	info := tr.prog.Info(b)
	switch {
	case isNil(info, b.X) || isNil(info, b.Y):
		other := b.X
		if isNil(info, b.X) {
			other = b.Y
		}
		if isNil(info, other) {
			return tr.holds(b.Op == token.EQL), nil
		}
		return tr.equality(b.Op, tr.atom("nil:"+tr.sym(other, ctx))), nil
	case isNumeric(tr.prog.TypeOf(b.X)) || isNumeric(tr.prog.TypeOf(b.Y)):
		return tr.numeric(b, ctx), nil
	case isString(tr.prog.TypeOf(b.X)) || isString(tr.prog.TypeOf(b.Y)):
		return tr.stringCompare(b, ctx), nil
	case isBool(tr.prog.TypeOf(b.X)) && (b.Op == token.EQL || b.Op == token.NEQ):
		x, err := tr.expr(b.X, ctx)
		if err != nil {
			return 0, err
		}
		y, err := tr.expr(b.Y, ctx)
		if err != nil {
			return 0, err
		}
		same := tr.s.Or(tr.s.And(x, y), tr.s.And(tr.s.Not(x), tr.s.Not(y)))
		return tr.equality(b.Op, same), nil
	}
	return tr.relation(b, tr.sym(b.X, ctx), tr.sym(b.Y, ctx)), nil
}

// relation handles a comparison between two uninterpreted symbols.
func (tr *translator) relation(b *ast.BinaryExpr, x, y string) Formula {
	if x == y {
		switch b.Op {
		case token.EQL, token.LEQ, token.GEQ:
			return tr.s.True()
		}
		return tr.s.False()
	}
	op := b.Op
	if (op == token.EQL || op == token.NEQ) && y < x {
		x, y = y, x
	}
	if op == token.NEQ {
		return tr.s.Not(tr.atom("rel:" + x + "==" + y))
	}
	return tr.atom("rel:" + x + op.String() + y)
}

func (tr *translator) equality(op token.Token, eq Formula) Formula {
	if op == token.NEQ {
		return tr.s.Not(eq)
	}
	return eq
}

func (tr *translator) holds(b bool) Formula {
	if b {
		return tr.s.True()
	}
	return tr.s.False()
}

// linear is sym + k, or the constant k when sym is empty.
type linear struct {
	sym string
	k   float64
}

func (tr *translator) numeric(b *ast.BinaryExpr, ctx condition.Context) Formula {
	l, lok := tr.linear(b.X, ctx)
	r, rok := tr.linear(b.Y, ctx)
	if !lok || !rok {
		return tr.relation(b, tr.sym(b.X, ctx), tr.sym(b.Y, ctx))
	}
	switch {
	case l.sym == r.sym:
		return tr.holds(compareConst(b.Op, l.k, r.k))
	case r.sym == "":
		return tr.th.num(l.sym, b.Op, r.k-l.k, isInteger(tr.prog.TypeOf(b.X)))
	case l.sym == "":
		return tr.th.num(r.sym, flip(b.Op), l.k-r.k, isInteger(tr.prog.TypeOf(b.Y)))
	}
	// x + a op y + b: a relation between two symbols, kept opaque.
	d := strconv.FormatFloat(r.k-l.k, 'g', -1, 64)
	op := b.Op
	x, y := l.sym, r.sym
	if (op == token.EQL || op == token.NEQ) && y < x {
		x, y, d = y, x, strconv.FormatFloat(l.k-r.k, 'g', -1, 64)
	}
	if op == token.NEQ {
		return tr.s.Not(tr.atom("rel:" + x + "==" + y + "+" + d))
	}
	return tr.atom("rel:" + x + op.String() + y + "+" + d)
}

// linear reads e as a symbol plus a constant offset.
func (tr *translator) linear(e ast.Expr, ctx condition.Context) (linear, bool) {
	if v, ok := tr.constant(e); ok {
		if f, ok := toFloat(v); ok {
			return linear{k: f}, true
		}
		return linear{}, false
	}
	switch e := e.(type) {
	case *ast.ParenExpr:
		return tr.linear(e.X, ctx)
	case *ast.UnaryExpr:
		if e.Op == token.ADD {
			return tr.linear(e.X, ctx)
		}
	case *ast.BinaryExpr:
		if e.Op != token.ADD && e.Op != token.SUB {
			break
		}
		l, lok := tr.linear(e.X, ctx)
		r, rok := tr.linear(e.Y, ctx)
		if !lok || !rok {
			break
		}
		switch {
		case r.sym == "" && e.Op == token.ADD:
			return linear{sym: l.sym, k: l.k + r.k}, true
		case r.sym == "":
			return linear{sym: l.sym, k: l.k - r.k}, true
		case l.sym == "" && e.Op == token.ADD:
			return linear{sym: r.sym, k: l.k + r.k}, true
		}
		// Non-linear combinations of symbols are a symbol of their own.
		return linear{sym: tr.sym(e, ctx)}, true
	case *ast.Ident:
		if arg, inner, ok := tr.bound(e, ctx); ok {
			return tr.linear(arg, inner)
		}
	case *ast.CallExpr:
		if tr.isConversion(e) {
			return tr.linear(e.Args[0], ctx)
		}
	}
	return linear{sym: tr.sym(e, ctx)}, true
}

func (tr *translator) stringCompare(b *ast.BinaryExpr, ctx condition.Context) Formula {
	if b.Op != token.EQL && b.Op != token.NEQ {
		return tr.relation(b, tr.sym(b.X, ctx), tr.sym(b.Y, ctx))
	}
	x, xok := tr.stringConst(b.X, ctx)
	y, yok := tr.stringConst(b.Y, ctx)
	switch {
	case xok && yok:
		return tr.equality(b.Op, tr.holds(x == y))
	case yok:
		return tr.equality(b.Op, tr.th.str(tr.sym(b.X, ctx), y))
	case xok:
		return tr.equality(b.Op, tr.th.str(tr.sym(b.Y, ctx), x))
	}
	return tr.relation(b, tr.sym(b.X, ctx), tr.sym(b.Y, ctx))
}

// stringConst returns the constant value of e, following parameter
// bindings.
func (tr *translator) stringConst(e ast.Expr, ctx condition.Context) (string, bool) {
	if v, ok := tr.constant(e); ok && v.Kind() == constant.String {
		return constant.StringVal(v), true
	}
	if id, ok := astutil.Unparen(e).(*ast.Ident); ok {
		if arg, inner, ok := tr.bound(id, ctx); ok {
			return tr.stringConst(arg, inner)
		}
	}
	return "", false
}

// call translates a boolean call. Pure in-program callees are inlined as the
// disjunction of their returns, each guarded by its own conditions.
func (tr *translator) call(call *ast.CallExpr, ctx condition.Context) (Formula, error) {
	if tr.isConversion(call) {
		return tr.expr(call.Args[0], ctx)
	}
	if !tr.prog.IsPureCall(call) {
		return tr.atom("b:" + tr.freshKey(call, ctx)), nil
	}
	fn := tr.prog.StaticCallee(call)
	if fn == nil || fn.Body() == nil || tr.depth >= tr.maxInline {
		return tr.atom("b:" + tr.sym(call, ctx)), nil
	}

	inner := ctx.Push(reference.Bind(call, fn))
	tr.depth++
	defer func() { tr.depth-- }()
	var alts []Formula
	for _, ret := range reference.Returns(fn) {
		if len(ret.Results) != 1 {
			return tr.atom("b:" + tr.sym(call, ctx)), nil
		}
		if err := tr.supported(ret.Results[0]); err != nil {
			return 0, err
		}
		guard, err := tr.set(condition.Extract(tr.prog, ret).In(inner))
		if err != nil {
			return 0, err
		}
		val, err := tr.expr(ret.Results[0], inner)
		if err != nil {
			return 0, err
		}
		alts = append(alts, tr.s.And(guard, val))
	}
	return tr.s.Or(alts...), nil
}

// bound follows a parameter to the argument of the innermost frame.
func (tr *translator) bound(id *ast.Ident, ctx condition.Context) (ast.Expr, condition.Context, bool) {
	if len(ctx) == 0 {
		return nil, nil, false
	}
	v, ok := tr.prog.ObjectOf(id).(*types.Var)
	if !ok {
		return nil, nil, false
	}
	arg, ok := ctx[0].Bound(v)
	if !ok {
		return nil, nil, false
	}
	return arg, ctx.Pop(), true
}

// sym names the value e denotes in ctx. Parameters resolve through the
// context, variables by object, selectors by base and field, and anything
// else by its text.
func (tr *translator) sym(e ast.Expr, ctx condition.Context) string {
	e = astutil.Unparen(e)
	if v, ok := tr.constant(e); ok {
		return "c:" + v.ExactString()
	}
	switch e := e.(type) {
	case *ast.Ident:
		if arg, inner, ok := tr.bound(e, ctx); ok {
			return tr.sym(arg, inner)
		}
		obj := tr.prog.ObjectOf(e)
		if obj == nil {
			return e.Name
		}
		if _, ok := obj.(*types.Nil); ok {
			return "nil"
		}
		key := fmt.Sprintf("%s@%d", obj.Name(), obj.Pos())
		if v, ok := obj.(*types.Var); ok && v.Parent() != nil && v.Parent() != v.Pkg().Scope() {
			// Locals differ per call context.
			key += contextKey(ctx)
		}
		return key
	case *ast.SelectorExpr:
		if id, ok := e.X.(*ast.Ident); ok {
			if _, ok := tr.prog.ObjectOf(id).(*types.PkgName); ok {
				return tr.sym(e.Sel, ctx)
			}
		}
		return tr.sym(e.X, ctx) + "." + e.Sel.Name
	case *ast.IndexExpr:
		return tr.sym(e.X, ctx) + "[" + tr.sym(e.Index, ctx) + "]"
	case *ast.StarExpr:
		return "*" + tr.sym(e.X, ctx)
	case *ast.UnaryExpr:
		return e.Op.String() + tr.sym(e.X, ctx)
	case *ast.BinaryExpr:
		return "(" + tr.sym(e.X, ctx) + e.Op.String() + tr.sym(e.Y, ctx) + ")"
	case *ast.CallExpr:
		if !tr.prog.IsPureCall(e) {
			return tr.freshKey(e, ctx)
		}
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = tr.sym(a, ctx)
		}
		return types.ExprString(e.Fun) + "(" + strings.Join(args, ",") + ")"
	}
	return "t:" + types.ExprString(e)
}

// freshKey names the result of one evaluation of an impure call: the same
// call in the same context is the same value within a query.
func (tr *translator) freshKey(call *ast.CallExpr, ctx condition.Context) string {
	k := fmt.Sprintf("%d%s", call.Pos(), contextKey(ctx))
	name, ok := tr.fresh[k]
	if !ok {
		name = fmt.Sprintf("fresh#%d", len(tr.fresh))
		tr.fresh[k] = name
	}
	return name
}

func (tr *translator) constant(e ast.Expr) (constant.Value, bool) {
	info := tr.prog.Info(e)
	if info == nil {
		return nil, false
	}
	tv, ok := info.Types[e]
	if !ok || tv.Value == nil {
		return nil, false
	}
	return tv.Value, true
}

func (tr *translator) isConversion(call *ast.CallExpr) bool {
	info := tr.prog.Info(call)
	if info == nil || len(call.Args) != 1 {
		return false
	}
	tv, ok := info.Types[call.Fun]
	return ok && tv.IsType()
}

func contextKey(ctx condition.Context) string {
	var b strings.Builder
	for _, f := range ctx {
		fmt.Fprintf(&b, "/%d", f.Call.Pos())
	}
	return b.String()
}

func toFloat(v constant.Value) (float64, bool) {
	v = constant.ToFloat(v)
	if v.Kind() != constant.Float {
		return 0, false
	}
	f, _ := constant.Float64Val(v)
	return f, true
}

func compareConst(op token.Token, x, y float64) bool {
	switch op {
	case token.EQL:
		return x == y
	case token.NEQ:
		return x != y
	case token.LSS:
		return x < y
	case token.LEQ:
		return x <= y
	case token.GTR:
		return x > y
	}
	return x >= y
}

// flip mirrors a comparison: c op x is x flip(op) c.
func flip(op token.Token) token.Token {
	switch op {
	case token.LSS:
		return token.GTR
	case token.LEQ:
		return token.GEQ
	case token.GTR:
		return token.LSS
	case token.GEQ:
		return token.LEQ
	}
	return op
}

func isNil(info *types.Info, e ast.Expr) bool {
	if info == nil {
		return false
	}
	tv, ok := info.Types[e]
	return ok && tv.IsNil()
}

func basicInfo(t types.Type) types.BasicInfo {
	if t == nil {
		return 0
	}
	b, ok := t.Underlying().(*types.Basic)
	if !ok {
		return 0
	}
	return b.Info()
}

func isNumeric(t types.Type) bool { return basicInfo(t)&(types.IsInteger|types.IsFloat) != 0 }
func isInteger(t types.Type) bool { return basicInfo(t)&types.IsInteger != 0 }
func isString(t types.Type) bool  { return basicInfo(t)&types.IsString != 0 }
func isBool(t types.Type) bool    { return basicInfo(t)&types.IsBoolean != 0 }
