package prover

import (
	"go/token"
	"math"
	"sort"
)

// numAtom is "sym op c" over the reals, op one of <, <= and ==.
type numAtom struct {
	lit Formula
	sym string
	op  token.Token
	c   float64
}

// strAtom is "sym == val" over strings.
type strAtom struct {
	lit Formula
	sym string
	val string
}

// theory owns the numeric and string atoms of one query. Symbols of integer
// type range over the integers, all others over the reals.
type theory struct {
	s       Solver
	ints    map[string]bool
	nums    []numAtom
	strs    []strAtom
	numKeys map[numKey]Formula
	strKeys map[strKey]Formula
}

type numKey struct {
	sym string
	op  token.Token
	c   float64
}

type strKey struct {
	sym string
	val string
}

func newTheory(s Solver) *theory {
	return &theory{
		s:       s,
		ints:    make(map[string]bool),
		numKeys: make(map[numKey]Formula),
		strKeys: make(map[strKey]Formula),
	}
}

// num returns the literal for "sym op c", with op any comparison. Atoms are
// normalized to <, <= and == so that complementary tests share a variable;
// integer atoms only use <= and ==.
func (th *theory) num(sym string, op token.Token, c float64, integer bool) Formula {
	neg := false
	if integer {
		th.ints[sym] = true
		switch op {
		case token.LSS:
			op, c = token.LEQ, math.Ceil(c)-1
		case token.GTR:
			op, c, neg = token.LEQ, math.Floor(c), true
		case token.GEQ:
			op, c, neg = token.LEQ, math.Ceil(c)-1, true
		case token.LEQ:
			c = math.Floor(c)
		case token.EQL, token.NEQ:
			if c != math.Trunc(c) {
				if op == token.EQL {
					return th.s.False()
				}
				return th.s.True()
			}
		}
	}
	switch op {
	case token.GTR: // x > c == !(x <= c)
		op, neg = token.LEQ, true
	case token.GEQ: // x >= c == !(x < c)
		op, neg = token.LSS, true
	case token.NEQ:
		op, neg = token.EQL, true
	}
	k := numKey{sym: sym, op: op, c: c}
	lit, ok := th.numKeys[k]
	if !ok {
		lit = th.s.Var()
		th.numKeys[k] = lit
		th.nums = append(th.nums, numAtom{lit: lit, sym: sym, op: op, c: c})
	}
	if neg {
		return th.s.Not(lit)
	}
	return lit
}

// str returns the literal for "sym == val".
func (th *theory) str(sym, val string) Formula {
	k := strKey{sym: sym, val: val}
	lit, ok := th.strKeys[k]
	if !ok {
		lit = th.s.Var()
		th.strKeys[k] = lit
		th.strs = append(th.strs, strAtom{lit: lit, sym: sym, val: val})
	}
	return lit
}

func (th *theory) Atoms() []Formula {
	out := make([]Formula, 0, len(th.nums)+len(th.strs))
	for _, a := range th.nums {
		out = append(out, a.lit)
	}
	for _, a := range th.strs {
		out = append(out, a.lit)
	}
	return out
}

func (th *theory) Check(value func(Formula) bool) []Formula {
	bySym := make(map[string][]numAtom)
	for _, a := range th.nums {
		bySym[a.sym] = append(bySym[a.sym], a)
	}
	for _, sym := range sortedKeys(bySym) {
		atoms := bySym[sym]
		if !feasible(atoms, th.ints[sym], value) {
			return th.assigned(numLits(atoms), value)
		}
	}

	strSym := make(map[string][]strAtom)
	for _, a := range th.strs {
		strSym[a.sym] = append(strSym[a.sym], a)
	}
	for _, sym := range sortedKeys(strSym) {
		atoms := strSym[sym]
		var eq string
		found := false
		for _, a := range atoms {
			if !value(a.lit) {
				continue
			}
			if found && a.val != eq {
				return th.assigned(strLits(atoms), value)
			}
			eq, found = a.val, true
		}
	}
	return nil
}

// bound is one side of an interval.
type bound struct {
	v      float64
	strict bool
}

// feasible reports whether some real, or integer, satisfies every atom of
// one symbol as assigned by the model.
func feasible(atoms []numAtom, integer bool, value func(Formula) bool) bool {
	lo := bound{v: math.Inf(-1), strict: true}
	hi := bound{v: math.Inf(1), strict: true}
	var eqs, excluded []float64
	for _, a := range atoms {
		holds := value(a.lit)
		switch {
		case integer && a.op == token.LEQ && holds:
			hi = tighterHi(hi, bound{a.c, false})
		case integer && a.op == token.LEQ:
			lo = tighterLo(lo, bound{a.c + 1, false})
		case a.op == token.LSS && holds:
			hi = tighterHi(hi, bound{a.c, true})
		case a.op == token.LSS:
			lo = tighterLo(lo, bound{a.c, false})
		case a.op == token.LEQ && holds:
			hi = tighterHi(hi, bound{a.c, false})
		case a.op == token.LEQ:
			lo = tighterLo(lo, bound{a.c, true})
		case a.op == token.EQL && holds:
			eqs = append(eqs, a.c)
		default:
			excluded = append(excluded, a.c)
		}
	}

	inside := func(x float64) bool {
		if x < lo.v || (x == lo.v && lo.strict) {
			return false
		}
		if x > hi.v || (x == hi.v && hi.strict) {
			return false
		}
		for _, e := range excluded {
			if x == e {
				return false
			}
		}
		return true
	}
	if len(eqs) > 0 {
		for _, e := range eqs[1:] {
			if e != eqs[0] {
				return false
			}
		}
		return inside(eqs[0])
	}
	if integer {
		if math.IsInf(lo.v, 0) || math.IsInf(hi.v, 0) {
			return true
		}
		if hi.v-lo.v+1 > float64(len(excluded)) {
			return true
		}
		for x := lo.v; x <= hi.v; x++ {
			if inside(x) {
				return true
			}
		}
		return false
	}
	if lo.v < hi.v {
		// A non-empty open interval of the reals minus finitely many points.
		return true
	}
	return lo.v == hi.v && inside(lo.v)
}

func tighterLo(a, b bound) bound {
	if b.v > a.v || (b.v == a.v && b.strict) {
		return b
	}
	return a
}

func tighterHi(a, b bound) bound {
	if b.v < a.v || (b.v == a.v && b.strict) {
		return b
	}
	return a
}

// assigned returns lits as the model assigns them.
func (th *theory) assigned(lits []Formula, value func(Formula) bool) []Formula {
	out := make([]Formula, len(lits))
	for i, l := range lits {
		if value(l) {
			out[i] = l
		} else {
			out[i] = th.s.Not(l)
		}
	}
	return out
}

func numLits(atoms []numAtom) []Formula {
	out := make([]Formula, len(atoms))
	for i, a := range atoms {
		out[i] = a.lit
	}
	return out
}

func strLits(atoms []strAtom) []Formula {
	out := make([]Formula, len(atoms))
	for i, a := range atoms {
		out[i] = a.lit
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
