// Package reach decides whether two references may denote the same value by
// walking their assignment chains back to a common origin.
package reach

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/types"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/prover"
	"github.com/akerouanton/muproof/pkg/reference"
)

// ErrDepthExceeded is returned when no common origin was found within the
// depth bound and some chain was cut.
var ErrDepthExceeded = errors.New("reachability depth exceeded")

// DefaultMaxDepth bounds the length of the assignment chains explored.
const DefaultMaxDepth = 32

// Satisfier decides the joint satisfiability of two assignments' conditions.
type Satisfier interface {
	IsSatisfiable(ctx context.Context, a, b reference.Assignment) (bool, error)
}

// Prover answers common-reference queries over one program.
type Prover struct {
	prog     *program.Program
	tracker  *reference.Tracker
	sat      Satisfier
	cache    *Cache
	maxDepth int
	log      *logrus.Entry
}

// Option configures a Prover.
type Option func(*Prover)

// WithCache shares a verdict cache between provers of the same program.
func WithCache(c *Cache) Option {
	return func(p *Prover) { p.cache = c }
}

// WithMaxDepth bounds how many assignments a query follows back.
func WithMaxDepth(n int) Option {
	return func(p *Prover) { p.maxDepth = n }
}

// WithLogger sets the logger for query traces.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Prover) { p.log = log }
}

// New returns a reachability prover walking assignments with tracker and
// pruning incompatible pairs with sat.
func New(prog *program.Program, tracker *reference.Tracker, sat Satisfier, opts ...Option) *Prover {
	p := &Prover{
		prog:     prog,
		tracker:  tracker,
		sat:      sat,
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range opts {
		o(p)
	}
	if p.cache == nil {
		p.cache = NewCache()
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithField("component", "reach")
	return p
}

// Cache returns the verdicts settled so far.
func (p *Prover) Cache() *Cache { return p.cache }

// query is the state of one top-level HaveCommonReference call.
type query struct {
	// pending maps the pairs being explored to their depth.
	pending map[pairKey]int
	// inconclusive is the first solver unknown or depth cut met.
	inconclusive error
}

// result of one step. low is the shallowest pending pair the step ran
// into; math.MaxInt when it depends on no pair still being explored.
type result struct {
	Verdict
	low int
}

// HaveCommonReference reports whether a and b may hold the same value, and
// if so returns that value's reference. Pairs whose guarding conditions
// exclude each other never share a value. A reference is never common with
// its own location.
//
// A negative answer reached while some chain was left undecided carries an
// error wrapping prover.ErrSolverUnknown or ErrDepthExceeded.
func (p *Prover) HaveCommonReference(ctx context.Context, a, b reference.Reference) (bool, reference.Reference, error) {
	q := &query{pending: make(map[pairKey]int)}
	res, err := p.have(ctx, q, reference.Trivial(p.prog, a), reference.Trivial(p.prog, b), 0)
	if err != nil {
		return false, reference.Reference{}, err
	}
	if res.Common {
		return true, res.Ref, nil
	}
	if q.inconclusive != nil {
		return false, reference.Reference{}, fmt.Errorf("%s and %s: %w", a, b, q.inconclusive)
	}
	return false, reference.Reference{}, nil
}

func (p *Prover) have(ctx context.Context, q *query, first, second reference.Assignment, depth int) (result, error) {
	if err := ctx.Err(); err != nil {
		return result{}, err
	}
	k := keyOf(first.Ref, second.Ref)
	if v, ok := p.cache.Lookup(first.Ref, second.Ref); ok {
		return result{Verdict: v, low: math.MaxInt}, nil
	}
	if d, ok := q.pending[k]; ok {
		// No new evidence on a pair already being explored.
		return result{low: d}, nil
	}
	if depth > p.maxDepth {
		if q.inconclusive == nil {
			q.inconclusive = ErrDepthExceeded
		}
		return result{low: -1}, nil
	}

	sat, err := p.sat.IsSatisfiable(ctx, first, second)
	switch {
	case errors.Is(err, prover.ErrSolverUnknown):
		if q.inconclusive == nil {
			q.inconclusive = err
		}
	case err != nil:
		return result{}, err
	case !sat:
		return p.negative(first, second, depth), nil
	}

	if p.sameValue(first.Ref, second.Ref) {
		if first.Ref.SameLocation(second.Ref) {
			return p.settle(first, second, Verdict{}), nil
		}
		return p.settle(first, second, Verdict{Common: true, Ref: second.Ref}), nil
	}

	q.pending[k] = depth
	defer delete(q.pending, k)
	low := math.MaxInt

	firsts, err := p.tracker.Assignments(ctx, first.Ref, nil)
	if err != nil {
		return result{}, err
	}
	for _, a := range firsts {
		if a.Algebraic {
			continue
		}
		a.Conditions = a.Conditions.And(first.Conditions)
		r, err := p.have(ctx, q, a, second, depth+1)
		if err != nil {
			return result{}, err
		}
		if r.Common {
			return p.settle(first, second, r.Verdict), nil
		}
		low = min(low, r.low)
	}

	seconds, err := p.tracker.Assignments(ctx, second.Ref, nil)
	if err != nil {
		return result{}, err
	}
	for _, b := range seconds {
		if b.Algebraic {
			continue
		}
		b.Conditions = b.Conditions.And(second.Conditions)
		r, err := p.have(ctx, q, first, b, depth+1)
		if err != nil {
			return result{}, err
		}
		if r.Common {
			return p.settle(first, second, r.Verdict), nil
		}
		low = min(low, r.low)
	}

	if low < depth || q.inconclusive != nil {
		// Depends on a pair still open above, or on an undecided chain.
		return result{low: low}, nil
	}
	if p.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		p.log.WithFields(logrus.Fields{"first": first.Ref.Text(), "second": second.Ref.Text()}).Debug("no common reference")
	}
	return p.negative(first, second, depth), nil
}

// negative settles a negative verdict. Below the top level the assignments
// carry the conditions of the chains that led to them, so the verdict holds
// for this path only and is not cached.
func (p *Prover) negative(first, second reference.Assignment, depth int) result {
	if depth > 0 {
		return result{low: math.MaxInt}
	}
	return p.settle(first, second, Verdict{})
}

func (p *Prover) settle(first, second reference.Assignment, v Verdict) result {
	return result{Verdict: p.cache.Store(first.Ref, second.Ref, v), low: math.MaxInt}
}

// sameValue reports whether both references read the same variable: the
// same text rooted at the same object. Parameters read in different call
// contexts are distinct values.
func (p *Prover) sameValue(a, b reference.Reference) bool {
	if a.SameLocation(b) {
		return a.Contexts.Equal(b.Contexts)
	}
	if a.Text() != b.Text() {
		return false
	}
	ea, eb := astutil.Unparen(a.Node), astutil.Unparen(b.Node)
	if !a.IsPure || !b.IsPure {
		return false
	}
	ra := program.RootObject(p.prog.Info(ea), ea)
	rb := program.RootObject(p.prog.Info(eb), eb)
	if ra == nil || ra != rb {
		return isConstant(p.prog, ea) && isConstant(p.prog, eb)
	}
	if v, ok := ra.(*types.Var); ok && !v.IsField() && v.Parent() != v.Pkg().Scope() {
		return a.Contexts.Equal(b.Contexts)
	}
	return true
}

func isConstant(prog *program.Program, e ast.Expr) bool {
	info := prog.Info(e)
	if info == nil {
		return false
	}
	tv, ok := info.Types[e]
	return ok && tv.Value != nil
}
