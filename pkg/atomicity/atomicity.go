// Package atomicity checks that every write to a struct member happens under
// consistently ordered locks. Each write site gets the lock chains it may
// run under, caller locks first, and the chains of every pair of write sites
// that may touch the same instance are compared for crossings and for
// unprotected writes.
package atomicity

import (
	"context"
	"go/ast"
	"go/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/reference"
	"github.com/akerouanton/muproof/pkg/schedule"
)

// Reacher decides whether two references may hold the same value.
type Reacher interface {
	HaveCommonReference(ctx context.Context, a, b reference.Reference) (bool, reference.Reference, error)
}

// Result of analyzing one member. A nil FirstDeadlockLock and UnmatchedLock
// mean no violation was found.
type Result struct {
	// FirstDeadlockLock and SecondDeadlockLock are acquired in opposite
	// orders by two write sites.
	FirstDeadlockLock  *Lock
	SecondDeadlockLock *Lock
	DeadlockSites      [2]*Write

	// UnmatchedLock protects one write site while UnmatchedSite, writing
	// the same instance, is not protected by it.
	UnmatchedLock *Lock
	UnmatchedSite *Write

	Writes []*Write
	// Pairs is the number of write site pairs whose chains were compared.
	Pairs int
	// Cycles are lock-order cycles through three or more locks.
	Cycles []Cycle
	// Truncated is set when some caller chains were dropped.
	Truncated bool
	// Diagnostics are errors that left a pair undecided; such pairs are
	// compared.
	Diagnostics []error
}

// Deadlock reports whether a lock-order crossing was found.
func (r *Result) Deadlock() bool { return r.FirstDeadlockLock != nil }

// Violation reports whether any violation was found.
func (r *Result) Violation() bool { return r.Deadlock() || r.UnmatchedLock != nil }

// Unguarded returns the write sites with some chain that does not hold lock.
func (r *Result) Unguarded(lock string) []*Write {
	var out []*Write
	for _, w := range r.Writes {
		for _, c := range w.Chains {
			if !contains(c, lock) {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// Analyzer runs the atomicity check over one program.
type Analyzer struct {
	prog      *program.Program
	sched     *schedule.Schedule
	reach     Reacher
	log       *logrus.Entry
	maxChains int
	roots     map[*program.Func]bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger for chain and crossing traces.
func WithLogger(log *logrus.Entry) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithMaxChains bounds the caller chains kept per write site.
func WithMaxChains(n int) Option {
	return func(a *Analyzer) { a.maxChains = n }
}

// New returns an analyzer of the writes sched reaches, comparing instances
// with reach.
func New(prog *program.Program, sched *schedule.Schedule, reach Reacher, opts ...Option) *Analyzer {
	a := &Analyzer{
		prog:      prog,
		sched:     sched,
		reach:     reach,
		maxChains: schedule.DefaultMaxChains,
		roots:     make(map[*program.Func]bool),
	}
	for _, o := range opts {
		o(a)
	}
	if a.maxChains <= 0 {
		a.maxChains = schedule.DefaultMaxChains
	}
	if a.log == nil {
		a.log = logrus.NewEntry(logrus.StandardLogger())
	}
	a.log = a.log.WithField("component", "atomicity")
	for _, fn := range sched.Roots() {
		a.roots[fn] = true
	}
	return a
}

// Analyze checks the writes to member. The first lock-order crossing found
// ends the analysis.
func (a *Analyzer) Analyze(ctx context.Context, member *types.Var) (*Result, error) {
	res := &Result{Writes: a.writeSites(member)}
	graph := newLockOrderGraph()
	for _, w := range res.Writes {
		chains, truncated := a.chains(w.Node)
		w.Chains = chains
		res.Truncated = res.Truncated || truncated
		for _, c := range chains {
			graph.addChain(c)
		}
	}
	for _, c := range graph.detectCycles() {
		if len(c) > 2 {
			res.Cycles = append(res.Cycles, c)
		}
	}

	for i, w1 := range res.Writes {
		for _, w2 := range res.Writes[i:] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if w1 != w2 {
				shared, err := a.mayShare(ctx, w1, w2)
				if err != nil {
					res.Diagnostics = append(res.Diagnostics, err)
				} else if !shared {
					continue
				}
			}
			res.Pairs++
			if a.compare(res, w1, w2) {
				a.log.WithFields(logrus.Fields{
					"member": member.Name(),
					"first":  res.FirstDeadlockLock.Name,
					"second": res.SecondDeadlockLock.Name,
				}).Debug("lock order crossing")
				return res, nil
			}
		}
	}
	return res, nil
}

// compare checks every chain of w1 against every chain of w2 and reports
// whether a crossing was found.
func (a *Analyzer) compare(res *Result, w1, w2 *Write) bool {
	for _, c1 := range w1.Chains {
		for _, c2 := range w2.Chains {
			if first, second, ok := crossing(c1, c2); ok {
				res.FirstDeadlockLock, res.SecondDeadlockLock = &first, &second
				res.DeadlockSites = [2]*Write{w1, w2}
				return true
			}
			if res.UnmatchedLock != nil {
				continue
			}
			if l, site, ok := unmatched(c1, c2, w1, w2); ok {
				res.UnmatchedLock, res.UnmatchedSite = &l, site
			}
		}
	}
	return false
}

// crossing finds two locks acquired in opposite orders by c1 and c2.
func crossing(c1, c2 []Lock) (Lock, Lock, bool) {
	for i, l := range c1 {
		j := index(c2, l.Name)
		if j < 0 {
			continue
		}
		for _, m := range c2[:j] {
			if k := index(c1, m.Name); k > i {
				return l, c1[k], true
			}
		}
	}
	return Lock{}, Lock{}, false
}

// unmatched finds a lock protecting one side that the other does not share
// at all: either the other side holds nothing, or the chains are disjoint.
func unmatched(c1, c2 []Lock, w1, w2 *Write) (Lock, *Write, bool) {
	switch {
	case len(c1) == 0 && len(c2) == 0:
		return Lock{}, nil, false
	case len(c1) == 0:
		return c2[0], w1, true
	case len(c2) == 0:
		return c1[0], w2, true
	}
	for _, l := range c1 {
		if contains(c2, l.Name) {
			return Lock{}, nil, false
		}
	}
	return c1[0], w2, true
}

// mayShare reports whether two write sites may write the same instance.
// Instances rooted at parameters of functions nobody calls may be anything.
func (a *Analyzer) mayShare(ctx context.Context, w1, w2 *Write) (bool, error) {
	if a.open(w1.Sel.X) || a.open(w2.Sel.X) {
		return true, nil
	}
	r1 := reference.Of(a.prog, w1.Sel.X, nil)
	r2 := reference.Of(a.prog, w2.Sel.X, nil)
	ok, _, err := a.reach.HaveCommonReference(ctx, r1, r2)
	if err != nil {
		return true, err
	}
	return ok, nil
}

// open reports whether e is rooted at a parameter or receiver with no
// origin in the program.
func (a *Analyzer) open(e ast.Expr) bool {
	e = astutil.Unparen(e)
	root := program.RootObject(a.prog.Info(e), e)
	v, ok := root.(*types.Var)
	if !ok {
		return false
	}
	fn := a.prog.EnclosingFunc(e)
	for fn != nil {
		if fn.Recv() == v || fn.Param(v) >= 0 {
			return len(a.sched.Callers(fn)) == 0
		}
		fn = fn.Outer
	}
	return false
}
