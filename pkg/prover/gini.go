package prover

import (
	"context"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// pollInterval is how often a running solve checks for cancellation.
const pollInterval = 5 * time.Millisecond

// giniSolver builds an and-inverter circuit with gini/logic and solves its
// CNF with gini.
type giniSolver struct {
	c      *logic.C
	closed bool
}

// NewGini returns a Solver backed by github.com/go-air/gini.
func NewGini() Solver {
	return &giniSolver{c: logic.NewC()}
}

func (s *giniSolver) Var() Formula   { return Formula(s.c.Lit()) }
func (s *giniSolver) True() Formula  { return Formula(s.c.T) }
func (s *giniSolver) False() Formula { return Formula(s.c.F) }

func (s *giniSolver) Not(f Formula) Formula { return Formula(z.Lit(f).Not()) }

func (s *giniSolver) And(fs ...Formula) Formula {
	switch len(fs) {
	case 0:
		return s.True()
	case 1:
		return fs[0]
	}
	return Formula(s.c.Ands(lits(fs)...))
}

func (s *giniSolver) Or(fs ...Formula) Formula {
	switch len(fs) {
	case 0:
		return s.False()
	case 1:
		return fs[0]
	}
	return Formula(s.c.Ors(lits(fs)...))
}

func (s *giniSolver) Solve(ctx context.Context, root Formula, theory Theory, maxRounds int) (Result, error) {
	if s.closed {
		return Unknown, errClosed
	}
	m := z.Lit(root)
	switch m {
	case s.c.F:
		return Unsatisfiable, nil
	case s.c.T:
		// Atoms outside the root are unconstrained.
		return Satisfiable, nil
	}

	g := gini.New()
	s.c.ToCnf(g)
	if theory != nil {
		// Make every atom known to the solver, even those the circuit
		// simplified away: (T | a) always holds.
		for _, a := range theory.Atoms() {
			g.Add(s.c.T)
			g.Add(z.Lit(a))
			g.Add(z.LitNull)
		}
	}

	for round := 0; round < maxRounds; round++ {
		g.Assume(m)
		res, err := solve(ctx, g)
		if err != nil {
			return Unknown, err
		}
		switch res {
		case -1:
			return Unsatisfiable, nil
		case 0:
			return Unknown, nil
		}
		if theory == nil {
			return Satisfiable, nil
		}
		conflict := theory.Check(func(f Formula) bool { return g.Value(z.Lit(f)) })
		if len(conflict) == 0 {
			return Satisfiable, nil
		}
		for _, f := range conflict {
			g.Add(z.Lit(f).Not())
		}
		g.Add(z.LitNull)
	}
	return Unknown, nil
}

func (s *giniSolver) Close() error {
	s.closed = true
	s.c = nil
	return nil
}

// solve runs g in the background and stops it when ctx is done.
func solve(ctx context.Context, g *gini.Gini) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	run := g.GoSolve()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if res, done := run.Test(); done {
			return res, nil
		}
		select {
		case <-ctx.Done():
			run.Stop()
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func lits(fs []Formula) []z.Lit {
	out := make([]z.Lit, len(fs))
	for i, f := range fs {
		out[i] = z.Lit(f)
	}
	return out
}
