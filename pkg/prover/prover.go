// Package prover decides whether the conditions guarding two assignments can
// hold together. Conditions are translated into propositional formulas over
// boolean, numeric and string atoms and solved with a SAT solver refined by
// a small theory of linear bounds and string equalities.
package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/akerouanton/muproof/pkg/condition"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/reference"
)

// ErrSolverUnknown is returned alongside a satisfiable verdict when the
// solver could not decide a query.
var ErrSolverUnknown = errors.New("solver could not decide conditions")

const (
	// DefaultMaxRounds bounds the theory refinement rounds of one query.
	DefaultMaxRounds = 256
	// DefaultInlineDepth bounds the nesting of inlined boolean calls.
	DefaultInlineDepth = 4
)

// Prover checks the joint satisfiability of condition sets.
type Prover struct {
	prog        *program.Program
	solver      Factory
	log         *logrus.Entry
	maxRounds   int
	inlineDepth int
}

// Option configures a Prover.
type Option func(*Prover)

// WithSolver replaces the gini backend.
func WithSolver(f Factory) Option {
	return func(p *Prover) { p.solver = f }
}

// WithLogger sets the logger for translation and solver traces.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Prover) { p.log = log }
}

// WithMaxRounds bounds the theory refinement rounds of one query.
func WithMaxRounds(n int) Option {
	return func(p *Prover) { p.maxRounds = n }
}

// WithInlineDepth bounds how deep pure callees are inlined into formulas.
func WithInlineDepth(n int) Option {
	return func(p *Prover) { p.inlineDepth = n }
}

// New returns a prover over prog.
func New(prog *program.Program, opts ...Option) *Prover {
	p := &Prover{
		prog:        prog,
		solver:      NewGini,
		maxRounds:   DefaultMaxRounds,
		inlineDepth: DefaultInlineDepth,
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithField("component", "prover")
	return p
}

// IsSatisfiable reports whether the conditions of a and b can hold at the
// same time. An undecided query is reported satisfiable with an error
// wrapping ErrSolverUnknown. A condition that cannot be translated yields
// false and an *UnsupportedConstructError.
func (p *Prover) IsSatisfiable(ctx context.Context, a, b reference.Assignment) (bool, error) {
	return p.Satisfiable(ctx, a.Conditions.And(b.Conditions))
}

// Satisfiable reports whether the conjunction s can hold.
func (p *Prover) Satisfiable(ctx context.Context, s condition.Set) (bool, error) {
	if s.Empty() {
		return true, nil
	}
	solver := p.solver()
	defer solver.Close()

	tr := newTranslator(p.prog, solver, p.inlineDepth)
	root, err := tr.set(s)
	if err != nil {
		p.log.WithError(err).Debug("untranslatable condition")
		return false, err
	}
	res, err := solver.Solve(ctx, root, tr.th, p.maxRounds)
	if err != nil {
		return false, fmt.Errorf("solving %s: %w", s, err)
	}
	p.log.WithFields(logrus.Fields{"conditions": s.String(), "result": res}).Debug("solved")
	switch res {
	case Satisfiable:
		return true, nil
	case Unsatisfiable:
		return false, nil
	}
	p.log.WithField("conditions", s.String()).Warn("solver returned unknown")
	return true, fmt.Errorf("%w: %s", ErrSolverUnknown, s)
}
