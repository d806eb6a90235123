package prover

import (
	"context"
	"errors"
)

// Formula is an opaque handle to a formula built by one Solver.
type Formula uint32

// Result is the outcome of a satisfiability check.
type Result int

const (
	Unknown Result = iota
	Satisfiable
	Unsatisfiable
)

func (r Result) String() string {
	switch r {
	case Satisfiable:
		return "sat"
	case Unsatisfiable:
		return "unsat"
	}
	return "unknown"
}

// Theory checks a boolean model against the meaning of the atoms it owns.
// Check returns nil when the model is consistent, or a set of literals,
// as assigned by the model, whose conjunction is inconsistent.
type Theory interface {
	Atoms() []Formula
	Check(value func(Formula) bool) []Formula
}

// Solver builds boolean formulas and decides their satisfiability modulo
// a theory. A Solver is used for a single query and must be closed.
type Solver interface {
	Var() Formula
	True() Formula
	False() Formula
	Not(f Formula) Formula
	And(fs ...Formula) Formula
	Or(fs ...Formula) Formula
	// Solve decides root. Theory conflicts are blocked and solving resumes
	// for at most maxRounds models, after which the result is Unknown.
	Solve(ctx context.Context, root Formula, theory Theory, maxRounds int) (Result, error)
	Close() error
}

// Factory returns a fresh Solver.
type Factory func() Solver

// errClosed is returned when a closed solver is used.
var errClosed = errors.New("solver closed")
