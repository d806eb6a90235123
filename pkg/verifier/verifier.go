// Package verifier ties the analyses together: it builds the thread schedule
// of a program once and checks declared invariants against it.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akerouanton/muproof/pkg/atomicity"
	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/prover"
	"github.com/akerouanton/muproof/pkg/reach"
	"github.com/akerouanton/muproof/pkg/reference"
	"github.com/akerouanton/muproof/pkg/schedule"
)

var (
	ErrUnresolvedSymbol   = schedule.ErrUnresolvedSymbol
	ErrNoEntryPoint       = schedule.ErrNoEntryPoint
	ErrAmbiguousInvariant = invariant.ErrAmbiguousInvariant
	ErrSolverUnknown      = prover.ErrSolverUnknown
	ErrDepthExceeded      = reach.ErrDepthExceeded
)

// Verdict is the outcome of checking one invariant.
type Verdict int

const (
	Holds Verdict = iota
	Deadlock
	Unprotected
	Inconclusive
)

func (v Verdict) String() string {
	switch v {
	case Holds:
		return "holds"
	case Deadlock:
		return "deadlock"
	case Unprotected:
		return "unprotected"
	case Inconclusive:
		return "inconclusive"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// MarshalText renders the verdict by name in JSON and YAML output.
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Site is a write site named in a report.
type Site struct {
	Pos      token.Position `json:"pos"`
	Func     string         `json:"func"`
	Kind     string         `json:"kind"`
	Position token.Pos      `json:"-"`
}

func (s Site) String() string { return fmt.Sprintf("%s (%s in %s)", s.Pos, s.Kind, s.Func) }

// Report is the result of checking one invariant.
type Report struct {
	Invariant invariant.Invariant `json:"invariant"`
	Verdict   Verdict             `json:"verdict"`
	Reason    string              `json:"reason"`
	// Locks are the crossing locks of a deadlock, or the lock an unprotected
	// site does not hold.
	Locks []string `json:"locks,omitempty"`
	Sites []Site   `json:"sites,omitempty"`
	// Cycles are lock-order cycles through three or more locks.
	Cycles      []string `json:"cycles,omitempty"`
	Writes      int      `json:"writes"`
	Pairs       int      `json:"pairs"`
	Warnings    []string `json:"warnings,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`

	// Err is the error that made the verdict inconclusive, if any.
	Err error `json:"-"`
}

// Verifier checks invariants of one program. It is safe for concurrent use
// once built.
type Verifier struct {
	prog    *program.Program
	sched   *schedule.Schedule
	tracker *reference.Tracker
	prover  *prover.Prover
	reach   *reach.Prover
	atom    *atomicity.Analyzer
	log     *logrus.Entry
	opts    options
}

type options struct {
	log        *logrus.Entry
	entry      []string
	concurrent []*program.Func
	unresolved schedule.UnresolvedPolicy
	maxChains  int
	maxDepth   int
	maxRounds  int
	timeout    time.Duration
	solver     prover.Factory
}

// Option configures a Verifier.
type Option func(*options)

// WithLogger sets the logger shared by every stage.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithEntry sets the true entry points by full name.
func WithEntry(names ...string) Option {
	return func(o *options) { o.entry = append(o.entry, names...) }
}

// WithConcurrent adds thread roots, such as functions annotated
// //mu:concurrent.
func WithConcurrent(fns ...*program.Func) Option {
	return func(o *options) { o.concurrent = append(o.concurrent, fns...) }
}

// WithUnresolved chooses how dynamic calls with no known target are treated.
func WithUnresolved(p schedule.UnresolvedPolicy) Option {
	return func(o *options) { o.unresolved = p }
}

// WithMaxChains caps the lock chains collected per function.
func WithMaxChains(n int) Option {
	return func(o *options) { o.maxChains = n }
}

// WithMaxDepth bounds how many assignments reachability follows back.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithMaxRounds caps the refinement rounds of the prover.
func WithMaxRounds(n int) Option {
	return func(o *options) { o.maxRounds = n }
}

// WithTimeout bounds each call to Analyze.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithSolver replaces the default SAT backend.
func WithSolver(f prover.Factory) Option {
	return func(o *options) { o.solver = f }
}

// New builds the thread schedule of prog.
func New(ctx context.Context, prog *program.Program, opts ...Option) (*Verifier, error) {
	o := options{maxDepth: reach.DefaultMaxDepth, maxChains: schedule.DefaultMaxChains, maxRounds: prover.DefaultMaxRounds}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.NewEntry(logrus.StandardLogger())
	}

	sched, err := schedule.Build(ctx, prog, schedule.Options{
		Entry:      o.entry,
		Concurrent: o.concurrent,
		Unresolved: o.unresolved,
		MaxChains:  o.maxChains,
		Logger:     o.log,
	})
	if err != nil {
		return nil, fmt.Errorf("build schedule: %w", err)
	}

	v := &Verifier{prog: prog, sched: sched, opts: o, log: o.log.WithField("component", "verifier")}
	v.tracker = reference.NewTracker(prog, sched, o.log)
	proverOpts := []prover.Option{prover.WithLogger(o.log), prover.WithMaxRounds(o.maxRounds)}
	if o.solver != nil {
		proverOpts = append(proverOpts, prover.WithSolver(o.solver))
	}
	v.prover = prover.New(prog, proverOpts...)
	v.reach = reach.New(prog, v.tracker, v.prover, reach.WithMaxDepth(o.maxDepth), reach.WithLogger(o.log))
	v.atom = atomicity.New(prog, sched, v.reach, atomicity.WithLogger(o.log), atomicity.WithMaxChains(o.maxChains))
	return v, nil
}

// Program returns the analyzed program.
func (v *Verifier) Program() *program.Program { return v.prog }

// ThreadSchedule returns the thread paths of the program.
func (v *Verifier) ThreadSchedule() *schedule.Schedule { return v.sched }

// GetAssignments returns the conditional origins of ref.
func (v *Verifier) GetAssignments(ctx context.Context, ref reference.Reference) ([]reference.Assignment, error) {
	return v.tracker.Assignments(ctx, ref, nil)
}

// IsSatisfiable reports whether the conditions of a and b can hold together.
func (v *Verifier) IsSatisfiable(ctx context.Context, a, b reference.Assignment) (bool, error) {
	return v.prover.IsSatisfiable(ctx, a, b)
}

// HaveCommonReference reports whether a and b may hold the same value.
func (v *Verifier) HaveCommonReference(ctx context.Context, a, b reference.Reference) (bool, reference.Reference, error) {
	return v.reach.HaveCommonReference(ctx, a, b)
}

// Analyze checks inv. It never fails: problems that keep the analysis from
// concluding make the verdict Inconclusive, unless a violation was already
// found.
func (v *Verifier) Analyze(ctx context.Context, inv invariant.Invariant) *Report {
	rep := &Report{Invariant: inv}
	for _, w := range v.sched.Warnings() {
		rep.Warnings = append(rep.Warnings, w.String())
	}
	if v.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.timeout)
		defer cancel()
	}

	resolved, err := inv.Resolve(v.prog)
	if err != nil {
		return rep.inconclusive(err)
	}
	res, err := v.atom.Analyze(ctx, resolved.Field)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out: %w", err)
		}
		return rep.inconclusive(err)
	}

	rep.Writes, rep.Pairs = len(res.Writes), res.Pairs
	for _, c := range res.Cycles {
		rep.Cycles = append(rep.Cycles, c.String())
	}
	if res.Truncated {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("lock chains truncated at %d", v.opts.maxChains))
	}
	for _, d := range res.Diagnostics {
		rep.Diagnostics = append(rep.Diagnostics, d.Error())
	}

	switch {
	case res.Deadlock():
		rep.Verdict = Deadlock
		rep.Locks = []string{res.FirstDeadlockLock.Name, res.SecondDeadlockLock.Name}
		rep.Sites = []Site{v.site(res.DeadlockSites[0]), v.site(res.DeadlockSites[1])}
		rep.Reason = fmt.Sprintf("%s and %s are acquired in opposite orders", rep.Locks[0], rep.Locks[1])
	case res.UnmatchedLock != nil:
		rep.Verdict = Unprotected
		rep.Locks = []string{res.UnmatchedLock.Name}
		rep.Sites = []Site{v.site(res.UnmatchedSite)}
		rep.Reason = fmt.Sprintf("write at %s does not hold %s", rep.Sites[0].Pos, res.UnmatchedLock.Name)
	case inv.Kind == invariant.GuardedBy && len(res.Unguarded(resolved.LockName)) > 0:
		rep.Verdict = Unprotected
		rep.Locks = []string{resolved.LockName}
		for _, w := range res.Unguarded(resolved.LockName) {
			rep.Sites = append(rep.Sites, v.site(w))
		}
		rep.Reason = fmt.Sprintf("write at %s does not hold %s", rep.Sites[0].Pos, resolved.LockName)
	case len(res.Diagnostics) > 0:
		return rep.inconclusive(res.Diagnostics[0])
	default:
		rep.Verdict = Holds
		rep.Reason = fmt.Sprintf("%d write sites, %d pairs compared", rep.Writes, rep.Pairs)
	}
	v.log.WithFields(logrus.Fields{"invariant": inv.String(), "verdict": rep.Verdict}).Debug("analyzed")
	return rep
}

func (rep *Report) inconclusive(err error) *Report {
	rep.Verdict = Inconclusive
	rep.Reason = err.Error()
	rep.Err = err
	return rep
}

func (v *Verifier) site(w *atomicity.Write) Site {
	return Site{
		Pos:      v.prog.Position(w.Pos()),
		Func:     w.Func.Name(),
		Kind:     w.Kind.String(),
		Position: w.Pos(),
	}
}
