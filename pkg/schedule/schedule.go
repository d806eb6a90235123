// Package schedule builds the thread schedule of a program: for every
// concurrency entry point, the call chains connecting the program's true
// entry point to the code that starts it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/akerouanton/muproof/pkg/program"
)

var (
	// ErrUnresolvedSymbol is returned when a thread start cannot be bound to
	// a function body and the policy is Abort.
	ErrUnresolvedSymbol = errors.New("unresolved symbol")
	// ErrNoEntryPoint is returned when the program has no function to start
	// the schedule from.
	ErrNoEntryPoint = errors.New("no entry point")
)

// UnresolvedPolicy decides what happens to thread starts whose target cannot
// be resolved.
type UnresolvedPolicy int

const (
	// Exclude drops the path and records a warning.
	Exclude UnresolvedPolicy = iota
	// Abort fails the build with ErrUnresolvedSymbol.
	Abort
)

func (p UnresolvedPolicy) String() string {
	switch p {
	case Exclude:
		return "exclude"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("UnresolvedPolicy(%d)", int(p))
}

// ParsePolicy parses "exclude" or "abort". The empty string means Exclude.
func ParsePolicy(s string) (UnresolvedPolicy, error) {
	switch strings.ToLower(s) {
	case "", "exclude":
		return Exclude, nil
	case "abort":
		return Abort, nil
	}
	return Exclude, fmt.Errorf("unknown unresolved policy %q", s)
}

// DefaultMaxChains bounds the chains enumerated per thread path.
const DefaultMaxChains = 64

// Options configures Build.
type Options struct {
	// Entry lists the full names of the true entry points. Empty means
	// main.main and init functions.
	Entry []string
	// Concurrent lists additional thread roots, such as functions
	// annotated //mu:concurrent.
	Concurrent []*program.Func
	Unresolved UnresolvedPolicy
	MaxChains  int
	Logger     *logrus.Entry
}

// Warning is a non fatal problem found while building the schedule.
type Warning struct {
	Pos token.Position
	Err error
}

func (w Warning) String() string { return fmt.Sprintf("%s: %v", w.Pos, w.Err) }

// ThreadPath is a thread root together with the call chains that lead from
// an entry point to it. Each chain ends with Root.
type ThreadPath struct {
	Root   *program.Func
	Main   bool              // the entry point's own thread
	Start  *program.CallSite // nil for Main and runtime-started roots
	Chains [][]*program.Func

	reach map[*program.Func]*program.CallSite
}

func (tp *ThreadPath) String() string {
	if tp.Main {
		return "main:" + tp.Root.Name()
	}
	return "thread:" + tp.Root.Name()
}

// Schedule is the set of thread paths of a program. It is read-only once
// built.
type Schedule struct {
	prog     *program.Program
	log      *logrus.Entry
	paths    []*ThreadPath
	entries  []*program.Func
	warnings []Warning
	forward  map[*program.Func][]*program.CallSite
	dynamic  map[*program.Func][]*program.CallSite // interface calls by candidate callee
	lits     map[*program.Func][]*program.Func
}

// Build discovers the thread paths of prog.
func Build(ctx context.Context, prog *program.Program, opts Options) (*Schedule, error) {
	s := &Schedule{
		prog:    prog,
		log:     opts.Logger,
		forward: make(map[*program.Func][]*program.CallSite),
		dynamic: make(map[*program.Func][]*program.CallSite),
		lits:    make(map[*program.Func][]*program.Func),
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "schedule")
	if opts.MaxChains <= 0 {
		opts.MaxChains = DefaultMaxChains
	}

	if len(opts.Entry) > 0 {
		for _, name := range opts.Entry {
			fn := prog.LookupFunc(name)
			if fn == nil {
				return nil, fmt.Errorf("%w: entry point %s", ErrNoEntryPoint, name)
			}
			s.entries = append(s.entries, fn)
		}
	} else {
		s.entries = defaultEntries(prog)
	}
	if len(s.entries) == 0 {
		return nil, ErrNoEntryPoint
	}

	for _, cs := range prog.Calls() {
		s.forward[cs.Caller] = append(s.forward[cs.Caller], cs)
		if cs.Callee == nil && cs.Dynamic() {
			for _, callee := range prog.CalleesOf(cs.Call) {
				s.dynamic[callee] = append(s.dynamic[callee], cs)
			}
		}
	}
	for _, fn := range prog.Funcs() {
		if fn.Outer != nil {
			s.lits[fn.Outer] = append(s.lits[fn.Outer], fn)
		}
	}

	for _, e := range s.entries {
		s.paths = append(s.paths, &ThreadPath{Root: e, Main: true, Chains: [][]*program.Func{{e}}})
	}

	starts := detectStarts(prog)
	for _, fn := range opts.Concurrent {
		starts = append(starts, start{targets: []*program.Func{fn}})
	}
	for _, st := range starts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if st.unresolved {
			pos := prog.Position(st.site.Call.Pos())
			err := fmt.Errorf("%w: thread start %s", ErrUnresolvedSymbol, types.ExprString(st.site.Call.Fun))
			if opts.Unresolved == Abort {
				return nil, fmt.Errorf("%s: %w", pos, err)
			}
			s.log.WithField("pos", pos).Warn(err)
			s.warnings = append(s.warnings, Warning{Pos: pos, Err: err})
			continue
		}
		for _, target := range st.targets {
			s.addPath(target, st, opts.MaxChains)
		}
	}

	for _, tp := range s.paths {
		s.reachOf(tp)
	}

	s.log.WithFields(logrus.Fields{
		"entries": len(s.entries),
		"paths":   len(s.paths),
	}).Debug("schedule built")
	return s, nil
}

func (s *Schedule) addPath(root *program.Func, st start, max int) {
	site := st.site
	tp := &ThreadPath{Root: root, Start: site}
	if site == nil || st.runtime {
		tp.Chains = [][]*program.Func{{root}}
	} else {
		chains, truncated := s.chainsTo(site.Caller, max)
		if truncated {
			pos := s.prog.Position(site.Call.Pos())
			s.warnings = append(s.warnings, Warning{
				Pos: pos,
				Err: fmt.Errorf("call chains to %s truncated at %d", site.Caller.Name(), max),
			})
		}
		for _, c := range chains {
			tp.Chains = append(tp.Chains, append(c, root))
		}
	}
	if len(tp.Chains) == 0 {
		s.log.WithField("root", root.Name()).Debug("thread start unreachable from entry points")
		return
	}
	for _, existing := range s.paths {
		if existing.Root == root && existing.Start == site && !existing.Main {
			return
		}
	}
	s.paths = append(s.paths, tp)
}

// chainsTo enumerates the acyclic chains from an entry point to fn by
// walking callers backwards. A function literal nothing calls directly is
// attributed to the function declaring it.
func (s *Schedule) chainsTo(fn *program.Func, max int) ([][]*program.Func, bool) {
	isEntry := make(map[*program.Func]bool, len(s.entries))
	for _, e := range s.entries {
		isEntry[e] = true
	}

	var (
		out       [][]*program.Func
		truncated bool
		onPath    = make(map[*program.Func]bool)
		rev       []*program.Func
	)
	var walk func(f *program.Func)
	walk = func(f *program.Func) {
		if len(out) >= max {
			truncated = true
			return
		}
		if onPath[f] {
			return
		}
		onPath[f] = true
		rev = append(rev, f)
		defer func() {
			onPath[f] = false
			rev = rev[:len(rev)-1]
		}()

		if isEntry[f] {
			chain := make([]*program.Func, len(rev))
			for i, g := range rev {
				chain[len(rev)-1-i] = g
			}
			out = append(out, chain)
		}
		for _, pred := range s.predecessors(f) {
			walk(pred)
		}
	}
	walk(fn)
	return out, truncated
}

func (s *Schedule) predecessors(fn *program.Func) []*program.Func {
	var preds []*program.Func
	seen := make(map[*program.Func]bool)
	for _, cs := range s.Callers(fn) {
		if !seen[cs.Caller] {
			seen[cs.Caller] = true
			preds = append(preds, cs.Caller)
		}
	}
	if len(preds) == 0 && fn.Outer != nil {
		preds = append(preds, fn.Outer)
	}
	return preds
}

// Callers returns the call sites that may invoke fn: static calls and
// interface calls resolved to it.
func (s *Schedule) Callers(fn *program.Func) []*program.CallSite {
	static, dynamic := s.prog.CallersOf(fn), s.dynamic[fn]
	if len(dynamic) == 0 {
		return static
	}
	out := make([]*program.CallSite, 0, len(static)+len(dynamic))
	out = append(out, static...)
	return append(out, dynamic...)
}

// Roots returns the roots of every thread path.
func (s *Schedule) Roots() []*program.Func {
	var out []*program.Func
	seen := make(map[*program.Func]bool)
	for _, tp := range s.paths {
		if !seen[tp.Root] {
			seen[tp.Root] = true
			out = append(out, tp.Root)
		}
	}
	return out
}

// Paths returns every thread path, main paths first.
func (s *Schedule) Paths() []*ThreadPath { return s.paths }

// Entries returns the true entry points.
func (s *Schedule) Entries() []*program.Func { return s.entries }

// Warnings returns the problems recorded while building.
func (s *Schedule) Warnings() []Warning { return s.warnings }

// Contains reports whether fn is reachable from any thread path.
func (s *Schedule) Contains(fn *program.Func) bool {
	return len(s.PathsTo(fn)) > 0
}

// ContainsNode reports whether the function enclosing n is reachable.
func (s *Schedule) ContainsNode(n ast.Node) bool {
	fn := s.prog.EnclosingFunc(n)
	if fn == nil {
		// Package-level initializers run on the main thread.
		return true
	}
	return s.Contains(fn)
}

// PathsTo returns the thread paths whose root reaches fn.
func (s *Schedule) PathsTo(fn *program.Func) []*ThreadPath {
	var out []*ThreadPath
	for _, tp := range s.paths {
		if _, ok := s.reachOf(tp)[fn]; ok {
			out = append(out, tp)
		}
	}
	return out
}

// Concurrent reports whether fn is reachable from a thread other than the
// main one.
func (s *Schedule) Concurrent(fn *program.Func) bool {
	for _, tp := range s.PathsTo(fn) {
		if !tp.Main {
			return true
		}
	}
	return false
}

// PathTo returns the call sites leading from tp's root to fn, or nil if fn
// is the root or unreachable. The first site is in the root.
func (s *Schedule) PathTo(tp *ThreadPath, fn *program.Func) []*program.CallSite {
	reach := s.reachOf(tp)
	if _, ok := reach[fn]; !ok {
		return nil
	}
	var rev []*program.CallSite
	for f := fn; f != tp.Root; {
		cs := reach[f]
		if cs == nil {
			if f.Outer == nil {
				break
			}
			// Reached through the declaring function of a literal.
			f = f.Outer
			continue
		}
		rev = append(rev, cs)
		f = cs.Caller
	}
	out := make([]*program.CallSite, len(rev))
	for i, cs := range rev {
		out[len(rev)-1-i] = cs
	}
	return out
}

// reachOf lazily computes the breadth-first call tree of tp's root. Each
// reached function maps to the call site it was first reached through.
func (s *Schedule) reachOf(tp *ThreadPath) map[*program.Func]*program.CallSite {
	if tp.reach != nil {
		return tp.reach
	}
	reach := map[*program.Func]*program.CallSite{tp.Root: nil}
	queue := []*program.Func{tp.Root}
	for head := 0; head < len(queue); head++ {
		fn := queue[head]
		for _, cs := range s.forward[fn] {
			var callees []*program.Func
			if cs.Callee != nil {
				callees = []*program.Func{cs.Callee}
			} else if cs.Dynamic() {
				callees = s.prog.CalleesOf(cs.Call)
			}
			for _, callee := range callees {
				if _, ok := reach[callee]; !ok {
					reach[callee] = cs
					queue = append(queue, callee)
				}
			}
		}
		for _, lit := range s.lits[fn] {
			if _, ok := reach[lit]; !ok {
				reach[lit] = nil
				queue = append(queue, lit)
			}
		}
	}
	tp.reach = reach
	return reach
}

