package analyzer

import (
	"context"
	"errors"
	"go/token"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/analysis"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/verifier"
)

var verbose bool

func init() {
	Analyzer.Flags.BoolVar(&verbose, "verbose", false, "report invariants that could not be verified")
}

var Analyzer = &analysis.Analyzer{
	Name:      "muproof",
	Doc:       "verifies that struct fields annotated //mu:atomic or //mu:guarded_by are written under consistently ordered locks",
	Run:       run,
	FactTypes: []analysis.Fact{(*AtomicFact)(nil), (*ConcurrentFact)(nil)},
}

// target is an invariant checked in this pass.
type target struct {
	inv  invariant.Invariant
	name string    // "Type.field"
	pos  token.Pos // field declaration, invalid for imported types
}

// passContext holds state for a single analyzer pass.
type passContext struct {
	pass    *analysis.Pass
	prog    *program.Program
	log     *logrus.Entry
	verbose bool

	targets []target
	// Thread roots found through imported ConcurrentFacts.
	importedRoots map[*program.Func]bool
	// Cycles already reported, by their string form.
	cycles map[string]bool

	// Annotation directives parsed from comments.
	annotations *annotations
}

func run(pass *analysis.Pass) (any, error) {
	log := newLogger(verbose)
	ctx := &passContext{
		pass:          pass,
		prog:          program.FromPass(pass, program.WithLogger(log)),
		log:           log,
		verbose:       verbose,
		importedRoots: make(map[*program.Func]bool),
		cycles:        make(map[string]bool),
	}

	// Phase 0: Parse annotation directives from comments.
	ctx.parseAnnotations()

	// Phase 1: Import upstream facts for imported types and functions.
	ctx.importFacts()

	// Phase 2: Verify every invariant and report violations.
	if err := ctx.verify(); err != nil {
		return nil, err
	}

	// Phase 3: Export facts for downstream packages.
	ctx.exportFacts()

	return nil, nil
}

func newLogger(verbose bool) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	if verbose {
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.WarnLevel)
	}
	return logrus.NewEntry(l).WithField("analyzer", "muproof")
}

func (ctx *passContext) verify() error {
	if len(ctx.targets) == 0 {
		return nil
	}
	v, err := verifier.New(context.Background(), ctx.prog,
		verifier.WithConcurrent(ctx.roots()...),
		verifier.WithLogger(ctx.log))
	if errors.Is(err, verifier.ErrNoEntryPoint) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, t := range ctx.targets {
		ctx.report(t, v.Analyze(context.Background(), t.inv))
	}
	return nil
}

// roots returns the functions annotated //mu:concurrent and those started
// through imported concurrent functions, in source order.
func (ctx *passContext) roots() []*program.Func {
	seen := make(map[*program.Func]bool)
	var out []*program.Func
	for _, set := range []map[*program.Func]bool{ctx.annotations.concurrent, ctx.importedRoots} {
		for fn := range set {
			if !seen[fn] {
				seen[fn] = true
				out = append(out, fn)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos() < out[j].Pos() })
	return out
}
