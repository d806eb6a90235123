package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/verifier"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	loadCommon
	Output   string
	JSON     bool
	Strict   bool
	Parallel int
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "Verify the configured and annotated invariants of a program."
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] <packages...>

	Loads the packages (./... by default), builds the thread schedule from
	the entry points and checks every invariant declared in the
	configuration or with //mu:atomic and //mu:guarded_by field directives.
	Exits with failure if a deadlock or an unprotected write is found.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(fs *flag.FlagSet) {
	c.loadCommon.setFlags(fs)
	fs.StringVar(&c.Output, "o", "", "findings output file (default stdout)")
	fs.BoolVar(&c.JSON, "json", false, "write findings as JSON")
	fs.BoolVar(&c.Strict, "strict", false, "also fail on inconclusive invariants")
	fs.IntVar(&c.Parallel, "parallel", runtime.GOMAXPROCS(0), "invariants checked concurrently")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(ctx context.Context, fs *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, v, err := c.load(ctx, fs.Args())
	if err != nil {
		return failure("%v", err)
	}
	invs, err := cfg.Declared()
	if err != nil {
		return failure("%v", err)
	}
	invs = append(invs, annotated(v.Program())...)
	if len(invs) == 0 {
		return failure("no invariants declared")
	}

	reports, err := checkAll(ctx, v, invs, c.Parallel)
	if err != nil {
		return failure("%v", err)
	}

	out, err := openOutput(c.Output, os.Stdout)
	if err != nil {
		return failure("opening findings: %v", err)
	}
	if c.JSON {
		err = writeJSON(out, reports)
	} else {
		err = writeText(out, reports)
	}
	if cerr := closeOutput(out); err == nil {
		err = cerr
	}
	if err != nil {
		return failure("writing findings: %v", err)
	}

	for _, rep := range reports {
		switch rep.Verdict {
		case verifier.Deadlock, verifier.Unprotected:
			return subcommands.ExitFailure
		case verifier.Inconclusive:
			if c.Strict {
				return subcommands.ExitFailure
			}
		}
	}
	return subcommands.ExitSuccess
}

// annotated returns the invariants declared by field directives in the
// program's packages. Malformed directives are printed and skipped.
func annotated(prog *program.Program) []invariant.Invariant {
	var out []invariant.Invariant
	for _, pkg := range prog.Packages {
		anns, errs := invariant.Annotated(pkg.Types, pkg.Info, pkg.Files)
		for _, err := range errs {
			if de, ok := err.(*invariant.DirectiveError); ok {
				fmt.Fprintf(os.Stderr, "%s: %v\n", prog.Position(de.Pos), de)
			}
		}
		for _, a := range anns {
			out = append(out, a.Invariant)
		}
	}
	return out
}

// checkAll analyzes invs with at most parallel checks in flight. Reports
// are in the order of invs.
func checkAll(ctx context.Context, v *verifier.Verifier, invs []invariant.Invariant, parallel int) ([]*verifier.Report, error) {
	reports := make([]*verifier.Report, len(invs))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, inv := range invs {
		g.Go(func() error {
			reports[i] = v.Analyze(ctx, inv)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func writeJSON(w io.Writer, reports []*verifier.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func writeText(w io.Writer, reports []*verifier.Report) error {
	for _, rep := range reports {
		if _, err := fmt.Fprintf(w, "%s: %s\n", rep.Invariant, rep.Verdict); err != nil {
			return err
		}
		if rep.Reason != "" {
			fmt.Fprintf(w, "\t%s\n", rep.Reason)
		}
		for _, site := range rep.Sites {
			fmt.Fprintf(w, "\t%s\n", site)
		}
		for _, c := range rep.Cycles {
			fmt.Fprintf(w, "\tlock order cycle %s\n", c)
		}
		for _, warn := range rep.Warnings {
			fmt.Fprintf(w, "\twarning: %s\n", warn)
		}
	}
	return nil
}
