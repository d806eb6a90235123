package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"

	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/schedule"
)

// Schedule implements subcommands.Command for the "schedule" command.
type Schedule struct {
	loadCommon
	Output string
}

// Name implements subcommands.Command.Name.
func (*Schedule) Name() string {
	return "schedule"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Schedule) Synopsis() string {
	return "Print the thread schedule of a program as YAML."
}

// Usage implements subcommands.Command.Usage.
func (*Schedule) Usage() string {
	return `schedule [flags] <packages...>

	Prints every thread path: its root, whether it is the entry point's own
	thread, the call site starting it and the call chains reaching it.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Schedule) SetFlags(fs *flag.FlagSet) {
	s.loadCommon.setFlags(fs)
	fs.StringVar(&s.Output, "o", "", "output file (default stdout)")
}

// Execute implements subcommands.Command.Execute.
func (s *Schedule) Execute(ctx context.Context, fs *flag.FlagSet, args ...any) subcommands.ExitStatus {
	_, v, err := s.load(ctx, fs.Args())
	if err != nil {
		return failure("%v", err)
	}
	out, err := openOutput(s.Output, os.Stdout)
	if err != nil {
		return failure("opening output: %v", err)
	}
	err = writeSchedule(out, v.Program(), v.ThreadSchedule())
	if cerr := closeOutput(out); err == nil {
		err = cerr
	}
	if err != nil {
		return failure("writing schedule: %v", err)
	}
	return subcommands.ExitSuccess
}

type scheduleDump struct {
	Entries  []string   `yaml:"entries"`
	Paths    []pathDump `yaml:"paths"`
	Warnings []string   `yaml:"warnings,omitempty"`
}

type pathDump struct {
	Root   string     `yaml:"root"`
	Main   bool       `yaml:"main,omitempty"`
	Start  string     `yaml:"start,omitempty"`
	Chains [][]string `yaml:"chains,flow"`
}

func writeSchedule(w io.Writer, prog *program.Program, sched *schedule.Schedule) error {
	var d scheduleDump
	for _, e := range sched.Entries() {
		d.Entries = append(d.Entries, e.Name())
	}
	for _, tp := range sched.Paths() {
		pd := pathDump{Root: tp.Root.Name(), Main: tp.Main}
		if tp.Start != nil {
			pd.Start = prog.Position(tp.Start.Call.Pos()).String()
		}
		for _, chain := range tp.Chains {
			names := make([]string, len(chain))
			for i, fn := range chain {
				names[i] = fn.Name()
			}
			pd.Chains = append(pd.Chains, names)
		}
		d.Paths = append(d.Paths, pd)
	}
	for _, warn := range sched.Warnings() {
		d.Warnings = append(d.Warnings, warn.String())
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}
