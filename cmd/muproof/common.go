package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/akerouanton/muproof/pkg/config"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/verifier"
)

// listFlag collects a repeated or comma separated flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// loadCommon is the set of flags shared by commands that load a program.
type loadCommon struct {
	Config   string
	Dir      string
	Entry    listFlag
	LogLevel string
}

func (c *loadCommon) setFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Config, "config", "", "configuration file, TOML or YAML (optional)")
	fs.StringVar(&c.Dir, "dir", ".", "directory the package patterns are relative to")
	fs.Var(&c.Entry, "entry", "entry point by full name, e.g. main.main (repeatable)")
	fs.StringVar(&c.LogLevel, "log-level", "", "log level, overrides the configuration")
}

// load reads the configuration, loads the packages matching patterns and
// builds a verifier for them.
func (c *loadCommon) load(ctx context.Context, patterns []string) (*config.Config, *verifier.Verifier, error) {
	cfg := &config.Config{}
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return nil, nil, err
		}
	}
	if len(c.Entry) > 0 {
		cfg.Entry = c.Entry
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	prog, err := program.Load(ctx, c.Dir, patterns,
		program.WithLogger(log),
		program.WithPure(cfg.Pure...),
		program.WithMutators(cfg.Mutators...))
	if err != nil {
		return nil, nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, nil, err
	}
	opts := []verifier.Option{
		verifier.WithLogger(log),
		verifier.WithEntry(cfg.Entry...),
		verifier.WithUnresolved(policy),
		verifier.WithTimeout(timeout),
	}
	if cfg.MaxDepth > 0 {
		opts = append(opts, verifier.WithMaxDepth(cfg.MaxDepth))
	}
	if cfg.MaxChains > 0 {
		opts = append(opts, verifier.WithMaxChains(cfg.MaxChains))
	}
	v, err := verifier.New(ctx, prog, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func newLogger(level string) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l), nil
}

// openOutput opens an output file, def when filename is empty or "-".
func openOutput(filename string, def *os.File) (*os.File, error) {
	if filename == "" || filename == "-" {
		return def, nil
	}
	return os.OpenFile(filename, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
}

// closeOutput closes an output unless it is stdout.
func closeOutput(w io.Writer) error {
	if w == os.Stdout {
		return nil
	}
	if c, ok := w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// failure prints the message and exits with failure.
func failure(format string, v ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	return subcommands.ExitFailure
}
