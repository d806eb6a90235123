package schedule_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/schedule"
)

const mainSrc = `package main

type worker interface{ run() }

type a struct{}

func (a) run() { helper() }

func helper() {}

func dead() { go helper() }

func spawn(w worker) {
	go w.run()
}

func loop(n int) {
	if n > 0 {
		loop(n - 1)
	}
}

func main() {
	var f func()
	go loop(3)
	go f()
	spawn(a{})
	func() {
		go helper()
	}()
}
`

func load(t *testing.T, path, src string) *program.Program {
	t.Helper()
	prog, err := program.FromSource(path, map[string]string{"src.go": src})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	return prog
}

func names(fns []*program.Func) []string {
	out := make([]string, len(fns))
	for i, fn := range fns {
		out[i] = fn.Name()
	}
	return out
}

func TestBuild(t *testing.T) {
	prog := load(t, "main", mainSrc)
	s, err := schedule.Build(context.Background(), prog, schedule.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var paths []string
	chains := make(map[string][][]string)
	for _, tp := range s.Paths() {
		paths = append(paths, tp.String())
		for _, c := range tp.Chains {
			chains[tp.String()] = append(chains[tp.String()], names(c))
		}
	}
	wantPaths := []string{
		"main:main.main",
		"thread:(main.a).run",
		"thread:main.loop",
		"thread:main.helper",
	}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Errorf("Paths() mismatch (-want +got):\n%s", diff)
	}
	wantChains := map[string][][]string{
		"main:main.main":      {{"main.main"}},
		"thread:(main.a).run": {{"main.main", "main.spawn", "(main.a).run"}},
		"thread:main.loop":    {{"main.main", "main.loop"}},
		"thread:main.helper":  {{"main.main", "main.main$1", "main.helper"}},
	}
	if diff := cmp.Diff(wantChains, chains); diff != "" {
		t.Errorf("chains mismatch (-want +got):\n%s", diff)
	}

	warnings := s.Warnings()
	if len(warnings) != 1 || !errors.Is(warnings[0].Err, schedule.ErrUnresolvedSymbol) {
		t.Errorf("Warnings() = %v, want one unresolved symbol", warnings)
	}
}

func TestQueries(t *testing.T) {
	prog := load(t, "main", mainSrc)
	s, err := schedule.Build(context.Background(), prog, schedule.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fn := prog.LookupFunc

	for name, want := range map[string]bool{
		"main.helper": true,
		"main.spawn":  true,
		"main.dead":   false,
	} {
		if got := s.Contains(fn(name)); got != want {
			t.Errorf("Contains(%s) = %v, want %v", name, got, want)
		}
	}
	for name, want := range map[string]bool{
		"main.helper": true,
		"main.spawn":  false,
	} {
		if got := s.Concurrent(fn(name)); got != want {
			t.Errorf("Concurrent(%s) = %v, want %v", name, got, want)
		}
	}

	mainPath := s.Paths()[0]
	var via []string
	for _, cs := range s.PathTo(mainPath, fn("main.helper")) {
		via = append(via, cs.Caller.Name())
	}
	if diff := cmp.Diff([]string{"main.main", "main.main$1"}, via); diff != "" {
		t.Errorf("PathTo(main, helper) mismatch (-want +got):\n%s", diff)
	}
	if got := s.PathTo(mainPath, fn("main.dead")); got != nil {
		t.Errorf("PathTo(main, dead) = %v, want nil", got)
	}
}

func TestBuildAbort(t *testing.T) {
	prog := load(t, "main", mainSrc)
	_, err := schedule.Build(context.Background(), prog, schedule.Options{Unresolved: schedule.Abort})
	if !errors.Is(err, schedule.ErrUnresolvedSymbol) {
		t.Fatalf("Build() error = %v, want %v", err, schedule.ErrUnresolvedSymbol)
	}
}

func TestBuildLibrary(t *testing.T) {
	prog := load(t, "lib", `package lib

func Exported() { go inner() }

func inner() {}
`)
	s, err := schedule.Build(context.Background(), prog, schedule.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"lib.Exported"}, names(s.Entries())); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
	if got := len(s.Paths()); got != 2 {
		t.Errorf("len(Paths()) = %d, want 2", got)
	}

	_, err = schedule.Build(context.Background(), prog, schedule.Options{Entry: []string{"lib.Missing"}})
	if !errors.Is(err, schedule.ErrNoEntryPoint) {
		t.Errorf("Build() error = %v, want %v", err, schedule.ErrNoEntryPoint)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]schedule.UnresolvedPolicy{
		"":        schedule.Exclude,
		"exclude": schedule.Exclude,
		"ABORT":   schedule.Abort,
	} {
		got, err := schedule.ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := schedule.ParsePolicy("ignore"); err == nil {
		t.Errorf("ParsePolicy(ignore) succeeded")
	}
}
