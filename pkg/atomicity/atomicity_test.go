package atomicity_test

import (
	"context"
	"go/types"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akerouanton/muproof/pkg/atomicity"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/prover"
	"github.com/akerouanton/muproof/pkg/reach"
	"github.com/akerouanton/muproof/pkg/reference"
	"github.com/akerouanton/muproof/pkg/schedule"
)

const src = `package main

import "sync"

type Bank struct {
	mu     sync.Mutex
	audit  sync.Mutex
	total  int
	count  int
	log    []string
	events int
	spare  int
}

func NewBank() *Bank {
	b := &Bank{}
	b.total = 0
	return b
}

func (b *Bank) deposit(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audit.Lock()
	b.total += n
	b.audit.Unlock()
}

func (b *Bank) withdraw(n int) {
	b.audit.Lock()
	b.mu.Lock()
	b.total -= n
	b.mu.Unlock()
	b.audit.Unlock()
}

func (b *Bank) incr() {
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
}

func (b *Bank) reset() {
	b.count = 0
}

func (b *Bank) record(s string) {
	b.log = append(b.log, s)
}

func (b *Bank) open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("open")
}

func (b *Bank) close() {
	b.mu.Lock()
	b.record("close")
	b.mu.Unlock()
}

func (b *Bank) spawn() {
	b.mu.Lock()
	go b.touch()
	b.mu.Unlock()
}

func (b *Bank) touch() {
	b.events++
}

func (b *Bank) bump() {
	b.mu.Lock()
	b.events++
	b.mu.Unlock()
}

func main() {
	b := NewBank()
	other := NewBank()
	go b.deposit(1)
	go b.withdraw(1)
	go b.incr()
	go b.reset()
	go b.open()
	go b.close()
	go b.spawn()
	go b.bump()

	b.mu.Lock()
	b.spare = 1
	b.mu.Unlock()
	other.spare = 2
}
`

type fixture struct {
	prog     *program.Program
	analyzer *atomicity.Analyzer
}

func setup(t *testing.T) fixture {
	t.Helper()
	prog, err := program.FromSource("main", map[string]string{"main.go": src})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	sched, err := schedule.Build(context.Background(), prog, schedule.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tracker := reference.NewTracker(prog, sched, nil)
	r := reach.New(prog, tracker, prover.New(prog))
	return fixture{prog: prog, analyzer: atomicity.New(prog, sched, r)}
}

func (f fixture) analyze(t *testing.T, member string) *atomicity.Result {
	t.Helper()
	st := f.prog.LookupType("main", "Bank").Underlying().(*types.Struct)
	for i := 0; i < st.NumFields(); i++ {
		if st.Field(i).Name() == member {
			res, err := f.analyzer.Analyze(context.Background(), st.Field(i))
			if err != nil {
				t.Fatalf("Analyze(%s): %v", member, err)
			}
			return res
		}
	}
	t.Fatalf("no field %s", member)
	return nil
}

func chains(w *atomicity.Write) [][]string {
	var out [][]string
	for _, c := range w.Chains {
		names := []string{}
		for _, l := range c {
			names = append(names, l.Name)
		}
		out = append(out, names)
	}
	return out
}

func TestDeadlock(t *testing.T) {
	f := setup(t)
	res := f.analyze(t, "total")
	if !res.Deadlock() {
		t.Fatalf("no deadlock reported for total")
	}
	got := []string{res.FirstDeadlockLock.Name, res.SecondDeadlockLock.Name}
	if diff := cmp.Diff([]string{"Bank.mu", "Bank.audit"}, got); diff != "" {
		t.Errorf("deadlock locks mismatch (-want +got):\n%s", diff)
	}
	if len(res.Writes) != 2 {
		t.Errorf("got %d writes, want 2 (the constructor store is ignored)", len(res.Writes))
	}
}

func TestUnprotectedWrite(t *testing.T) {
	f := setup(t)
	res := f.analyze(t, "count")
	if res.Deadlock() {
		t.Fatalf("unexpected deadlock %s/%s", res.FirstDeadlockLock, res.SecondDeadlockLock)
	}
	if res.UnmatchedLock == nil || res.UnmatchedLock.Name != "Bank.mu" {
		t.Fatalf("UnmatchedLock = %v, want Bank.mu", res.UnmatchedLock)
	}
	if res.UnmatchedSite.Func.Name() != "(*main.Bank).reset" {
		t.Errorf("UnmatchedSite in %s, want reset", res.UnmatchedSite.Func.Name())
	}
}

func TestCallerLocks(t *testing.T) {
	f := setup(t)
	res := f.analyze(t, "log")
	if res.Violation() {
		t.Fatalf("unexpected violation: %+v", res)
	}
	if len(res.Writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(res.Writes))
	}
	if diff := cmp.Diff([][]string{{"Bank.mu"}}, chains(res.Writes[0])); diff != "" {
		t.Errorf("chains of record mismatch (-want +got):\n%s", diff)
	}
	if got := res.Unguarded("Bank.mu"); len(got) != 0 {
		t.Errorf("Unguarded(Bank.mu) = %d writes, want none", len(got))
	}
	if got := res.Unguarded("Bank.audit"); len(got) != 1 {
		t.Errorf("Unguarded(Bank.audit) = %d writes, want 1", len(got))
	}
}

func TestGoStatementDropsLocks(t *testing.T) {
	f := setup(t)
	res := f.analyze(t, "events")
	if res.UnmatchedLock == nil || res.UnmatchedLock.Name != "Bank.mu" {
		t.Fatalf("UnmatchedLock = %v, want Bank.mu", res.UnmatchedLock)
	}
	if diff := cmp.Diff([][]string{{}}, chains(res.UnmatchedSite)); diff != "" {
		t.Errorf("chains of touch mismatch (-want +got):\n%s", diff)
	}
}

func TestDistinctInstances(t *testing.T) {
	f := setup(t)
	res := f.analyze(t, "spare")
	if res.Violation() {
		t.Errorf("writes to distinct banks reported: unmatched %v", res.UnmatchedLock)
	}
	if len(res.Writes) != 2 {
		t.Errorf("got %d writes, want 2", len(res.Writes))
	}
}
