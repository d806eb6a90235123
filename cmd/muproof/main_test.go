package main

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
	"github.com/akerouanton/muproof/pkg/verifier"
)

const src = `package main

import "sync"

type Counter struct {
	mu sync.Mutex
	//mu:atomic
	n int
	//mu:guarded_by mu
	hits int
}

func (c *Counter) inc() {
	c.mu.Lock()
	c.n++
	c.hits++
	c.mu.Unlock()
}

func (c *Counter) reset() {
	c.hits = 0
}

func main() {
	c := &Counter{}
	go c.inc()
	go c.reset()
}
`

func newVerifier(t *testing.T) *verifier.Verifier {
	t.Helper()
	prog, err := program.FromSource("main", map[string]string{"main.go": src})
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	v, err := verifier.New(context.Background(), prog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestAnnotated(t *testing.T) {
	v := newVerifier(t)
	want := []invariant.Invariant{
		invariant.NewAtomic("main", "Counter", "n"),
		invariant.NewGuardedBy("main", "Counter", "hits", "mu"),
	}
	if diff := cmp.Diff(want, annotated(v.Program())); diff != "" {
		t.Errorf("annotated() mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckAll(t *testing.T) {
	v := newVerifier(t)
	reports, err := checkAll(context.Background(), v, annotated(v.Program()), 2)
	if err != nil {
		t.Fatalf("checkAll: %v", err)
	}
	var got []verifier.Verdict
	for _, rep := range reports {
		got = append(got, rep.Verdict)
	}
	if diff := cmp.Diff([]verifier.Verdict{verifier.Holds, verifier.Unprotected}, got); diff != "" {
		t.Fatalf("verdicts mismatch (-want +got):\n%s", diff)
	}

	var text bytes.Buffer
	if err := writeText(&text, reports); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"atomic main.Counter.n: holds\n",
		"guarded_by main.Counter.hits by mu: unprotected\n",
		"does not hold Counter.mu",
	} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text output does not contain %q:\n%s", want, text.String())
		}
	}

	var js bytes.Buffer
	if err := writeJSON(&js, reports); err != nil {
		t.Fatal(err)
	}
	var decoded []struct {
		Invariant struct {
			Kind   string
			Member string
		} `json:"invariant"`
		Verdict string   `json:"verdict"`
		Locks   []string `json:"locks"`
	}
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[1].Verdict != "unprotected" || decoded[1].Invariant.Kind != "guarded_by" {
		t.Errorf("unexpected JSON output:\n%s", js.String())
	}
	if diff := cmp.Diff([]string{"Counter.mu"}, decoded[1].Locks); diff != "" {
		t.Errorf("JSON locks mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteSchedule(t *testing.T) {
	v := newVerifier(t)
	var buf bytes.Buffer
	if err := writeSchedule(&buf, v.Program(), v.ThreadSchedule()); err != nil {
		t.Fatal(err)
	}
	var d scheduleDump
	if err := yaml.Unmarshal(buf.Bytes(), &d); err != nil {
		t.Fatalf("decode YAML: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff([]string{"main.main"}, d.Entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	var roots []string
	for _, p := range d.Paths {
		roots = append(roots, p.Root)
		if !p.Main && p.Start == "" {
			t.Errorf("thread %s has no start site", p.Root)
		}
	}
	sort.Strings(roots)
	want := []string{"(*main.Counter).inc", "(*main.Counter).reset", "main.main"}
	if diff := cmp.Diff(want, roots); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
}

func TestListFlag(t *testing.T) {
	var l listFlag
	for _, v := range []string{"main.main", "a.Run, b.Serve", ""} {
		if err := l.Set(v); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff(listFlag{"main.main", "a.Run", "b.Serve"}, l); diff != "" {
		t.Errorf("listFlag mismatch (-want +got):\n%s", diff)
	}
}
