package invariant_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		comment string
		kind    invariant.Kind
		lock    string
		ok      bool
		err     error
	}{
		{comment: "//mu:atomic", kind: invariant.Atomic, ok: true},
		{comment: "// mu:atomic", kind: invariant.Atomic, ok: true},
		{comment: "//mu:guarded_by mu", kind: invariant.GuardedBy, lock: "mu", ok: true},
		{comment: "//mu:guarded_by mu // want", kind: invariant.GuardedBy, lock: "mu", ok: true},
		{comment: "//mu:guarded_by", kind: invariant.GuardedBy, err: invariant.ErrBadDirective},
		{comment: "//mu:guarded_by a b", kind: invariant.GuardedBy, err: invariant.ErrBadDirective},
		{comment: "//mu:atomically", kind: invariant.Atomic},
		{comment: "// protected by mu", kind: invariant.Atomic},
	}
	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			kind, lock, ok, err := invariant.ParseDirective(tt.comment)
			if !errors.Is(err, tt.err) {
				t.Fatalf("ParseDirective() error = %v, want %v", err, tt.err)
			}
			if kind != tt.kind || lock != tt.lock || ok != tt.ok {
				t.Errorf("ParseDirective() = %s, %q, %t, want %s, %q, %t", kind, lock, ok, tt.kind, tt.lock, tt.ok)
			}
		})
	}
}

const annotatedSrc = `package store

import "sync"

type Store struct {
	mu sync.Mutex
	//mu:atomic
	size int
	//mu:guarded_by mu
	items, spare []string
	free int // mu:atomic
	//mu:guarded_by
	bad int
}

type Box[T any] struct {
	//mu:atomic
	v T
}
`

func TestAnnotated(t *testing.T) {
	prog, err := program.FromSource("store", map[string]string{"store.go": annotatedSrc})
	if err != nil {
		t.Fatal(err)
	}
	pkg := prog.Packages[0]
	got, errs := invariant.Annotated(pkg.Types, pkg.Info, pkg.Files)

	var invs []invariant.Invariant
	for _, a := range got {
		if a.Named.Obj().Name() != a.Type || a.Field.Name() != a.Member {
			t.Errorf("annotation %s bound to %s.%s", a.Invariant, a.Named.Obj().Name(), a.Field.Name())
		}
		invs = append(invs, a.Invariant)
	}
	want := []invariant.Invariant{
		invariant.NewAtomic("store", "Store", "size"),
		invariant.NewGuardedBy("store", "Store", "items", "mu"),
		invariant.NewGuardedBy("store", "Store", "spare", "mu"),
		invariant.NewAtomic("store", "Store", "free"),
	}
	if diff := cmp.Diff(want, invs); diff != "" {
		t.Errorf("Annotated() mismatch (-want +got):\n%s", diff)
	}

	if len(errs) != 1 {
		t.Fatalf("Annotated() returned %d errors, want 1", len(errs))
	}
	var de *invariant.DirectiveError
	if !errors.As(errs[0], &de) || !errors.Is(errs[0], invariant.ErrBadDirective) {
		t.Errorf("Annotated() error = %v, want a DirectiveError for ErrBadDirective", errs[0])
	}
	if line := prog.Position(de.Pos).Line; line != 12 {
		t.Errorf("directive error on line %d, want 12", line)
	}
}
