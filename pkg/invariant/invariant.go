// Package invariant declares the concurrency invariants the verifier checks
// and binds them to the types of a loaded program.
package invariant

import (
	"errors"
	"fmt"
	"go/types"
	"strings"

	"github.com/akerouanton/muproof/pkg/program"
)

var (
	// ErrAmbiguousInvariant is returned for invariants naming more than one
	// member or a nested member path.
	ErrAmbiguousInvariant = errors.New("ambiguous invariant")
	// ErrUnknownMember is returned when an invariant names a type or member
	// the program does not declare.
	ErrUnknownMember = errors.New("unknown member")
)

// Kind is the kind of an invariant.
type Kind int

const (
	// Atomic requires every write to the member to happen under consistently
	// ordered locks.
	Atomic Kind = iota
	// GuardedBy additionally requires a named lock to be held by every write.
	GuardedBy
)

func (k Kind) String() string {
	switch k {
	case Atomic:
		return "atomic"
	case GuardedBy:
		return "guarded_by"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseKind parses "atomic" or "guarded_by".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "atomic":
		return Atomic, nil
	case "guarded_by", "guardedby", "guarded-by":
		return GuardedBy, nil
	}
	return Atomic, fmt.Errorf("unknown invariant kind %q", s)
}

// Invariant is a declared invariant on one member of a named struct type.
type Invariant struct {
	Kind    Kind
	PkgPath string
	Type    string
	Member  string
	// Lock names the guarding lock of a GuardedBy invariant: a field of Type,
	// "Type.field" or "pkg.var".
	Lock string
}

// NewAtomic declares that writes to pkgPath.typeName.member are atomic.
func NewAtomic(pkgPath, typeName, member string) Invariant {
	return Invariant{Kind: Atomic, PkgPath: pkgPath, Type: typeName, Member: member}
}

// NewGuardedBy declares that writes to pkgPath.typeName.member hold lock.
func NewGuardedBy(pkgPath, typeName, member, lock string) Invariant {
	return Invariant{Kind: GuardedBy, PkgPath: pkgPath, Type: typeName, Member: member, Lock: lock}
}

func (inv Invariant) String() string {
	s := fmt.Sprintf("%s %s.%s.%s", inv.Kind, inv.PkgPath, inv.Type, inv.Member)
	if inv.Kind == GuardedBy {
		s += " by " + inv.Lock
	}
	return s
}

// Validate checks the declaration without looking at a program.
func (inv Invariant) Validate() error {
	if inv.Type == "" || inv.Member == "" {
		return fmt.Errorf("invariant %s: type and member are required", inv)
	}
	if strings.ContainsAny(inv.Member, ",.") || strings.ContainsAny(inv.Type, ", ") {
		return fmt.Errorf("%w: %s names more than one member", ErrAmbiguousInvariant, inv)
	}
	switch inv.Kind {
	case Atomic:
	case GuardedBy:
		if inv.Lock == "" {
			return fmt.Errorf("invariant %s: guarded_by needs a lock", inv)
		}
		if strings.Contains(inv.Lock, ",") {
			return fmt.Errorf("%w: %s names more than one lock", ErrAmbiguousInvariant, inv)
		}
	default:
		return fmt.Errorf("invariant %s: unknown kind", inv)
	}
	return nil
}

// Resolved is an invariant bound to the program's type information.
type Resolved struct {
	Invariant
	Named *types.Named
	Field *types.Var
	// LockName is the guarding lock's identity as the atomicity analysis
	// names locks; empty for Atomic.
	LockName string
}

// Resolve binds inv to prog.
func (inv Invariant) Resolve(prog *program.Program) (*Resolved, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	named := prog.LookupType(inv.PkgPath, inv.Type)
	if named == nil {
		return nil, fmt.Errorf("%w: type %s.%s", ErrUnknownMember, inv.PkgPath, inv.Type)
	}
	st, ok := named.Underlying().(*types.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s is not a struct", ErrUnknownMember, inv.PkgPath, inv.Type)
	}
	field := lookupField(st, inv.Member)
	if field == nil {
		return nil, fmt.Errorf("%w: %s.%s has no field %s", ErrUnknownMember, inv.PkgPath, inv.Type, inv.Member)
	}
	r := &Resolved{Invariant: inv, Named: named, Field: field}
	if inv.Kind == GuardedBy {
		name, err := lockName(st, inv.Type, inv.Lock)
		if err != nil {
			return nil, fmt.Errorf("invariant %s: %w", inv, err)
		}
		r.LockName = name
	}
	return r, nil
}

func lookupField(st *types.Struct, name string) *types.Var {
	for i := 0; i < st.NumFields(); i++ {
		if f := st.Field(i); f.Name() == name {
			return f
		}
	}
	return nil
}

// lockName turns a lock reference into its identity. A bare name must be a
// field of the guarded type.
func lockName(st *types.Struct, typeName, lock string) (string, error) {
	if strings.Contains(lock, ".") {
		return lock, nil
	}
	if lookupField(st, lock) == nil {
		return "", fmt.Errorf("%w: %s has no lock field %s", ErrUnknownMember, typeName, lock)
	}
	return typeName + "." + lock, nil
}
