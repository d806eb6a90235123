package invariant

import (
	"errors"
	"go/ast"
	"go/token"
	"go/types"
	"strings"
)

const (
	atomicDirective    = "mu:atomic"
	guardedByDirective = "mu:guarded_by"
)

// ErrBadDirective is returned for a //mu:guarded_by directive without
// exactly one lock name.
var ErrBadDirective = errors.New("//mu:guarded_by takes exactly one lock name")

// DirectiveError is a malformed directive.
type DirectiveError struct {
	Pos token.Pos
	Err error
}

func (e *DirectiveError) Error() string { return e.Err.Error() }

func (e *DirectiveError) Unwrap() error { return e.Err }

// Annotation is an invariant declared by a directive on a struct field.
type Annotation struct {
	Invariant
	Named *types.Named
	Field *types.Var
}

// ParseDirective parses a field comment such as "//mu:guarded_by mu". ok is
// false when the comment is not a field directive. A trailing comment on the
// same line is not part of the directive.
func ParseDirective(comment string) (kind Kind, lock string, ok bool, err error) {
	text := strings.TrimSpace(strings.TrimPrefix(comment, "//"))
	if i := strings.Index(text, "//"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	switch {
	case IsDirective(text, atomicDirective):
		return Atomic, "", true, nil
	case IsDirective(text, guardedByDirective):
		args := strings.Fields(strings.TrimPrefix(text, guardedByDirective))
		if len(args) != 1 {
			return GuardedBy, "", false, ErrBadDirective
		}
		return GuardedBy, args[0], true, nil
	}
	return Atomic, "", false, nil
}

// IsDirective reports whether text, stripped of its comment marker, is the
// directive name, possibly followed by arguments.
func IsDirective(text, name string) bool {
	return text == name || strings.HasPrefix(text, name+" ")
}

// Annotated returns the invariants declared by field directives in files.
// Generic types are skipped. Malformed directives are returned as
// *DirectiveError.
func Annotated(pkg *types.Package, info *types.Info, files []*ast.File) ([]Annotation, []error) {
	var (
		out  []Annotation
		errs []error
	)
	for _, file := range files {
		ast.Inspect(file, func(n ast.Node) bool {
			spec, ok := n.(*ast.TypeSpec)
			if !ok {
				return true
			}
			st, ok := spec.Type.(*ast.StructType)
			if !ok {
				return true
			}
			tn, ok := info.Defs[spec.Name].(*types.TypeName)
			if !ok {
				return true
			}
			named, ok := tn.Type().(*types.Named)
			if !ok || named.TypeParams().Len() > 0 {
				return true
			}
			for _, field := range st.Fields.List {
				for _, cg := range []*ast.CommentGroup{field.Doc, field.Comment} {
					if cg == nil {
						continue
					}
					for _, c := range cg.List {
						kind, lock, ok, err := ParseDirective(c.Text)
						if err != nil {
							errs = append(errs, &DirectiveError{Pos: c.Pos(), Err: err})
						}
						if !ok {
							continue
						}
						for _, id := range field.Names {
							v, ok := info.Defs[id].(*types.Var)
							if !ok {
								continue
							}
							inv := NewAtomic(pkg.Path(), tn.Name(), v.Name())
							if kind == GuardedBy {
								inv = NewGuardedBy(pkg.Path(), tn.Name(), v.Name(), lock)
							}
							out = append(out, Annotation{Invariant: inv, Named: named, Field: v})
						}
					}
				}
			}
			return true
		})
	}
	return out, errs
}
