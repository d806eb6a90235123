package analyzer

import (
	"errors"
	"go/ast"
	"go/token"
	"strings"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
)

// annotations holds parsed comment directives for the current package.
type annotations struct {
	fields     []invariant.Annotation
	concurrent map[*program.Func]bool  // functions marked //mu:concurrent
	ignored    map[*program.Func]bool  // functions marked //mu:ignore
	nolint     map[string]map[int]bool // filename → set of suppressed line numbers
}

// parseAnnotations scans all comment groups in the package's AST files and
// populates ctx.annotations with directive information.
func (ctx *passContext) parseAnnotations() {
	ann := &annotations{
		concurrent: make(map[*program.Func]bool),
		ignored:    make(map[*program.Func]bool),
		nolint:     make(map[string]map[int]bool),
	}

	fset := ctx.pass.Fset

	for _, file := range ctx.pass.Files {
		// Build a list of func decls in declaration order for this file.
		var funcDecls []*ast.FuncDecl
		for _, decl := range file.Decls {
			if fd, ok := decl.(*ast.FuncDecl); ok {
				funcDecls = append(funcDecls, fd)
			}
		}

		for _, cg := range file.Comments {
			for _, comment := range cg.List {
				text := strings.TrimSpace(strings.TrimPrefix(comment.Text, "//"))

				switch {
				case invariant.IsDirective(text, "mu:concurrent"):
					if fn := ctx.findFuncForComment(fset, funcDecls, comment.Pos()); fn != nil {
						ann.concurrent[fn] = true
					}

				case invariant.IsDirective(text, "mu:ignore"):
					if fn := ctx.findFuncForComment(fset, funcDecls, comment.Pos()); fn != nil {
						ann.ignored[fn] = true
					}

				case invariant.IsDirective(text, "mu:nolint"):
					pos := fset.Position(comment.Pos())
					filename := pos.Filename
					suppressedLine := pos.Line + 1
					if ann.nolint[filename] == nil {
						ann.nolint[filename] = make(map[int]bool)
					}
					ann.nolint[filename][suppressedLine] = true
				}
			}
		}
	}

	fields, errs := invariant.Annotated(ctx.pass.Pkg, ctx.pass.TypesInfo, ctx.pass.Files)
	for _, err := range errs {
		var de *invariant.DirectiveError
		if errors.As(err, &de) {
			ctx.pass.Reportf(de.Pos, "%v", de.Err)
		}
	}
	ann.fields = fields

	ctx.annotations = ann
	for _, a := range ann.fields {
		ctx.targets = append(ctx.targets, target{inv: a.Invariant, name: a.Type + "." + a.Member, pos: a.Field.Pos()})
	}
}

// findFuncForComment finds the function declaration that contains or
// immediately follows the comment at commentPos.
func (ctx *passContext) findFuncForComment(fset *token.FileSet, funcDecls []*ast.FuncDecl, commentPos token.Pos) *program.Func {
	commentLine := fset.Position(commentPos).Line

	// Find the function decl whose start line is on or just after the comment line.
	// The comment should be either inside the func or immediately above it.
	var best *ast.FuncDecl
	for _, fd := range funcDecls {
		fdLine := fset.Position(fd.Pos()).Line
		// Comment is on the line immediately before or on the same line as the func decl.
		if fdLine >= commentLine && fdLine <= commentLine+1 {
			best = fd
			break
		}
		// Comment is inside the function body.
		if fd.Body != nil && commentPos >= fd.Pos() && commentPos <= fd.Body.End() {
			best = fd
			break
		}
	}

	if best == nil {
		return nil
	}

	return ctx.prog.FuncByNode(best)
}

// isSuppressed returns true if reporting should be suppressed at pos, either
// because the enclosing function has //mu:ignore or the line has //mu:nolint
// on the preceding line.
func (ctx *passContext) isSuppressed(pos token.Pos) bool {
	if ctx.annotations == nil || !pos.IsValid() {
		return false
	}
	for fn := ctx.funcAt(pos); fn != nil; fn = fn.Outer {
		if ctx.annotations.ignored[fn] {
			return true
		}
	}
	p := ctx.pass.Fset.Position(pos)
	if lines, ok := ctx.annotations.nolint[p.Filename]; ok {
		if lines[p.Line] {
			return true
		}
	}
	return false
}

// funcAt returns the innermost function containing pos.
func (ctx *passContext) funcAt(pos token.Pos) *program.Func {
	var best *program.Func
	for _, fn := range ctx.prog.Funcs() {
		if !fn.Contains(pos) {
			continue
		}
		if best == nil || fn.Node().Pos() > best.Node().Pos() {
			best = fn
		}
	}
	return best
}
