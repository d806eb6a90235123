package analyzer

import (
	"fmt"
	"go/ast"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/program"
)

// AtomicFact is exported as an analysis.Fact attached to *types.TypeName.
// It records the annotated fields of a struct and their guarding lock, empty
// for //mu:atomic fields.
type AtomicFact struct {
	Fields map[string]string // field name → lock field name
}

func (*AtomicFact) AFact() {}

func (f *AtomicFact) String() string {
	// Produce sorted output for determinism.
	names := make([]string, 0, len(f.Fields))
	for name := range f.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name
		if lock := f.Fields[name]; lock != "" {
			parts[i] += "->" + lock
		}
	}
	return fmt.Sprintf("AtomicFact{%s}", strings.Join(parts, " "))
}

// ConcurrentFact is exported as an analysis.Fact attached to *types.Func.
// It marks a function whose function-valued arguments run concurrently.
type ConcurrentFact struct{}

func (*ConcurrentFact) AFact() {}

func (*ConcurrentFact) String() string { return "ConcurrentFact" }

// importFacts imports upstream facts for types and functions used in this package.
// Skipped when the analyzer has no registered FactTypes (e.g. single-package tests).
func (ctx *passContext) importFacts() {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	ctx.importAtomicFacts()
	ctx.importConcurrentFacts()
}

// importAtomicFacts turns the AtomicFacts of imported struct types into
// targets when this package uses the annotated fields.
func (ctx *passContext) importAtomicFacts() {
	for _, imp := range ctx.pass.Pkg.Imports() {
		scope := imp.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok {
				continue
			}
			var fact AtomicFact
			if !ctx.pass.ImportObjectFact(tn, &fact) {
				continue
			}
			st, ok := tn.Type().Underlying().(*types.Struct)
			if !ok {
				continue
			}
			fields := make([]string, 0, len(fact.Fields))
			for f := range fact.Fields {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			for _, f := range fields {
				if !ctx.usesField(st, f) {
					continue
				}
				inv := invariant.NewAtomic(imp.Path(), tn.Name(), f)
				if lock := fact.Fields[f]; lock != "" {
					inv = invariant.NewGuardedBy(imp.Path(), tn.Name(), f, lock)
				}
				ctx.targets = append(ctx.targets, target{inv: inv, name: tn.Name() + "." + f})
			}
		}
	}
}

func (ctx *passContext) usesField(st *types.Struct, name string) bool {
	for i := 0; i < st.NumFields(); i++ {
		if f := st.Field(i); f.Name() == name {
			return len(ctx.prog.Uses(f)) > 0
		}
	}
	return false
}

// importConcurrentFacts makes the functions passed to imported concurrent
// functions thread roots.
func (ctx *passContext) importConcurrentFacts() {
	seen := make(map[*types.Func]bool)
	for _, cs := range ctx.prog.Calls() {
		target := cs.Target
		if target == nil || target.Pkg() == nil || target.Pkg() == ctx.pass.Pkg {
			continue
		}
		concurrent, ok := seen[target]
		if !ok {
			var fact ConcurrentFact
			concurrent = ctx.pass.ImportObjectFact(target, &fact)
			seen[target] = concurrent
		}
		if !concurrent {
			continue
		}
		for _, arg := range cs.Call.Args {
			if fn := ctx.funcValue(arg); fn != nil {
				ctx.importedRoots[fn] = true
			}
		}
	}
}

// funcValue resolves a function-valued argument to its body.
func (ctx *passContext) funcValue(e ast.Expr) *program.Func {
	switch e := astutil.Unparen(e).(type) {
	case *ast.FuncLit:
		return ctx.prog.FuncByNode(e)
	case *ast.Ident:
		if fn, ok := ctx.prog.ObjectOf(e).(*types.Func); ok {
			return ctx.prog.FuncOf(fn)
		}
	case *ast.SelectorExpr:
		if fn, ok := ctx.prog.ObjectOf(e.Sel).(*types.Func); ok {
			return ctx.prog.FuncOf(fn)
		}
	}
	return nil
}

// exportFacts exports facts for types and functions defined in this package.
// Skipped when the analyzer has no registered FactTypes (e.g. single-package tests).
func (ctx *passContext) exportFacts() {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	ctx.exportAtomicFacts()
	ctx.exportConcurrentFacts()
}

// exportAtomicFacts groups field directives by struct type and exports
// AtomicFact for exported types. Unexported fields are left out: no
// importer can write them.
func (ctx *passContext) exportAtomicFacts() {
	byType := make(map[*types.TypeName]map[string]string)
	var order []*types.TypeName
	for _, a := range ctx.annotations.fields {
		obj := a.Named.Obj()
		if obj.Pkg() != ctx.pass.Pkg || !obj.Exported() {
			continue
		}
		if !a.Field.Exported() {
			continue
		}
		if byType[obj] == nil {
			byType[obj] = make(map[string]string)
			order = append(order, obj)
		}
		byType[obj][a.Member] = a.Lock
	}

	for _, obj := range order {
		ctx.pass.ExportObjectFact(obj, &AtomicFact{Fields: byType[obj]})
	}
}

// exportConcurrentFacts exports ConcurrentFact for exported functions
// annotated //mu:concurrent.
func (ctx *passContext) exportConcurrentFacts() {
	for fn := range ctx.annotations.concurrent {
		if fn.Obj == nil {
			continue
		}
		if fn.Obj.Pkg() != ctx.pass.Pkg {
			continue
		}
		if !fn.Obj.Exported() {
			continue
		}
		ctx.pass.ExportObjectFact(fn.Obj, &ConcurrentFact{})
	}
}
