package schedule

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/program"
)

// starterMethods run their function argument on a new goroutine.
var starterMethods = map[string]bool{
	"(*golang.org/x/sync/errgroup.Group).Go":    true,
	"(*golang.org/x/sync/errgroup.Group).TryGo": true,
	"(*sync.WaitGroup).Go":                      true,
}

// start is a discovered thread start: the call site issuing it and its
// candidate bodies. Roots started by the runtime, such as HTTP handlers,
// have no site or a registering site that does not lead to them.
type start struct {
	site       *program.CallSite
	targets    []*program.Func
	unresolved bool
	runtime    bool
}

// detectStarts scans the program for concurrent entry points:
//   - functions launched via go statements
//   - functions passed to errgroup.Group.Go and sync.WaitGroup.Go
//   - ServeHTTP methods with the correct signature
//   - functions passed to http.HandleFunc / (*http.ServeMux).HandleFunc
func detectStarts(prog *program.Program) []start {
	var starts []start
	for _, fn := range prog.Funcs() {
		if isServeHTTPMethod(fn) {
			starts = append(starts, start{targets: []*program.Func{fn}})
		}
	}

	for _, cs := range prog.Calls() {
		switch {
		case cs.Go:
			starts = append(starts, goTargets(prog, cs))
		case cs.Target != nil && starterMethods[cs.Target.FullName()]:
			starts = append(starts, argTarget(prog, cs))
		case cs.Target != nil && isHTTPHandleFunc(cs.Target):
			s := argTarget(prog, cs)
			// The server, not the registering function, runs the handler.
			s.runtime = true
			starts = append(starts, s)
		}
	}
	return starts
}

// goTargets resolves the bodies a go statement may run.
func goTargets(prog *program.Program, cs *program.CallSite) start {
	s := start{site: cs}
	switch {
	case cs.Callee != nil:
		s.targets = []*program.Func{cs.Callee}
	case cs.Dynamic():
		s.targets = prog.CalleesOf(cs.Call)
	}
	s.unresolved = len(s.targets) == 0
	return s
}

// argTarget resolves the function passed as the last argument of cs.
func argTarget(prog *program.Program, cs *program.CallSite) start {
	s := start{site: cs}
	if len(cs.Call.Args) > 0 {
		if fn := funcValue(prog, cs.Call.Args[len(cs.Call.Args)-1]); fn != nil {
			s.targets = []*program.Func{fn}
		}
	}
	s.unresolved = len(s.targets) == 0
	return s
}

// funcValue resolves a function-valued expression to its body: a literal,
// a named function or a method value.
func funcValue(prog *program.Program, e ast.Expr) *program.Func {
	switch e := astutil.Unparen(e).(type) {
	case *ast.FuncLit:
		return prog.FuncByNode(e)
	case *ast.Ident:
		if fn, ok := prog.ObjectOf(e).(*types.Func); ok {
			return prog.FuncOf(fn)
		}
	case *ast.SelectorExpr:
		if fn, ok := prog.ObjectOf(e.Sel).(*types.Func); ok {
			return prog.FuncOf(fn)
		}
	}
	return nil
}

// isServeHTTPMethod returns true if fn is a method named ServeHTTP with
// signature (http.ResponseWriter, *http.Request).
func isServeHTTPMethod(fn *program.Func) bool {
	if fn.Obj == nil || fn.Obj.Name() != "ServeHTTP" || fn.Recv() == nil {
		return false
	}
	params := fn.Signature().Params()
	if params.Len() != 2 {
		return false
	}
	return isHTTPType(params.At(0).Type(), "ResponseWriter") && isHTTPRequestPtr(params.At(1).Type())
}

// isHTTPHandleFunc returns true if fn is net/http.HandleFunc or
// (*net/http.ServeMux).HandleFunc.
func isHTTPHandleFunc(fn *types.Func) bool {
	return fn.Name() == "HandleFunc" && fn.Pkg() != nil && fn.Pkg().Path() == "net/http"
}

func isHTTPRequestPtr(t types.Type) bool {
	ptr, ok := t.(*types.Pointer)
	return ok && isHTTPType(ptr.Elem(), "Request")
}

func isHTTPType(t types.Type, name string) bool {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "net/http" && obj.Name() == name
}

// defaultEntries returns main.main and the init functions of the program,
// or, when there is no main package, every top-level function nothing in
// the program calls.
func defaultEntries(prog *program.Program) []*program.Func {
	var entries []*program.Func
	for _, fn := range prog.Funcs() {
		if fn.Obj == nil || fn.Recv() != nil {
			continue
		}
		switch {
		case fn.Obj.Name() == "main" && fn.Pkg.Types.Name() == "main":
			entries = append(entries, fn)
		case fn.Obj.Name() == "init":
			entries = append(entries, fn)
		}
	}
	for _, e := range entries {
		if e.Obj.Name() == "main" {
			return entries
		}
	}

	entries = entries[:0]
	for _, fn := range prog.Funcs() {
		if fn.Lit != nil || len(prog.CallersOf(fn)) > 0 {
			continue
		}
		entries = append(entries, fn)
	}
	return entries
}
