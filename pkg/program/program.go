// Package program is the syntax and semantic model the verifier reasons
// about: type-checked Go packages plus an index of functions, call sites,
// identifier uses and composite literals across the whole program.
package program

import (
	"go/ast"
	"go/token"
	"go/types"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/types/typeutil"
)

// Package is one type-checked package of the analyzed program.
type Package struct {
	Path  string
	Types *types.Package
	Info  *types.Info
	Files []*ast.File
}

// Func is a function body of the analyzed program: a declared function or
// method, or a function literal.
type Func struct {
	Obj   *types.Func // nil for function literals
	Decl  *ast.FuncDecl
	Lit   *ast.FuncLit
	Pkg   *Package
	Outer *Func // enclosing function of a literal

	name string
}

// Node returns the declaring syntax node.
func (f *Func) Node() ast.Node {
	if f.Decl != nil {
		return f.Decl
	}
	return f.Lit
}

// Body returns the function body, or nil for external declarations.
func (f *Func) Body() *ast.BlockStmt {
	if f.Decl != nil {
		return f.Decl.Body
	}
	return f.Lit.Body
}

// Pos returns the position of the function name, or of the func keyword for
// literals.
func (f *Func) Pos() token.Pos {
	if f.Decl != nil {
		return f.Decl.Name.Pos()
	}
	return f.Lit.Pos()
}

// Name returns a human readable name such as "pkg.F", "(*pkg.T).M" or
// "pkg.F$1" for the first literal inside F.
func (f *Func) Name() string { return f.name }

func (f *Func) String() string { return f.name }

// Signature returns the function's type.
func (f *Func) Signature() *types.Signature {
	if f.Obj != nil {
		sig, _ := f.Obj.Type().(*types.Signature)
		return sig
	}
	sig, _ := f.Pkg.Info.TypeOf(f.Lit).(*types.Signature)
	return sig
}

// Recv returns the receiver variable of a method, or nil.
func (f *Func) Recv() *types.Var {
	if sig := f.Signature(); sig != nil {
		return sig.Recv()
	}
	return nil
}

// Param returns the index of v among the function's parameters, or -1.
func (f *Func) Param(v *types.Var) int {
	sig := f.Signature()
	if sig == nil {
		return -1
	}
	for i := 0; i < sig.Params().Len(); i++ {
		if sig.Params().At(i) == v {
			return i
		}
	}
	return -1
}

// Contains reports whether pos lies inside the function's syntax.
func (f *Func) Contains(pos token.Pos) bool {
	n := f.Node()
	return n.Pos() <= pos && pos < n.End()
}

// CallSite is a call expression together with its resolved caller and callee.
type CallSite struct {
	Call   *ast.CallExpr
	Caller *Func
	Callee *Func       // nil when the callee has no body in the program
	Target *types.Func // static or abstract callee object, nil for dynamic calls
	Go     bool        // launched by a go statement
	Defer  bool        // launched by a defer statement
}

// Dynamic reports whether the call goes through an interface method.
func (cs *CallSite) Dynamic() bool {
	if cs.Target == nil {
		return false
	}
	sig, ok := cs.Target.Type().(*types.Signature)
	if !ok || sig.Recv() == nil {
		return false
	}
	return types.IsInterface(sig.Recv().Type())
}

// Program is a loaded, indexed program. It is read-only once built.
type Program struct {
	Fset     *token.FileSet
	Packages []*Package

	log *logrus.Entry

	byFile    map[*token.File]*Package
	funcs     []*Func
	byObj     map[*types.Func]*Func
	byNode    map[ast.Node]*Func
	parents   map[ast.Node]ast.Node
	calls     []*CallSite
	callSites map[*ast.CallExpr]*CallSite
	callers   map[*Func][]*CallSite
	uses      map[types.Object][]*ast.Ident
	lits      map[*types.Named][]*ast.CompositeLit

	extraPure     map[string]bool
	extraMutators map[string]bool
	purity        map[*Func]purity
	mutating      map[*types.Func]purity
}

// Option configures a Program.
type Option func(*Program)

// WithLogger sets the logger used for indexing traces.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Program) { p.log = log }
}

// WithPure declares functions (by full name, e.g. "pkg.F" or "(*pkg.T).M")
// to be side-effect free.
func WithPure(names ...string) Option {
	return func(p *Program) {
		for _, n := range names {
			p.extraPure[n] = true
		}
	}
}

// WithMutators declares methods (by full name, e.g. "(*pkg.T).Push") that
// mutate their receiver.
func WithMutators(names ...string) Option {
	return func(p *Program) {
		for _, n := range names {
			p.extraMutators[n] = true
		}
	}
}

// New indexes the given packages.
func New(fset *token.FileSet, pkgs []*Package, opts ...Option) *Program {
	p := &Program{
		Fset:          fset,
		Packages:      pkgs,
		log:           logrus.NewEntry(logrus.StandardLogger()),
		byFile:        make(map[*token.File]*Package),
		byObj:         make(map[*types.Func]*Func),
		byNode:        make(map[ast.Node]*Func),
		parents:       make(map[ast.Node]ast.Node),
		callSites:     make(map[*ast.CallExpr]*CallSite),
		callers:       make(map[*Func][]*CallSite),
		uses:          make(map[types.Object][]*ast.Ident),
		lits:          make(map[*types.Named][]*ast.CompositeLit),
		extraPure:     make(map[string]bool),
		extraMutators: make(map[string]bool),
		purity:        make(map[*Func]purity),
		mutating:      make(map[*types.Func]purity),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			if tf := fset.File(file.Pos()); tf != nil {
				p.byFile[tf] = pkg
			}
			p.indexParents(file)
		}
	}
	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			p.indexFuncs(pkg, file)
		}
	}
	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			p.indexRefs(pkg, file)
		}
	}

	// Computed once here so that concurrent readers never write the memos.
	p.analyzeEffects()

	p.log.WithFields(logrus.Fields{
		"packages": len(pkgs),
		"funcs":    len(p.funcs),
		"calls":    len(p.calls),
	}).Debug("program indexed")
	return p
}

// indexParents records the parent of every node below the file.
func (p *Program) indexParents(file *ast.File) {
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		n := c.Node()
		if n == nil {
			return false
		}
		if _, isFile := n.(*ast.File); !isFile {
			p.parents[n] = c.Parent()
		}
		return true
	}, nil)
}

// indexFuncs registers every declared function and function literal.
func (p *Program) indexFuncs(pkg *Package, file *ast.File) {
	litCount := make(map[*Func]int)
	ast.Inspect(file, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncDecl:
			fn := &Func{Decl: n, Pkg: pkg}
			if obj, ok := pkg.Info.Defs[n.Name].(*types.Func); ok {
				fn.Obj = obj
				fn.name = obj.FullName()
				p.byObj[obj] = fn
			} else {
				fn.name = pkg.Path + "." + n.Name.Name
			}
			p.byNode[n] = fn
			p.funcs = append(p.funcs, fn)
		case *ast.FuncLit:
			outer := p.EnclosingFunc(n)
			fn := &Func{Lit: n, Pkg: pkg, Outer: outer}
			if outer != nil {
				top := outer
				for top.Outer != nil {
					top = top.Outer
				}
				litCount[top]++
				fn.name = top.name + "$" + strconv.Itoa(litCount[top])
			} else {
				fn.name = pkg.Path + ".func"
			}
			p.byNode[n] = fn
			p.funcs = append(p.funcs, fn)
		}
		return true
	})
}

// indexRefs records call sites, identifier uses and composite literals.
func (p *Program) indexRefs(pkg *Package, file *ast.File) {
	ast.Inspect(file, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.Ident:
			if obj := pkg.Info.Uses[n]; obj != nil {
				p.uses[obj] = append(p.uses[obj], n)
			}
		case *ast.CompositeLit:
			if named := namedOf(pkg.Info.TypeOf(n)); named != nil {
				p.lits[named.Origin()] = append(p.lits[named.Origin()], n)
			}
		case *ast.CallExpr:
			p.indexCall(pkg, n)
		}
		return true
	})
}

func (p *Program) indexCall(pkg *Package, call *ast.CallExpr) {
	caller := p.EnclosingFunc(call)
	if caller == nil {
		// Package-level initializers have no enclosing function.
		return
	}
	cs := &CallSite{Call: call, Caller: caller}
	switch parent := p.parents[call].(type) {
	case *ast.GoStmt:
		cs.Go = parent.Call == call
	case *ast.DeferStmt:
		cs.Defer = parent.Call == call
	}
	if lit, ok := astutil.Unparen(call.Fun).(*ast.FuncLit); ok {
		cs.Callee = p.byNode[lit]
	} else if target, ok := typeutil.Callee(pkg.Info, call).(*types.Func); ok {
		cs.Target = target
		cs.Callee = p.byObj[target.Origin()]
	}
	p.calls = append(p.calls, cs)
	p.callSites[call] = cs
	if cs.Callee != nil {
		p.callers[cs.Callee] = append(p.callers[cs.Callee], cs)
	}
}

// Funcs returns every function of the program in source order.
func (p *Program) Funcs() []*Func { return p.funcs }

// Calls returns every call site of the program in source order.
func (p *Program) Calls() []*CallSite { return p.calls }

// FuncOf returns the function declaring obj, or nil if its body is not part
// of the program.
func (p *Program) FuncOf(obj *types.Func) *Func {
	if obj == nil {
		return nil
	}
	return p.byObj[obj.Origin()]
}

// FuncByNode returns the function for a *ast.FuncDecl or *ast.FuncLit.
func (p *Program) FuncByNode(n ast.Node) *Func { return p.byNode[n] }

// LookupFunc finds a package-level function or method by its full name, as
// returned by types.Func.FullName.
func (p *Program) LookupFunc(fullName string) *Func {
	for _, fn := range p.funcs {
		if fn.Obj != nil && fn.Obj.FullName() == fullName {
			return fn
		}
	}
	return nil
}

// Parent returns the syntactic parent of n.
func (p *Program) Parent(n ast.Node) ast.Node { return p.parents[n] }

// EnclosingFunc returns the innermost function whose syntax strictly
// contains n.
func (p *Program) EnclosingFunc(n ast.Node) *Func {
	for parent := p.parents[n]; parent != nil; parent = p.parents[parent] {
		switch parent.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
			return p.byNode[parent]
		}
	}
	return nil
}

// CallSite returns the indexed call site for call, or nil.
func (p *Program) CallSite(call *ast.CallExpr) *CallSite { return p.callSites[call] }

// CallersOf returns every call site whose callee is fn.
func (p *Program) CallersOf(fn *Func) []*CallSite { return p.callers[fn] }

// Uses returns every identifier referring to obj.
func (p *Program) Uses(obj types.Object) []*ast.Ident { return p.uses[obj] }

// CompositeLits returns every composite literal of the named type.
func (p *Program) CompositeLits(named *types.Named) []*ast.CompositeLit {
	return p.lits[named.Origin()]
}

// PackageOf returns the package containing pos, or nil.
func (p *Program) PackageOf(pos token.Pos) *Package {
	if tf := p.Fset.File(pos); tf != nil {
		return p.byFile[tf]
	}
	return nil
}

// Info returns the type information of the package containing n.
func (p *Program) Info(n ast.Node) *types.Info {
	if pkg := p.PackageOf(n.Pos()); pkg != nil {
		return pkg.Info
	}
	return nil
}

// ObjectOf returns the object an identifier defines or uses.
func (p *Program) ObjectOf(id *ast.Ident) types.Object {
	if info := p.Info(id); info != nil {
		return info.ObjectOf(id)
	}
	return nil
}

// TypeOf returns the type of an expression, or nil.
func (p *Program) TypeOf(e ast.Expr) types.Type {
	if info := p.Info(e); info != nil {
		return info.TypeOf(e)
	}
	return nil
}

// Position converts pos to a file position.
func (p *Program) Position(pos token.Pos) token.Position { return p.Fset.Position(pos) }

// LookupType finds a named type declared at package level, in the
// program's packages or in a package they import.
func (p *Program) LookupType(pkgPath, name string) *types.Named {
	var scope *types.Scope
	for _, pkg := range p.Packages {
		if pkg.Path == pkgPath {
			scope = pkg.Types.Scope()
			break
		}
		for _, imp := range pkg.Types.Imports() {
			if imp.Path() == pkgPath {
				scope = imp.Scope()
			}
		}
	}
	if scope == nil {
		return nil
	}
	tn, ok := scope.Lookup(name).(*types.TypeName)
	if !ok {
		return nil
	}
	named, _ := tn.Type().(*types.Named)
	return named
}

// Contains reports whether pkg is one of the program's packages.
func (p *Program) Contains(pkg *types.Package) bool {
	for _, own := range p.Packages {
		if own.Types == pkg {
			return true
		}
	}
	return false
}

// namedOf strips pointers and returns the named type, if any.
func namedOf(t types.Type) *types.Named {
	if t == nil {
		return nil
	}
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, _ := types.Unalias(t).(*types.Named)
	return named
}

// NamedOf strips pointers and returns the named type of t, if any.
func NamedOf(t types.Type) *types.Named { return namedOf(t) }
