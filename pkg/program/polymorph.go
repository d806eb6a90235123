package program

import (
	"go/ast"
	"go/types"
	"sort"
)

// Implementations returns the in-program named types implementing iface,
// as the value type when its method set suffices and as a pointer otherwise.
// The result is ordered by type name.
func (p *Program) Implementations(iface *types.Interface) []types.Type {
	var impls []types.Type
	for _, pkg := range p.Packages {
		scope := pkg.Types.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || tn.IsAlias() {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok || types.IsInterface(named) || named.TypeParams().Len() > 0 {
				continue
			}
			switch {
			case types.Implements(named, iface):
				impls = append(impls, named)
			case types.Implements(types.NewPointer(named), iface):
				impls = append(impls, types.NewPointer(named))
			}
		}
	}
	sort.Slice(impls, func(i, j int) bool { return impls[i].String() < impls[j].String() })
	return impls
}

// ResolveMethod returns the in-program body of the method name on recv, or
// nil if the method is promoted from outside the program or does not exist.
// pkg qualifies unexported names; it may be nil for exported ones.
func (p *Program) ResolveMethod(recv types.Type, pkg *types.Package, name string) *Func {
	obj, _, _ := types.LookupFieldOrMethod(recv, true, pkg, name)
	fn, ok := obj.(*types.Func)
	if !ok {
		return nil
	}
	return p.FuncOf(fn)
}

// CalleesOf returns the in-program bodies a call may execute: the static
// callee, or for an interface method call every in-program implementation.
func (p *Program) CalleesOf(call *ast.CallExpr) []*Func {
	cs := p.callSites[call]
	if cs == nil {
		return nil
	}
	if cs.Callee != nil {
		return []*Func{cs.Callee}
	}
	if !cs.Dynamic() {
		return nil
	}
	recv := cs.Target.Type().(*types.Signature).Recv().Type()
	iface, ok := recv.Underlying().(*types.Interface)
	if !ok {
		return nil
	}
	var out []*Func
	for _, impl := range p.Implementations(iface) {
		if fn := p.ResolveMethod(impl, cs.Target.Pkg(), cs.Target.Name()); fn != nil {
			out = append(out, fn)
		}
	}
	return out
}

// StaticCallee returns the in-program body a call statically targets, or nil.
func (p *Program) StaticCallee(call *ast.CallExpr) *Func {
	if cs := p.callSites[call]; cs != nil && !cs.Dynamic() {
		return cs.Callee
	}
	return nil
}
