package program

import (
	"go/types"
	"strings"
)

// IsConstructorLike reports whether fn looks like a constructor for named:
// an init function, a function returning the type (or a pointer to it), or a
// New/Make/Create function whose name contains the type name.
func (p *Program) IsConstructorLike(fn *Func, named *types.Named) bool {
	for fn.Outer != nil {
		fn = fn.Outer
	}
	if fn.Obj == nil {
		return false
	}
	if fn.Obj.Name() == "init" && fn.Recv() == nil {
		return true
	}
	if fn.Recv() == nil && returnsType(fn.Signature(), named) {
		return true
	}

	typeName := named.Obj().Name()
	name := fn.Obj.Name()
	for _, prefix := range []string{"New", "Make", "Create"} {
		if strings.HasPrefix(name, prefix) && strings.Contains(name, typeName) {
			return true
		}
	}
	return false
}

// returnsType reports whether sig returns named or a pointer to it.
func returnsType(sig *types.Signature, named *types.Named) bool {
	if sig == nil {
		return false
	}
	results := sig.Results()
	for i := 0; i < results.Len(); i++ {
		if n := namedOf(results.At(i).Type()); n != nil && n.Origin() == named.Origin() {
			return true
		}
	}
	return false
}
