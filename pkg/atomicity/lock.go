package atomicity

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/akerouanton/muproof/pkg/program"
)

// Lock is one acquisition of a lock, identified by its textual identity:
// "Type.field" for struct-field locks, "pkg.var" for package-level locks
// and the expression text otherwise.
type Lock struct {
	Name   string
	Pos    token.Pos // where it was acquired
	Shared bool      // RLock
}

func (l Lock) String() string { return l.Name }

// lockState tracks the locks held at a program point in acquisition order.
type lockState struct {
	held []Lock
}

func newLockState() *lockState {
	return &lockState{}
}

// lock appends l to the held locks. Re-acquiring a held lock keeps the first
// acquisition.
func (ls *lockState) lock(l Lock) {
	if ls.isHeld(l.Name) {
		return
	}
	ls.held = append(ls.held, l)
}

// unlock removes a lock from the held set.
func (ls *lockState) unlock(name string) {
	for i, h := range ls.held {
		if h.Name == name {
			ls.held = append(ls.held[:i:i], ls.held[i+1:]...)
			return
		}
	}
}

func (ls *lockState) isHeld(name string) bool {
	for _, h := range ls.held {
		if h.Name == name {
			return true
		}
	}
	return false
}

// heldLocks returns the held locks, outermost first.
func (ls *lockState) heldLocks() []Lock {
	return append([]Lock(nil), ls.held...)
}

// isMutexType reports whether t is sync.Mutex, sync.RWMutex, or a named type
// whose pointer method set has Lock() and Unlock().
func isMutexType(t types.Type) bool {
	if p, ok := t.(*types.Pointer); ok {
		t = p.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	if obj.Pkg() != nil && obj.Pkg().Path() == "sync" {
		return obj.Name() == "Mutex" || obj.Name() == "RWMutex"
	}
	ms := types.NewMethodSet(types.NewPointer(named))
	return hasNiladic(ms, "Lock") && hasNiladic(ms, "Unlock")
}

func hasNiladic(ms *types.MethodSet, name string) bool {
	for i := 0; i < ms.Len(); i++ {
		fn, ok := ms.At(i).Obj().(*types.Func)
		if !ok || fn.Name() != name {
			continue
		}
		sig := fn.Type().(*types.Signature)
		return sig.Params().Len() == 0 && sig.Results().Len() == 0
	}
	return false
}

// isLockMethod returns true if the method name is a lock/unlock operation.
func isLockMethod(name string) bool {
	switch name {
	case "Lock", "Unlock", "RLock", "RUnlock":
		return true
	}
	return false
}

// isLockAcquire returns true if the method acquires a lock.
func isLockAcquire(name string) bool {
	return name == "Lock" || name == "RLock"
}

// lockCall recognizes x.Lock(), x.Unlock() and their shared variants, with x
// a lock or a struct embedding one. It returns the lock's identity and the
// method name.
func lockCall(prog *program.Program, call *ast.CallExpr) (name, method string, ok bool) {
	fun, isSel := astutil.Unparen(call.Fun).(*ast.SelectorExpr)
	if !isSel || !isLockMethod(fun.Sel.Name) || len(call.Args) != 0 {
		return "", "", false
	}
	info := prog.Info(call)
	if info == nil {
		return "", "", false
	}
	sel := info.Selections[fun]
	if sel == nil || sel.Kind() != types.MethodVal {
		return "", "", false
	}
	method = fun.Sel.Name
	if isMutexType(sel.Recv()) {
		return lockName(prog, info, fun.X), method, true
	}
	// Promoted through an embedded lock: s.Lock() locks s.Mutex.
	if len(sel.Index()) < 2 {
		return "", "", false
	}
	st, isStruct := deref(sel.Recv()).Underlying().(*types.Struct)
	if !isStruct {
		return "", "", false
	}
	field := st.Field(sel.Index()[0])
	if !field.Anonymous() || !isMutexType(field.Type()) {
		return "", "", false
	}
	if named := program.NamedOf(sel.Recv()); named != nil {
		return named.Obj().Name() + "." + field.Name(), method, true
	}
	return types.ExprString(fun.X) + "." + field.Name(), method, true
}

// lockName returns the identity of the lock denoted by x.
func lockName(prog *program.Program, info *types.Info, x ast.Expr) string {
	x = astutil.Unparen(x)
	switch e := x.(type) {
	case *ast.StarExpr:
		return lockName(prog, info, e.X)
	case *ast.UnaryExpr:
		if e.Op == token.AND {
			return lockName(prog, info, e.X)
		}
	case *ast.SelectorExpr:
		sel := info.Selections[e]
		if sel == nil {
			// Qualified identifier: pkg.mu.
			return qualified(info.ObjectOf(e.Sel))
		}
		if sel.Kind() == types.FieldVal {
			if named := fieldOwner(sel); named != nil {
				return named.Obj().Name() + "." + e.Sel.Name
			}
		}
	case *ast.Ident:
		if v, ok := info.ObjectOf(e).(*types.Var); ok && v.Pkg() != nil && v.Parent() == v.Pkg().Scope() {
			return qualified(v)
		}
	}
	return types.ExprString(x)
}

// fieldOwner returns the named struct declaring the selected field.
func fieldOwner(sel *types.Selection) *types.Named {
	t := sel.Recv()
	idx := sel.Index()
	for _, i := range idx[:len(idx)-1] {
		st, ok := deref(t).Underlying().(*types.Struct)
		if !ok {
			return nil
		}
		t = st.Field(i).Type()
	}
	return program.NamedOf(t)
}

func qualified(obj types.Object) string {
	if obj == nil {
		return ""
	}
	if obj.Pkg() == nil {
		return obj.Name()
	}
	path := obj.Pkg().Path()
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path + "." + obj.Name()
}

func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}
