package lock_ordering

import "sync"

// --- Three writers, each consistent with its neighbours, close a cycle ---

type Ring struct {
	a, b, c sync.Mutex
	//mu:atomic
	n int // want `potential deadlock: lock order cycle Ring\.a -> Ring\.b -> Ring\.c -> Ring\.a`
}

func (r *Ring) ab() {
	r.a.Lock()
	r.b.Lock()
	r.n++
	r.b.Unlock()
	r.a.Unlock()
}

func (r *Ring) bc() {
	r.b.Lock()
	r.c.Lock()
	r.n++
	r.c.Unlock()
	r.b.Unlock()
}

func (r *Ring) ca() {
	r.c.Lock()
	r.a.Lock()
	r.n++
	r.a.Unlock()
	r.c.Unlock()
}
