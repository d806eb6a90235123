package deadlock

import "sync"

// --- Two writers acquire the same pair of locks in opposite orders ---

type Pair struct {
	a, b sync.Mutex
	//mu:atomic
	v int
}

func (p *Pair) Forward() {
	p.a.Lock()
	p.b.Lock()
	p.v++ // want `potential deadlock writing Pair\.v: Pair\.a and Pair\.b are acquired in opposite orders`
	p.b.Unlock()
	p.a.Unlock()
}

func (p *Pair) Backward() {
	p.b.Lock()
	p.a.Lock()
	p.v-- // want `potential deadlock writing Pair\.v: Pair\.a and Pair\.b are acquired in opposite orders`
	p.a.Unlock()
	p.b.Unlock()
}

// --- Same order everywhere: no diagnostic ---

type Ordered struct {
	a, b sync.Mutex
	//mu:atomic
	v int
}

func (o *Ordered) First() {
	o.a.Lock()
	o.b.Lock()
	o.v++
	o.b.Unlock()
	o.a.Unlock()
}

func (o *Ordered) Second() {
	o.a.Lock()
	defer o.a.Unlock()
	o.b.Lock()
	defer o.b.Unlock()
	o.v--
}
