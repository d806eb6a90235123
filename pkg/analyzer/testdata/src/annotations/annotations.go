package annotations

import "sync"

// --- //mu:ignore: suppresses all diagnostics in a function ---

type Ignored struct {
	mu sync.Mutex
	//mu:atomic
	n int
}

func (x *Ignored) Inc() {
	x.mu.Lock()
	x.n++
	x.mu.Unlock()
}

//mu:ignore
func (x *Ignored) reset() {
	x.n = 0 // no diagnostic: function is ignored
}

// --- //mu:nolint: suppresses diagnostic on the next line only ---

type Nolint struct {
	mu sync.Mutex
	//mu:atomic
	n int
}

func (x *Nolint) Inc() {
	x.mu.Lock()
	x.n++
	x.mu.Unlock()
}

func (x *Nolint) reset() {
	//mu:nolint
	x.n = 0 // no diagnostic: suppressed by nolint
}

// --- //mu:concurrent: the function also runs on its own thread ---

type Helper struct {
	mu sync.Mutex
	//mu:atomic
	n int
}

func (h *Helper) Locked() {
	h.mu.Lock()
	h.bump()
	h.mu.Unlock()
}

//mu:concurrent
func (h *Helper) bump() {
	h.n++ // want `Helper\.n is written without holding Helper\.mu`
}

// --- Without the annotation only the locked caller runs it ---

type Plain struct {
	mu sync.Mutex
	//mu:atomic
	n int
}

func (p *Plain) Locked() {
	p.mu.Lock()
	p.bump()
	p.mu.Unlock()
}

func (p *Plain) bump() {
	p.n++ // no diagnostic: only called with the lock held
}
