package verbose

import "sync"

// --- A condition the prover cannot translate leaves the pair undecided ---

type Box struct {
	mu sync.Mutex
	//mu:atomic
	v int // want `could not verify Box\.v: .*unsupported type assertion in condition`
}

var global = &Box{}

func fill(x any) {
	b := &Box{}
	if x.(string) == "" {
		b = global
	}
	b.mu.Lock()
	b.v++
	b.mu.Unlock()
}

func touch() {
	global.mu.Lock()
	global.v = 1
	global.mu.Unlock()
}
