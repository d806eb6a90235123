package pkgb

import (
	"sync"

	"crosspackage/pkga"
)

// reset writes an imported guarded field without holding its lock.
// Tests AtomicFact import.
func reset(s *pkga.Stats) {
	s.Count = 0 // want `Stats\.Count is written without holding Stats\.mu`
}

type Local struct {
	mu sync.Mutex
	//mu:atomic
	n int
}

// run hands a closure to an imported concurrent function, which does not
// run it under run's lock. Tests ConcurrentFact import.
func (l *Local) run() {
	l.mu.Lock()
	defer l.mu.Unlock()
	pkga.Spawn(func() {
		l.n++ // want `Local\.n is written without holding Local\.mu`
	})
	l.n++
}
