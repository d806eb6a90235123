package pkga

import "sync"

type Stats struct { // want Stats:`AtomicFact\{Count->mu\}`
	mu sync.Mutex
	//mu:guarded_by mu
	Count int
}

func (s *Stats) Inc() {
	s.mu.Lock()
	s.Count++
	s.mu.Unlock()
}

// Spawn runs f on its own goroutine.
//
//mu:concurrent
func Spawn(f func()) { // want Spawn:`ConcurrentFact`
	go f()
}

// Gauge mixes exported and unexported atomic fields; importers only see
// Value.
type Gauge struct { // want Gauge:`AtomicFact\{Value\}`
	mu sync.Mutex
	//mu:atomic
	Value int
	//mu:atomic
	last int
}

func (g *Gauge) Set(v int) {
	g.mu.Lock()
	g.last = g.Value
	g.Value = v
	g.mu.Unlock()
}
