package concurrent

import "sync"

// --- Locks held by callers protect the callee's writes ---

type Cache struct {
	mu sync.Mutex
	//mu:atomic
	data int
}

func (c *Cache) Store(v int) {
	c.mu.Lock()
	c.set(v)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(0)
}

func (c *Cache) set(v int) {
	c.data = v // no diagnostic: every caller holds Cache.mu
}

// --- A go statement does not carry the caller's locks ---

type Queue struct {
	mu sync.Mutex
	//mu:atomic
	size int
}

func (q *Queue) Push() {
	q.mu.Lock()
	q.size++
	go q.grow()
	q.mu.Unlock()
}

func (q *Queue) grow() {
	q.size *= 2 // want `Queue\.size is written without holding Queue\.mu`
}
