package basic

import "sync"

type Counter struct {
	mu sync.Mutex
	//mu:atomic
	count int
	hits  int
}

func NewCounter() *Counter {
	c := &Counter{}
	c.count = 1 // no diagnostic: constructor
	return c
}

func (c *Counter) Inc() {
	c.mu.Lock()
	c.count++
	c.hits++
	c.mu.Unlock()
}

func (c *Counter) Get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Counter) Reset() {
	c.count = 0 // want `Counter\.count is written without holding Counter\.mu`
	c.hits = 0  // no diagnostic: hits is not annotated
}
