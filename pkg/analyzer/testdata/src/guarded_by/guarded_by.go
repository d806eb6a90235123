package guarded_by

import "sync"

// --- Consistent locking with the wrong lock still violates the guard ---

type Cache struct {
	mu    sync.Mutex
	other sync.Mutex
	//mu:guarded_by mu
	entries map[string]string
}

func (c *Cache) Put(k, v string) {
	c.other.Lock()
	c.entries[k] = v // want `Cache\.entries is written without holding Cache\.mu`
	c.other.Unlock()
}

func (c *Cache) Drop(k string) {
	c.mu.Lock()
	c.other.Lock()
	delete(c.entries, k)
	c.other.Unlock()
	c.mu.Unlock()
}

// --- Malformed directive ---

type Bad struct {
	mu sync.Mutex
	//mu:guarded_by // want `//mu:guarded_by takes exactly one lock name`
	n int
}
