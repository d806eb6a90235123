package reach

import (
	"sync"

	"github.com/akerouanton/muproof/pkg/reference"
)

// Verdict is the settled answer for a pair of references.
type Verdict struct {
	Common bool
	// Ref is the shared value when Common is set.
	Ref reference.Reference
}

type pairKey struct{ a, b string }

func keyOf(a, b reference.Reference) pairKey {
	ka, kb := a.Key(), b.Key()
	if kb < ka {
		ka, kb = kb, ka
	}
	return pairKey{ka, kb}
}

// Cache holds settled verdicts for unordered pairs of references. An entry
// is written once and never replaced.
type Cache struct {
	mu sync.Mutex
	m  map[pairKey]Verdict
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{m: make(map[pairKey]Verdict)}
}

// Lookup returns the verdict settled for the pair, in either order.
func (c *Cache) Lookup(a, b reference.Reference) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[keyOf(a, b)]
	return v, ok
}

// Store settles the verdict for the pair unless one already exists, and
// returns the verdict in effect.
func (c *Cache) Store(a, b reference.Reference, v Verdict) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := keyOf(a, b)
	if old, ok := c.m[k]; ok {
		return old
	}
	c.m[k] = v
	return v
}

// Len returns the number of settled pairs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
