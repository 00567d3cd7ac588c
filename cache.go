package nfsidmap

import (
	"sync"
)

// Matcher reports whether a cached entry matches the key it was built for.
type Matcher[E any] func(entry *E) bool

// CacheOps are the per-kind operations the cache needs: allocate a blank
// entry, release one, and copy the fields of src onto dst.
type CacheOps[E any] struct {
	Alloc   func() (*E, error)
	Release func(entry *E)
	Copy    func(dst, src *E)
}

// Cache is a thread-safe list of entries searched linearly with a
// caller-supplied matcher. Entries are only removed by Clear.
type Cache[E any] struct {
	mu      sync.RWMutex
	ops     CacheOps[E]
	entries []*E
}

func NewCache[E any](ops CacheOps[E]) *Cache[E] {
	return &Cache[E]{ops: ops}
}

// Insert overwrites the first entry matching match with src, or adds a new
// entry when there is none.
func (c *Cache[E]) Insert(match Matcher[E], src *E) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.search(match); entry != nil {
		c.ops.Copy(entry, src)
		return nil
	}

	entry, err := c.ops.Alloc()
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrAllocation
	}

	c.ops.Copy(entry, src)
	c.entries = append(c.entries, entry)

	return nil
}

// Lookup returns a copy of the first entry matching match.
func (c *Cache[E]) Lookup(match Matcher[E]) (E, bool) {
	var out E

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry := c.search(match)
	if entry == nil {
		return out, false
	}

	c.ops.Copy(&out, entry)

	return out, true
}

func (c *Cache[E]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Clear releases every entry and empties the cache.
func (c *Cache[E]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ops.Release != nil {
		for _, entry := range c.entries {
			c.ops.Release(entry)
		}
	}

	c.entries = nil
}

// search walks newest first. Caller holds mu.
func (c *Cache[E]) search(match Matcher[E]) *E {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if match(c.entries[i]) {
			return c.entries[i]
		}
	}

	return nil
}
