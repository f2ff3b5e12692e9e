package cache

import (
	"fmt"
	"sync"

	"github.com/burrowdb/burrow/pkg/types"
)

// Loader faults a missing entry in from its backing store.
type Loader[K comparable, V any] func(key K) (V, error)

// Releaser is invoked when an entry's last reference is dropped or the
// cache is closed; it writes the entry back if needed.
type Releaser[K comparable, V any] func(key K, value V)

// Cache is a bounded, reference-counted cache. Entries stay resident
// while pinned; dropping the last pin releases the entry back to its
// store. Concurrent gets for a key being faulted in wait for the
// in-flight load instead of issuing a duplicate read.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
	refs    map[K]uint32
	loading map[K]chan struct{}
	count   int
	limit   int // 0 means unbounded

	load    Loader[K, V]
	release Releaser[K, V]
}

// New creates a cache holding at most limit entries; limit 0 removes
// the bound.
func New[K comparable, V any](limit int, load Loader[K, V], release Releaser[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]V),
		refs:    make(map[K]uint32),
		loading: make(map[K]chan struct{}),
		limit:   limit,
		load:    load,
		release: release,
	}
}

// Get returns the entry for key, faulting it in if absent. The caller
// holds a pin until the matching Release.
func (c *Cache[K, V]) Get(key K) (V, error) {
	var zero V
	for {
		c.mu.Lock()
		if ch, ok := c.loading[key]; ok {
			// Another goroutine is faulting this key in; wait for it.
			c.mu.Unlock()
			<-ch
			continue
		}
		if v, ok := c.entries[key]; ok {
			c.refs[key]++
			c.mu.Unlock()
			return v, nil
		}
		if c.limit > 0 && c.count >= c.limit {
			c.mu.Unlock()
			return zero, types.ErrCacheFull
		}
		ch := make(chan struct{})
		c.loading[key] = ch
		c.count++
		c.mu.Unlock()

		v, err := c.load(key)

		c.mu.Lock()
		delete(c.loading, key)
		close(ch)
		if err != nil {
			c.count--
			c.mu.Unlock()
			return zero, fmt.Errorf("cache load: %w", err)
		}
		c.entries[key] = v
		c.refs[key] = 1
		c.mu.Unlock()
		return v, nil
	}
}

// Release drops one pin on key. When the last pin goes, the entry is
// handed to the releaser and evicted.
func (c *Cache[K, V]) Release(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.refs[key]
	if !ok {
		return
	}
	if n--; n > 0 {
		c.refs[key] = n
		return
	}
	v := c.entries[key]
	if c.release != nil {
		c.release(key, v)
	}
	delete(c.entries, key)
	delete(c.refs, key)
	c.count--
}

// Close releases every resident entry regardless of pins. Callers must
// have quiesced by the time Close runs.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, v := range c.entries {
		if c.release != nil {
			c.release(key, v)
		}
		delete(c.entries, key)
		delete(c.refs, key)
	}
	c.count = 0
}

// Len reports the number of resident entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
