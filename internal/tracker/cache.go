package tracker

import (
	"sync"
	"time"
)

// Team metadata rarely changes during a sync run or an agent conversation,
// but the importer and the bulk tools look it up once per project or batch.
const (
	teamCacheSize = 64
	teamCacheTTL  = 5 * time.Minute
)

type entry[V any] struct {
	key     string
	val     V
	expires time.Time
	prev    *entry[V]
	next    *entry[V]
}

// teamCache is a bounded, thread-safe LRU of per-team lookups whose entries
// expire after a fixed TTL.
type teamCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*entry[V]
	head     *entry[V] // most recently used (sentinel)
	tail     *entry[V] // least recently used (sentinel)
}

func newTeamCache[V any](capacity int, ttl time.Duration) *teamCache[V] {
	head := &entry[V]{}
	tail := &entry[V]{}
	head.next = tail
	tail.prev = head
	return &teamCache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*entry[V], capacity),
		head:     head,
		tail:     tail,
	}
}

func (c *teamCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expires) {
		c.unlink(e)
		delete(c.items, key)
		var zero V
		return zero, false
	}
	c.unlink(e)
	c.pushFront(e)
	return e.val, true
}

func (c *teamCache[V]) put(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if e, ok := c.items[key]; ok {
		e.val, e.expires = val, expires
		c.unlink(e)
		c.pushFront(e)
		return
	}

	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.key)
	}
	e := &entry[V]{key: key, val: val, expires: expires}
	c.items[key] = e
	c.pushFront(e)
}

func (c *teamCache[V]) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.unlink(e)
		delete(c.items, key)
	}
}

func (c *teamCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// caller must hold mu
func (c *teamCache[V]) unlink(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

func (c *teamCache[V]) pushFront(e *entry[V]) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}
