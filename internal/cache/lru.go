package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a size-bounded map whose entries also expire ttl after they were
// last written. Reads refresh recency, not expiry.
type LRU[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	index map[K]*list.Element
	order *list.List // front is most recently used
}

type entry[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		size:  capacity,
		ttl:   ttl,
		now:   time.Now,
		index: make(map[K]*list.Element, capacity),
		order: list.New(),
	}
}

func (c *LRU[K, V]) Get(key K) (v V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el := c.index[key]
	if el == nil {
		return v, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e, c.now()) {
		c.drop(el)
		return v, false
	}
	c.order.MoveToFront(el)
	return e.val, true
}

func (c *LRU[K, V]) Set(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el := c.index[key]; el != nil {
		e := el.Value.(*entry[K, V])
		e.val, e.expires = val, expires
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(&entry[K, V]{key: key, val: val, expires: expires})
	for c.order.Len() > c.size {
		c.drop(c.order.Back())
	}
}

func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el := c.index[key]; el != nil {
		c.drop(el)
	}
}

// CleanExpired drops every expired entry and reports how many went.
func (c *LRU[K, V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[K, V]), now) {
			c.drop(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return now.After(e.expires)
}

func (c *LRU[K, V]) drop(el *list.Element) {
	delete(c.index, el.Value.(*entry[K, V]).key)
	c.order.Remove(el)
}
