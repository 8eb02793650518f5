// Package cache holds the in-process caches that sit in front of SQLite
// lookups. The only current user is session validation in internal/auth.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a fixed-size cache where entries also expire after a TTL.
// The zero value is not usable, call NewLRUCache.
type LRUCache[T any] struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	index map[string]*list.Element
	order *list.List // front = most recently used
}

type entry[T any] struct {
	key      string
	val      T
	deadline time.Time
}

func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	return &LRUCache[T]{
		max:   maxSize,
		ttl:   ttl,
		index: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Get returns the value for key if present and not expired. A hit
// refreshes the entry's recency but not its deadline.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.index[key]
	if !ok {
		return zero, false
	}
	e := elem.Value.(*entry[T])
	if time.Now().After(e.deadline) {
		c.remove(elem)
		return zero, false
	}

	c.order.MoveToFront(elem)
	return e.val, true
}

// Set stores a value under key with a fresh deadline, evicting the least
// recently used entries when the cache is full.
func (c *LRUCache[T]) Set(key string, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.ttl)
	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry[T])
		e.val = val
		e.deadline = deadline
		c.order.MoveToFront(elem)
		return
	}

	c.index[key] = c.order.PushFront(&entry[T]{key: key, val: val, deadline: deadline})
	for c.order.Len() > c.max {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
}

// Delete drops key from the cache. Missing keys are a no-op.
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.remove(elem)
	}
}

// CleanExpired drops every expired entry and reports how many went.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*entry[T]).deadline) {
			c.remove(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Size returns the number of stored entries, including any expired ones
// not yet swept.
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *LRUCache[T]) remove(elem *list.Element) {
	delete(c.index, elem.Value.(*entry[T]).key)
	c.order.Remove(elem)
}
