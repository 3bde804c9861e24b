// Package cache provides a generic, thread-safe LRU cache used by the
// engine for compiled artifacts (extractor regexes, schemas).
package cache

import (
	"container/list"
	"sync"

	"github.com/c360/eventflow/errors"
)

// Cache is a generic cache keyed by string.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new
	// entry was created, false if an existing one was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Clear removes all entries from the cache.
	Clear()

	// Size returns the current number of entries in the cache.
	Size() int
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Option configures cache construction.
type Option[V any] func(*lruCache[V])

// WithEvictionCallback installs a callback invoked on LRU eviction.
func WithEvictionCallback[V any](cb EvictCallback[V]) Option[V] {
	return func(c *lruCache[V]) { c.onEvict = cb }
}

type lruEntry[V any] struct {
	key   string
	value V
}

type lruCache[V any] struct {
	capacity int
	mu       sync.Mutex
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	onEvict  EvictCallback[V]
}

// NewLRU creates a least-recently-used cache holding at most capacity
// entries.
func NewLRU[V any](capacity int, opts ...Option[V]) (Cache[V], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "capacity validation")
	}
	c := &lruCache[V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[V]).value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Set", "key validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		entry := oldest.Value.(*lruEntry[V])
		delete(c.items, entry.key)
		if c.onEvict != nil {
			c.onEvict(entry.key, entry.value)
		}
	}
	return true, nil
}

func (c *lruCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

func (c *lruCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
