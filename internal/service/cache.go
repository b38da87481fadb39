// Package service contains application services.
package service

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// listOutcome is the cached result of the list stages (denylist and
// allowlist) for one subject tuple. The list stages are pure functions of
// the policy snapshot and the request attributes, so they are safe to cache;
// the stateful rate and spending stages never are.
type listOutcome struct {
	// blocked is the non-allow decision produced by a list rule, or nil
	// when both list stages passed.
	blocked *blockedList
	// matchedPattern is the most specific allowlist pattern that matched.
	matchedPattern string
	// matchedRule is the allowlist rule owning matchedPattern, or -1.
	matchedRule int
}

// blockedList records which list rule blocked the subject and why.
type blockedList struct {
	ruleIndex int
	reason    string
}

// subjectCacheKey hashes the attribute tuple the list stages depend on.
func subjectCacheKey(agentID, walletAddress, ipAddress string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(agentID)
	_, _ = h.Write([]byte{0}) // separator
	_, _ = h.WriteString(walletAddress)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ipAddress)
	return h.Sum64()
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key     uint64
	outcome listOutcome
	prev    *lruEntry
	next    *lruEntry
}

// listCache provides bounded LRU caching for list-stage outcomes.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type listCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// newListCache creates a new LRU cache with the given max size.
func newListCache(maxSize int) *listCache {
	return &listCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached outcome. On hit, the entry is promoted to the head.
func (c *listCache) Get(key uint64) (listOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.outcome, true
	}
	return listOutcome{}, false
}

// Put stores an outcome. If at capacity, the least recently used entry is
// evicted.
func (c *listCache) Put(key uint64, outcome listOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.outcome = outcome
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, outcome: outcome}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on policy reload.
func (c *listCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *listCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *listCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *listCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *listCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *listCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
