package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/folio/internal/domain"
)

// ResourceCache is a per-book, per-path LRU of binary resources bounded by
// a memory budget, with one extra precondition on eviction: an entry whose
// refCount is above zero is never evicted, because a rendered section may
// still be displaying it. When no zero-ref candidate exists, Set still
// inserts and the budget is transiently exceeded.
type ResourceCache struct {
	mu sync.Mutex

	maxBytes   int64
	curBytes   int64
	idleExpiry time.Duration
	now        func() time.Time

	entries map[string]*list.Element
	order   *list.List // Front = least recently used

	logger *slog.Logger
	stats  Stats
}

type resourceEntry struct {
	key        string
	res        *domain.Resource
	size       int64
	refCount   int
	lastAccess time.Time
}

// ResourceCacheOption configures a ResourceCache.
type ResourceCacheOption func(*ResourceCache)

// WithResourceClock overrides the time source (tests).
func WithResourceClock(now func() time.Time) ResourceCacheOption {
	return func(c *ResourceCache) { c.now = now }
}

// NewResourceCache creates a cache bounded by budgetMB megabytes.
func NewResourceCache(budgetMB int, logger *slog.Logger, opts ...ResourceCacheOption) *ResourceCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResourceCache{
		maxBytes: int64(budgetMB) * 1024 * 1024,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func resourceKey(bookID, path string) string {
	return bookID + ":" + path
}

// Get returns the resource for (bookID, path) or nil, refreshing recency on
// a hit. refCount is not affected. Idle expiry never removes a pinned entry.
func (c *ResourceCache) Get(bookID, path string) *domain.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[resourceKey(bookID, path)]
	if !ok {
		c.stats.Misses++
		return nil
	}
	ent := elem.Value.(*resourceEntry)
	if ent.refCount == 0 && c.expireLocked(elem, ent) {
		c.stats.Misses++
		return nil
	}
	c.touchLocked(elem, ent)
	c.stats.Hits++
	return ent.res
}

// Has reports presence without refreshing recency.
func (c *ResourceCache) Has(bookID, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[resourceKey(bookID, path)]
	if !ok {
		return false
	}
	ent := elem.Value.(*resourceEntry)
	if ent.refCount == 0 && c.expireLocked(elem, ent) {
		return false
	}
	return true
}

// Set stores the resource and takes one reference on behalf of the
// materializing section. Re-setting a present key increments its refCount
// instead of duplicating storage (byte identity is content-stable for a
// path within a book version). Each Set must be paired with a Release.
func (c *ResourceCache) Set(res *domain.Resource) {
	if res == nil {
		return
	}
	key := resourceKey(res.BookID, res.Path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*resourceEntry)
		ent.refCount++
		c.touchLocked(elem, ent)
		return
	}

	ent := &resourceEntry{key: key, res: res, size: res.SizeBytes(), refCount: 1}
	if c.idleExpiry > 0 {
		ent.lastAccess = c.now()
	}
	c.entries[key] = c.order.PushBack(ent)
	c.curBytes += ent.size

	c.evictLocked()
}

// Acquire takes an additional reference on a present entry, reporting
// whether the entry existed.
func (c *ResourceCache) Acquire(bookID, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[resourceKey(bookID, path)]
	if !ok {
		return false
	}
	ent := elem.Value.(*resourceEntry)
	ent.refCount++
	c.touchLocked(elem, ent)
	return true
}

// Release drops one reference taken by Set/Acquire. The count never goes
// below zero; releasing an absent key is a no-op.
func (c *ResourceCache) Release(bookID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[resourceKey(bookID, path)]
	if !ok {
		return
	}
	ent := elem.Value.(*resourceEntry)
	if ent.refCount > 0 {
		ent.refCount--
	}
	if ent.refCount == 0 {
		c.evictLocked() // The entry just became a candidate; settle any overshoot
	}
}

// RefCount returns the current reference count for (bookID, path).
func (c *ResourceCache) RefCount(bookID, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[resourceKey(bookID, path)]; ok {
		return elem.Value.(*resourceEntry).refCount
	}
	return 0
}

// Remove drops the entry regardless of refCount. Reserved for explicit
// invalidation; normal teardown goes through Release.
func (c *ResourceCache) Remove(bookID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[resourceKey(bookID, path)]; ok {
		c.removeLocked(elem, elem.Value.(*resourceEntry))
	}
}

// ClearBook drops every entry belonging to bookID, including pinned ones
// (book-level clear outlives any render session).
func (c *ResourceCache) ClearBook(bookID string) {
	prefix := bookID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*resourceEntry)
		if len(ent.key) > len(prefix) && ent.key[:len(prefix)] == prefix {
			c.removeLocked(elem, ent)
		}
		elem = next
	}
}

// ClearAll empties the cache.
func (c *ResourceCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.curBytes = 0
}

// SetIdleExpiry sets the idle window in seconds; 0 disables expiry.
func (c *ResourceCache) SetIdleExpiry(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleExpiry = time.Duration(seconds) * time.Second
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		ent := elem.Value.(*resourceEntry)
		if c.idleExpiry > 0 {
			ent.lastAccess = c.now()
		} else {
			ent.lastAccess = time.Time{}
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (c *ResourceCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Bytes = c.curBytes
	s.BudgetBytes = c.maxBytes
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*resourceEntry).refCount > 0 {
			s.Pinned++
		}
	}
	return s
}

func (c *ResourceCache) expireLocked(elem *list.Element, ent *resourceEntry) bool {
	if c.idleExpiry <= 0 || c.now().Sub(ent.lastAccess) <= c.idleExpiry {
		return false
	}
	c.removeLocked(elem, ent)
	c.stats.Expirations++
	return true
}

func (c *ResourceCache) touchLocked(elem *list.Element, ent *resourceEntry) {
	c.order.MoveToBack(elem)
	if c.idleExpiry > 0 {
		ent.lastAccess = c.now()
	}
}

func (c *ResourceCache) removeLocked(elem *list.Element, ent *resourceEntry) {
	c.order.Remove(elem)
	delete(c.entries, ent.key)
	c.curBytes -= ent.size
}

// evictLocked drops the oldest zero-refCount entries until the budget
// holds. Pinned entries are skipped; when nothing is evictable the cache
// stays over budget rather than pulling a live resource out from under a
// rendered section.
func (c *ResourceCache) evictLocked() {
	elem := c.order.Front()
	for c.curBytes > c.maxBytes && elem != nil {
		next := elem.Next()
		ent := elem.Value.(*resourceEntry)
		if ent.refCount == 0 {
			c.removeLocked(elem, ent)
			c.stats.Evictions++
			c.logger.Debug("resource cache eviction", "key", ent.key, "size", ent.size)
		}
		elem = next
	}
}
