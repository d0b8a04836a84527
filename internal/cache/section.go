// Package cache holds the in-memory tier: a per-book, per-index section
// cache and a per-book, per-path resource cache. Both evict by memory
// budget; the resource cache additionally refuses to evict entries that are
// referenced by a rendered section.
package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/folio/internal/domain"
)

// SectionCache is a per-book, per-index LRU of section snapshots bounded by
// a memory budget. Reads refresh recency; when idle expiry is enabled, a
// read that finds a stale entry removes it and reports a miss.
type SectionCache struct {
	mu sync.Mutex

	maxBytes   int64
	curBytes   int64
	idleExpiry time.Duration // 0 = disabled
	now        func() time.Time

	entries map[string]*list.Element
	order   *list.List // Front = least recently used

	logger *slog.Logger
	stats  Stats
}

type sectionEntry struct {
	key        string
	snap       *domain.SectionSnapshot
	size       int64
	lastAccess time.Time // Zero value while idle expiry is disabled
}

// SectionCacheOption configures a SectionCache.
type SectionCacheOption func(*SectionCache)

// WithSectionClock overrides the time source (tests).
func WithSectionClock(now func() time.Time) SectionCacheOption {
	return func(c *SectionCache) { c.now = now }
}

// NewSectionCache creates a cache bounded by budgetMB megabytes.
func NewSectionCache(budgetMB int, logger *slog.Logger, opts ...SectionCacheOption) *SectionCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &SectionCache{
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

func sectionKey(bookID string, index int) string {
	return fmt.Sprintf("%s:%d", bookID, index)
}

// Get returns the snapshot for (bookID, index) or nil on a miss, refreshing
// recency on a hit. Idle expiry is evaluated before the recency update:
// an expired entry is removed and counts as a miss.
func (c *SectionCache) Get(bookID string, index int) *domain.SectionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sectionKey(bookID, index)]
	if !ok {
		c.stats.Misses++
		return nil
	}
	ent := elem.Value.(*sectionEntry)
	if c.expireLocked(elem, ent) {
		c.stats.Misses++
		return nil
	}
	c.touchLocked(elem, ent)
	c.stats.Hits++
	return ent.snap
}

// Has reports whether (bookID, index) is cached without refreshing recency.
// An idle-expired entry is removed and reported missing.
func (c *SectionCache) Has(bookID string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sectionKey(bookID, index)]
	if !ok {
		return false
	}
	return !c.expireLocked(elem, elem.Value.(*sectionEntry))
}

// Set inserts or replaces the snapshot for its (bookID, index) key. A
// replaced entry's size is subtracted before the incoming size is added;
// least-recently-used entries are then evicted until the budget holds. Set
// always succeeds, even when the single entry exceeds the whole budget.
func (c *SectionCache) Set(snap *domain.SectionSnapshot) {
	if snap == nil {
		return
	}
	key := sectionKey(snap.BookID, snap.Index)
	size := snap.SizeBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		old := elem.Value.(*sectionEntry)
		c.curBytes -= old.size
		old.snap = snap
		old.size = size
		c.curBytes += size
		c.touchLocked(elem, old)
	} else {
		ent := &sectionEntry{key: key, snap: snap, size: size}
		if c.idleExpiry > 0 {
			ent.lastAccess = c.now()
		}
		c.entries[key] = c.order.PushBack(ent)
		c.curBytes += size
	}

	c.evictLocked(key)
}

// Remove drops the entry for (bookID, index) if present.
func (c *SectionCache) Remove(bookID string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[sectionKey(bookID, index)]; ok {
		c.removeLocked(elem, elem.Value.(*sectionEntry))
	}
}

// ClearBook drops every entry belonging to bookID.
func (c *SectionCache) ClearBook(bookID string) {
	prefix := bookID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*sectionEntry)
		if len(ent.key) > len(prefix) && ent.key[:len(prefix)] == prefix {
			c.removeLocked(elem, ent)
		}
		elem = next
	}
}

// ClearAll empties the cache.
func (c *SectionCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.curBytes = 0
}

// SetIdleExpiry sets the idle window in seconds; 0 disables expiry and pins
// access times at zero. Enabling stamps existing entries as accessed now so
// they are not retroactively expired.
func (c *SectionCache) SetIdleExpiry(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleExpiry = time.Duration(seconds) * time.Second
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		ent := elem.Value.(*sectionEntry)
		if c.idleExpiry > 0 {
			ent.lastAccess = c.now()
		} else {
			ent.lastAccess = time.Time{}
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (c *SectionCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Bytes = c.curBytes
	s.BudgetBytes = c.maxBytes
	return s
}

// expireLocked removes the entry when it has idled past the window.
func (c *SectionCache) expireLocked(elem *list.Element, ent *sectionEntry) bool {
	if c.idleExpiry <= 0 || c.now().Sub(ent.lastAccess) <= c.idleExpiry {
		return false
	}
	c.removeLocked(elem, ent)
	c.stats.Expirations++
	return true
}

func (c *SectionCache) touchLocked(elem *list.Element, ent *sectionEntry) {
	c.order.MoveToBack(elem)
	if c.idleExpiry > 0 {
		ent.lastAccess = c.now()
	}
}

func (c *SectionCache) removeLocked(elem *list.Element, ent *sectionEntry) {
	c.order.Remove(elem)
	delete(c.entries, ent.key)
	c.curBytes -= ent.size
}

// evictLocked drops least-recently-used entries until the budget holds.
// The entry under keep is never evicted, so a single oversized Set still
// lands after everything else is gone.
func (c *SectionCache) evictLocked(keep string) {
	for c.curBytes > c.maxBytes {
		elem := c.order.Front()
		if elem == nil {
			return
		}
		ent := elem.Value.(*sectionEntry)
		if ent.key == keep {
			if elem.Next() == nil {
				return // Only the incoming entry remains; allow the overshoot
			}
			elem = elem.Next()
			ent = elem.Value.(*sectionEntry)
		}
		c.removeLocked(elem, ent)
		c.stats.Evictions++
		c.logger.Debug("section cache eviction", "key", ent.key, "size", ent.size)
	}
}
