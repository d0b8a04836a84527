package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/domain"
)

func resourceOfSize(bookID, path string, n int) *domain.Resource {
	return &domain.Resource{
		BookID:   bookID,
		Path:     path,
		Data:     make([]byte, n),
		MimeType: "image/png",
	}
}

func TestResourceCacheSetTakesReference(t *testing.T) {
	c := NewResourceCache(10, nil)

	c.Set(resourceOfSize("book", "img/cover.png", 1024))
	assert.Equal(t, 1, c.RefCount("book", "img/cover.png"))

	// A second materializing section re-sets the same path: refCount
	// increments, storage is not duplicated.
	c.Set(resourceOfSize("book", "img/cover.png", 1024))
	assert.Equal(t, 2, c.RefCount("book", "img/cover.png"))
	assert.Equal(t, int64(1024), c.Stats().Bytes)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestResourceCachePinnedNeverEvicted(t *testing.T) {
	c := NewResourceCache(1, nil)
	oneMB := 1024 * 1024

	// Pinned by a rendered section.
	c.Set(resourceOfSize("book", "fonts/serif.ttf", oneMB))

	// Flood with unpinned entries; the pinned one must survive every pass.
	for i := 0; i < 5; i++ {
		res := resourceOfSize("book", "img/page.png", oneMB)
		res.Path = res.Path + string(rune('a'+i))
		c.Set(res)
		c.Release("book", res.Path)
		require.True(t, c.Has("book", "fonts/serif.ttf"), "pinned entry evicted on pass %d", i)
	}
}

func TestResourceCacheSharedResourceReleaseOrder(t *testing.T) {
	// N sections sharing one resource: it must stay cached until the last
	// release, whatever the release order.
	c := NewResourceCache(1, nil)
	oneMB := 1024 * 1024

	const sections = 3
	for i := 0; i < sections; i++ {
		c.Set(resourceOfSize("book", "img/shared.png", oneMB))
	}
	require.Equal(t, sections, c.RefCount("book", "img/shared.png"))

	for i := 0; i < sections-1; i++ {
		c.Release("book", "img/shared.png")
		// Push the cache over budget; the still-referenced entry must hold.
		c.Set(resourceOfSize("book", "img/filler.png", oneMB))
		c.Release("book", "img/filler.png")
		require.True(t, c.Has("book", "img/shared.png"), "evicted after release %d of %d", i+1, sections)
	}

	c.Release("book", "img/shared.png")
	assert.Zero(t, c.RefCount("book", "img/shared.png"))
	// Now a zero-ref candidate: the next over-budget insert may take it.
	c.Set(resourceOfSize("book", "img/big.png", 2*oneMB))
	assert.False(t, c.Has("book", "img/shared.png"))
}

func TestResourceCacheTransientOverBudget(t *testing.T) {
	c := NewResourceCache(1, nil)
	oneMB := 1024 * 1024

	// Everything pinned: nothing evictable, inserts still succeed.
	c.Set(resourceOfSize("book", "a.png", oneMB))
	c.Set(resourceOfSize("book", "b.png", oneMB))
	c.Set(resourceOfSize("book", "c.png", oneMB))

	stats := c.Stats()
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, int64(3*oneMB), stats.Bytes)
	assert.Equal(t, 3, stats.Pinned)

	// Releasing settles the overshoot down to the budget.
	c.Release("book", "a.png")
	c.Release("book", "b.png")
	assert.LessOrEqual(t, c.Stats().Bytes, int64(oneMB))
	assert.True(t, c.Has("book", "c.png"))
}

func TestResourceCacheReleaseNeverNegative(t *testing.T) {
	c := NewResourceCache(10, nil)
	c.Set(resourceOfSize("book", "img/x.png", 64))

	c.Release("book", "img/x.png")
	c.Release("book", "img/x.png")
	c.Release("book", "img/x.png")
	assert.Zero(t, c.RefCount("book", "img/x.png"))

	c.Release("book", "absent.png") // No-op
}

func TestResourceCacheAcquire(t *testing.T) {
	c := NewResourceCache(10, nil)

	assert.False(t, c.Acquire("book", "img/x.png"))

	c.Set(resourceOfSize("book", "img/x.png", 64))
	assert.True(t, c.Acquire("book", "img/x.png"))
	assert.Equal(t, 2, c.RefCount("book", "img/x.png"))
}

func TestResourceCacheGetDoesNotRef(t *testing.T) {
	c := NewResourceCache(10, nil)
	c.Set(resourceOfSize("book", "img/x.png", 64))

	require.NotNil(t, c.Get("book", "img/x.png"))
	assert.Equal(t, 1, c.RefCount("book", "img/x.png"))
}

func TestResourceCacheIdleExpirySkipsPinned(t *testing.T) {
	current := time.Unix(5000, 0)
	c := NewResourceCache(10, nil, WithResourceClock(func() time.Time { return current }))
	c.SetIdleExpiry(60)

	c.Set(resourceOfSize("book", "pinned.png", 64))
	c.Set(resourceOfSize("book", "loose.png", 64))
	c.Release("book", "loose.png")

	current = current.Add(2 * time.Minute)
	assert.NotNil(t, c.Get("book", "pinned.png"), "pinned entries never idle-expire")
	assert.Nil(t, c.Get("book", "loose.png"))
}

func TestResourceCacheClearBook(t *testing.T) {
	c := NewResourceCache(10, nil)
	c.Set(resourceOfSize("alpha", "img/a.png", 64))
	c.Set(resourceOfSize("beta", "img/b.png", 64))

	c.ClearBook("alpha")

	assert.False(t, c.Has("alpha", "img/a.png"))
	assert.True(t, c.Has("beta", "img/b.png"))
}
