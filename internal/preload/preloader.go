// Package preload speculatively opens documents before the reader asks for
// them (typically on a library list-item hover/tap), so the eventual open
// is served from a warm parse.
package preload

import (
	"container/list"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/folio/internal/bookid"
	"github.com/mmcdole/folio/internal/domain"
)

const (
	// Best-effort size model for an open document: fixed base cost plus a
	// per-section increment, refined once the parse completes.
	baseEstimateMB       = 5.0
	perSectionEstimateMB = 0.25

	// DefaultBudgetMB caps the summed estimates of outstanding loads.
	DefaultBudgetMB = 200.0

	// Entries idle longer than this are dropped on the next Preload call.
	idleWindow = 10 * time.Minute
)

// Opener turns a file path into a parsed document.
type Opener interface {
	Open(ctx context.Context, path string) (domain.Document, error)
}

// MetadataChecker reports whether persisted metadata already exists for a
// bookId, in which case the speculative parse is skipped entirely (the fast
// metadata path will serve the open).
type MetadataChecker interface {
	HasMetadata(ctx context.Context, bookID string) bool
}

type entry struct {
	bookID     string
	path       string
	done       chan struct{} // Closed when the load settles
	doc        domain.Document
	err        error
	estimateMB float64
	createdAt  time.Time
	lastAccess time.Time
	elem       *list.Element
}

// Preloader is a single-flight speculative loader with a memory-bounded LRU
// of outstanding and completed load promises.
type Preloader struct {
	opener  Opener
	checker MetadataChecker
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry // Keyed by derived bookID
	byPath   map[string]string // filePath -> bookID
	order    *list.List        // Front = least recently used
	budgetMB float64
	totalMB  float64

	group singleflight.Group
	now   func() time.Time
}

// Option configures a Preloader.
type Option func(*Preloader)

// WithBudgetMB overrides the estimate cap.
func WithBudgetMB(mb float64) Option {
	return func(p *Preloader) { p.budgetMB = mb }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Preloader) { p.now = now }
}

// New creates a Preloader. checker may be nil when no persistent tier is
// configured.
func New(opener Opener, checker MetadataChecker, logger *slog.Logger, opts ...Option) *Preloader {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preloader{
		opener:   opener,
		checker:  checker,
		logger:   logger,
		entries:  make(map[string]*entry),
		byPath:   make(map[string]string),
		order:    list.New(),
		budgetMB: DefaultBudgetMB,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preload starts a speculative load of path. A second call for the same
// derived bookId while one is outstanding (or completed) is a no-op; so is
// a call for a book whose metadata is already persisted.
func (p *Preloader) Preload(path string) {
	bookID := p.deriveID(path)

	p.mu.Lock()
	p.sweepIdleLocked()
	if _, ok := p.entries[bookID]; ok {
		p.mu.Unlock()
		return
	}
	if p.checker != nil && p.checker.HasMetadata(context.Background(), bookID) {
		p.mu.Unlock()
		p.logger.Debug("preload skipped, metadata persisted", "book", bookID)
		return
	}
	ent := &entry{
		bookID:     bookID,
		path:       path,
		done:       make(chan struct{}),
		estimateMB: baseEstimateMB,
		createdAt:  p.now(),
		lastAccess: p.now(),
	}
	ent.elem = p.order.PushBack(ent)
	p.entries[bookID] = ent
	p.byPath[path] = bookID
	p.totalMB += ent.estimateMB
	p.evictLocked(ent)
	p.mu.Unlock()

	go p.load(ent)
}

func (p *Preloader) load(ent *entry) {
	v, err, shared := p.group.Do(ent.bookID, func() (interface{}, error) {
		return p.opener.Open(context.Background(), ent.path)
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		// A cached rejection is worthless; drop the entry so the next
		// trigger retries.
		ent.err = err
		p.removeLocked(ent)
		close(ent.done)
		p.logger.Warn("preload failed", "path", ent.path, "error", err)
		return
	}

	doc := v.(domain.Document)

	if p.entries[ent.bookID] != ent {
		// Evicted or cleared while in flight. A shared result also went to
		// a successor entry that joined the same flight; that entry owns the
		// document now. Only a sole result has no home and gets closed.
		ent.err = domain.ErrClosed
		if !shared {
			doc.Close()
		}
		close(ent.done)
		return
	}
	ent.doc = doc

	// Refine the size estimate now that the real object exists.
	refined := baseEstimateMB + perSectionEstimateMB*float64(doc.SectionCount())
	p.totalMB += refined - ent.estimateMB
	ent.estimateMB = refined
	close(ent.done)
	p.evictLocked(ent)
	p.logger.Debug("preload complete", "path", ent.path, "sections", doc.SectionCount())
}

// Get awaits the in-flight or completed load for path and returns the
// document, or nil when no load exists or the load failed. The consumed
// entry is removed: ownership of the document passes to the caller.
func (p *Preloader) Get(ctx context.Context, path string) domain.Document {
	p.mu.Lock()
	bookID, ok := p.byPath[path]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	ent, ok := p.entries[bookID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	ent.lastAccess = p.now()
	p.order.MoveToBack(ent.elem)
	p.mu.Unlock()

	select {
	case <-ent.done:
	case <-ctx.Done():
		return nil
	}
	if ent.err != nil || ent.doc == nil {
		return nil
	}

	p.mu.Lock()
	if cur, ok := p.entries[bookID]; ok && cur == ent {
		p.detachLocked(ent)
	}
	p.mu.Unlock()
	return ent.doc
}

// Has reports whether a load for path is outstanding or completed.
func (p *Preloader) Has(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	bookID, ok := p.byPath[path]
	if !ok {
		return false
	}
	_, ok = p.entries[bookID]
	return ok
}

// Clear drops the entry for path, closing an already-loaded document.
func (p *Preloader) Clear(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bookID, ok := p.byPath[path]; ok {
		if ent, ok := p.entries[bookID]; ok {
			p.removeLocked(ent)
		}
	}
}

// ClearAll drops every entry.
func (p *Preloader) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ent := range p.entries {
		p.removeLocked(ent)
	}
}

// EstimatedMB returns the current summed size estimate.
func (p *Preloader) EstimatedMB() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalMB
}

func (p *Preloader) deriveID(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return bookid.FastDerive(path, 0, time.Time{})
	}
	return bookid.FastDerive(path, info.Size(), info.ModTime())
}

// removeLocked drops the entry and closes a settled document it still owns.
func (p *Preloader) removeLocked(ent *entry) {
	p.detachLocked(ent)
	if ent.doc != nil {
		ent.doc.Close()
		ent.doc = nil
	}
}

// detachLocked unlinks the entry from the index without closing the
// document (used when ownership passes to a consumer).
func (p *Preloader) detachLocked(ent *entry) {
	if _, ok := p.entries[ent.bookID]; !ok {
		return
	}
	delete(p.entries, ent.bookID)
	delete(p.byPath, ent.path)
	p.order.Remove(ent.elem)
	p.totalMB -= ent.estimateMB
}

// evictLocked drops the oldest entries while the running estimate exceeds
// the budget. keep survives even when it alone exceeds the cap.
func (p *Preloader) evictLocked(keep *entry) {
	for p.totalMB > p.budgetMB {
		elem := p.order.Front()
		if elem == nil {
			return
		}
		ent := elem.Value.(*entry)
		if ent == keep {
			if elem.Next() == nil {
				return
			}
			ent = elem.Next().Value.(*entry)
		}
		p.removeLocked(ent)
		p.logger.Debug("preload evicted", "path", ent.path, "estimateMB", ent.estimateMB)
	}
}

// sweepIdleLocked drops entries idle past the window.
func (p *Preloader) sweepIdleLocked() {
	cutoff := p.now().Add(-idleWindow)
	for elem := p.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry)
		if ent.lastAccess.Before(cutoff) {
			p.removeLocked(ent)
		}
		elem = next
	}
}
