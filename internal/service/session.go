package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mmcdole/folio/internal/cache"
	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/render"
)

// ReaderSession is one open book. It owns the book's in-memory caches and
// handle registry, and implements render.SectionLoader: sections and
// resources resolve memory cache, then persistent tier, then document parse,
// with write-back on a full miss.
type ReaderSession struct {
	bookID string
	path   string
	doc    domain.Document
	tier   domain.PersistentTier
	logger *slog.Logger

	sections  *cache.SectionCache
	resources *cache.ResourceCache
	handles   *render.HandleRegistry

	mu     sync.Mutex
	closed bool
}

func newSession(bookID, path string, doc domain.Document, tier domain.PersistentTier, cfg Config, logger *slog.Logger) *ReaderSession {
	s := &ReaderSession{
		bookID:    bookID,
		path:      path,
		doc:       doc,
		tier:      tier,
		logger:    logger,
		sections:  cache.NewSectionCache(cfg.SectionCacheMB, logger),
		resources: cache.NewResourceCache(cfg.ResourceCacheMB, logger),
		handles:   render.NewHandleRegistry(),
	}
	if cfg.CacheExpiryDays > 0 {
		seconds := cfg.CacheExpiryDays * 24 * 60 * 60
		s.sections.SetIdleExpiry(seconds)
		s.resources.SetIdleExpiry(seconds)
	}
	return s
}

func (s *ReaderSession) BookID() string { return s.bookID }

func (s *ReaderSession) Path() string { return s.path }

func (s *ReaderSession) Metadata() domain.BookMetadata { return s.doc.Metadata() }

func (s *ReaderSession) Toc() []*domain.TocNode { return s.doc.Toc() }

func (s *ReaderSession) Spine() []domain.Section { return s.doc.Spine() }

func (s *ReaderSession) SectionCount() int { return s.doc.SectionCount() }

func (s *ReaderSession) Handles() *render.HandleRegistry { return s.handles }

// LoadSection resolves a section through the cache tiers. A persistent-tier
// hit re-populates the memory cache; a full miss parses the document and
// writes the snapshot back to both tiers.
func (s *ReaderSession) LoadSection(ctx context.Context, index int) (*domain.SectionSnapshot, error) {
	if snap := s.sections.Get(s.bookID, index); snap != nil {
		return snap, nil
	}

	if s.tier != nil {
		snap, err := s.tier.LoadSection(ctx, s.bookID, index)
		if err == nil {
			s.sections.Set(snap)
			return snap, nil
		}
		if err != domain.ErrNotFound {
			s.logger.Debug("persistent tier section read failed", "bookId", s.bookID, "index", index, "error", err)
		}
	}

	markup, styles, err := s.doc.RawSection(ctx, index)
	if err != nil {
		return nil, err
	}
	snap := normalizeSection(s.doc, s.bookID, index, markup, styles)
	s.sections.Set(snap)

	if s.tier != nil {
		// Write-back is allowed to race with the section becoming visible.
		go func() {
			if err := s.tier.SaveSection(context.Background(), snap); err != nil {
				s.logger.Debug("section write-back failed", "bookId", s.bookID, "index", snap.Index, "error", err)
			}
		}()
	}
	return snap, nil
}

// Materialize substitutes every resource placeholder in a snapshot with a
// live handle token, pinning each referenced resource until Close. A
// resource that cannot be loaded keeps its placeholder; the section still
// renders.
func (s *ReaderSession) Materialize(ctx context.Context, snap *domain.SectionSnapshot) (*render.RenderedContent, error) {
	pairs := make([]string, 0, len(snap.ResourceRefs)*2)
	for _, ref := range snap.ResourceRefs {
		res := s.pinResource(ctx, ref)
		if res == nil {
			continue
		}
		h := s.handles.Issue(s.bookID, ref, res.Data, res.MimeType)
		pairs = append(pairs, domain.PlaceholderFor(ref), h.Token)
	}

	content := &render.RenderedContent{
		Index:  snap.Index,
		Markup: snap.Markup,
		Styles: snap.Styles,
		Anchor: snap.Anchor,
	}
	if len(pairs) > 0 {
		replacer := strings.NewReplacer(pairs...)
		content.Markup = replacer.Replace(snap.Markup)
		content.Styles = make([]string, len(snap.Styles))
		for i, css := range snap.Styles {
			content.Styles[i] = replacer.Replace(css)
		}
	}
	return content, nil
}

// pinResource returns the resource with one reference taken for the calling
// section, or nil when it cannot be loaded from any tier.
func (s *ReaderSession) pinResource(ctx context.Context, ref string) *domain.Resource {
	if res := s.resources.Get(s.bookID, ref); res != nil {
		s.resources.Acquire(s.bookID, ref)
		return res
	}
	res := s.loadResource(ctx, ref)
	if res == nil {
		return nil
	}
	// Set takes the reference for a new entry.
	s.resources.Set(res)
	return res
}

// Prime loads a snapshot's resources into the cache tiers without pinning
// them or issuing handles. Warmup path.
func (s *ReaderSession) Prime(ctx context.Context, snap *domain.SectionSnapshot) error {
	for _, ref := range snap.ResourceRefs {
		if s.resources.Has(s.bookID, ref) {
			continue
		}
		res := s.loadResource(ctx, ref)
		if res == nil {
			continue
		}
		s.resources.Set(res)
		s.resources.Release(s.bookID, ref)
	}
	return nil
}

// loadResource resolves resource bytes through persistent tier then document,
// with write-back on a full miss. Failures are logged and reported as nil.
func (s *ReaderSession) loadResource(ctx context.Context, ref string) *domain.Resource {
	if s.tier != nil {
		res, err := s.tier.LoadResource(ctx, s.bookID, ref)
		if err == nil {
			return res
		}
		if err != domain.ErrNotFound {
			s.logger.Debug("persistent tier resource read failed", "bookId", s.bookID, "path", ref, "error", err)
		}
	}

	data, mimeType, err := s.doc.ReadResource(ctx, ref)
	if err != nil {
		s.logger.Warn("resource load failed", "bookId", s.bookID, "path", ref, "error", err)
		return nil
	}
	res := &domain.Resource{BookID: s.bookID, Path: ref, Data: data, MimeType: mimeType}

	if s.tier != nil {
		go func() {
			if err := s.tier.SaveResource(context.Background(), res); err != nil {
				s.logger.Debug("resource write-back failed", "bookId", s.bookID, "path", ref, "error", err)
			}
		}()
	}
	return res
}

// CacheStats reports the in-memory caches.
func (s *ReaderSession) CacheStats() (sections, resources cache.Stats) {
	return s.sections.Stats(), s.resources.Stats()
}

// Close revokes every issued handle, releases the matching resource
// references and closes the document. Idempotent.
func (s *ReaderSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, h := range s.handles.RevokeAll() {
		s.resources.Release(h.BookID, h.Path)
	}
	s.sections.ClearAll()
	s.resources.ClearAll()
	return s.doc.Close()
}
