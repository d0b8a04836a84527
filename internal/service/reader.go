// Package service wires the engines, cache tiers and preloader into reader
// sessions. A ReaderService lives for the process; a ReaderSession lives for
// one open book and owns that book's in-memory caches and render handles.
package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/mmcdole/folio/internal/bookid"
	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/engine"
	"github.com/mmcdole/folio/internal/preload"
)

// Config carries the cache budgets and expiry policy for reader sessions.
type Config struct {
	SectionCacheMB  int
	ResourceCacheMB int
	CacheExpiryDays int // 0 = unlimited
	PreloadBudgetMB float64
}

// ReaderService opens books through the format engines, serving preloaded
// parses when available.
type ReaderService struct {
	engines   *engine.Registry
	tier      domain.PersistentTier
	preloader *preload.Preloader
	cfg       Config
	logger    *slog.Logger
}

// NewReaderService creates the service. tier may be nil for a memory-only
// setup.
func NewReaderService(engines *engine.Registry, tier domain.PersistentTier, cfg Config, logger *slog.Logger) *ReaderService {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []preload.Option
	if cfg.PreloadBudgetMB > 0 {
		opts = append(opts, preload.WithBudgetMB(cfg.PreloadBudgetMB))
	}
	s := &ReaderService{
		engines: engines,
		tier:    tier,
		cfg:     cfg,
		logger:  logger,
	}
	s.preloader = preload.New(engines, metadataChecker{tier: tier}, logger, opts...)
	if tier != nil {
		tier.SetExpiry(cfg.CacheExpiryDays)
	}
	return s
}

// Preload speculatively parses a book ahead of OpenBook.
func (s *ReaderService) Preload(path string) {
	s.preloader.Preload(path)
}

// OpenBook opens a book for reading. This is the only entry point that
// surfaces load errors to the user; everything downstream degrades to cache
// misses.
func (s *ReaderService) OpenBook(ctx context.Context, path string) (*ReaderSession, error) {
	doc := s.preloader.Get(ctx, path)
	if doc == nil {
		var err error
		doc, err = s.engines.Open(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	id := s.deriveID(path, doc.Metadata())
	session := newSession(id, path, doc, s.tier, s.cfg, s.logger)

	// Metadata write-back feeds the fast open path, and an alias under the
	// fast path-derived id feeds the preloader's skip check. Off the
	// critical path.
	if s.tier != nil {
		stored := &domain.StoredMetadata{
			Info:         doc.Metadata(),
			Toc:          doc.Toc(),
			Spine:        doc.Spine(),
			SectionCount: doc.SectionCount(),
		}
		ids := []string{id}
		if fastID := fastDeriveID(path); fastID != "" && fastID != id {
			ids = append(ids, fastID)
		}
		go func() {
			for _, writeID := range ids {
				if err := s.tier.SaveMetadata(context.Background(), writeID, stored); err != nil {
					s.logger.Debug("metadata write-back failed", "bookId", writeID, "error", err)
				}
			}
		}()
	}

	return session, nil
}

// deriveID fingerprints the archive content now that the file is readable.
// The path-derived fast id stays behind as the preloader's key and a
// metadata alias only.
func (s *ReaderService) deriveID(path string, meta domain.BookMetadata) string {
	if id, err := bookid.DeriveFromFile(meta, path); err == nil {
		return id
	}
	if fastID := fastDeriveID(path); fastID != "" {
		return fastID
	}
	return bookid.Derive(meta, nil)
}

func fastDeriveID(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return bookid.FastDerive(path, fi.Size(), fi.ModTime())
}

// Metadata returns the persisted metadata for a book without parsing it.
func (s *ReaderService) Metadata(ctx context.Context, bookID string) (*domain.StoredMetadata, error) {
	if s.tier == nil {
		return nil, domain.ErrNotFound
	}
	return s.tier.LoadMetadata(ctx, bookID)
}

// CleanupExpired removes persistent-tier entries past the expiry window.
func (s *ReaderService) CleanupExpired(ctx context.Context) (int, error) {
	if s.tier == nil {
		return 0, nil
	}
	return s.tier.CleanupExpired(ctx)
}

// CacheStats summarizes the persistent tier.
func (s *ReaderService) CacheStats(ctx context.Context) (domain.TierStats, error) {
	if s.tier == nil {
		return domain.TierStats{}, nil
	}
	return s.tier.CacheStats(ctx)
}

// ClearBookCache drops a book's persisted sections, resources and metadata.
func (s *ReaderService) ClearBookCache(ctx context.Context, bookID string) error {
	if s.tier == nil {
		return nil
	}
	return s.tier.ClearBook(ctx, bookID)
}

// Close releases the preloader's outstanding documents. The persistent tier
// is owned by the caller.
func (s *ReaderService) Close() {
	s.preloader.ClearAll()
}

// metadataChecker adapts the persistent tier to the preloader's skip check.
type metadataChecker struct {
	tier domain.PersistentTier
}

func (c metadataChecker) HasMetadata(ctx context.Context, bookID string) bool {
	if c.tier == nil {
		return false
	}
	_, err := c.tier.LoadMetadata(ctx, bookID)
	return err == nil
}
