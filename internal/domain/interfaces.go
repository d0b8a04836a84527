package domain

import (
	"context"
	"io"
)

// Document is a parsed archive: an ordered section list, a table of
// contents and metadata. Implementations are format-specific (EPUB, MOBI)
// behind this uniform capability interface.
type Document interface {
	Metadata() BookMetadata
	Toc() []*TocNode
	Spine() []Section
	SectionCount() int

	// RawSection returns the raw markup of one section plus the extracted
	// stylesheet contents linked by it. Indexes outside the spine return
	// ErrNotFound.
	RawSection(ctx context.Context, index int) (markup string, styles []string, err error)

	// ResolvePath resolves a reference found in a section's markup against
	// that section's location, yielding an archive-internal resource path.
	ResolvePath(sectionIndex int, ref string) string

	// ReadResource returns the bytes and MIME type of an archive-internal
	// resource path, or ErrNotFound.
	ReadResource(ctx context.Context, path string) ([]byte, string, error)

	io.Closer
}

// Engine turns a raw archive file into a Document. One engine per format.
type Engine interface {
	Format() Format
	CanOpen(path string) bool
	Open(ctx context.Context, path string) (Document, error)
}

// PersistentTier is the disk-backed second cache level, addressed by
// (bookID, sectionIndex) and (bookID, resourcePath). A miss is reported as
// ErrNotFound; callers treat any failure as a miss.
type PersistentTier interface {
	LoadSection(ctx context.Context, bookID string, index int) (*SectionSnapshot, error)
	SaveSection(ctx context.Context, snap *SectionSnapshot) error

	LoadResource(ctx context.Context, bookID, path string) (*Resource, error)
	SaveResource(ctx context.Context, res *Resource) error

	LoadMetadata(ctx context.Context, bookID string) (*StoredMetadata, error)
	SaveMetadata(ctx context.Context, bookID string, meta *StoredMetadata) error

	ClearBook(ctx context.Context, bookID string) error
	CleanupExpired(ctx context.Context) (int, error)
	CacheStats(ctx context.Context) (TierStats, error)
	SetExpiry(days int)

	io.Closer
}

// TierStats summarizes the persistent tier's contents.
type TierStats struct {
	SectionCount   int   `json:"sectionCount"`
	ResourceCount  int   `json:"resourceCount"`
	MetadataCount  int   `json:"metadataCount"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
}
