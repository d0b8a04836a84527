// Package bookid derives the cache partition key for a loaded document.
//
// A BookID combines a logical identity (metadata identifier or title) with a
// content-version fingerprint, so that a re-imported or updated archive never
// aliases stale cache entries.
package bookid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mmcdole/folio/internal/domain"
)

// Derive returns the stable BookID for a document whose content bytes are
// available: logical identity plus a truncated sha256 content fingerprint.
func Derive(meta domain.BookMetadata, content []byte) string {
	sum := sha256.Sum256(content)
	return join(logicalID(meta), hex.EncodeToString(sum[:8]))
}

// DeriveFromFile returns the content-hash BookID for an archive on disk,
// streaming the file through sha256 so the bytes are never held in memory.
func DeriveFromFile(meta domain.BookMetadata, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return join(logicalID(meta), hex.EncodeToString(h.Sum(nil)[:8])), nil
}

// FastDerive returns a BookID before content bytes have been read, using an
// xxhash fingerprint of (path, size, mtime). It is cheap enough for the
// preload hot path; the content-hash form replaces it once bytes are loaded.
func FastDerive(path string, size int64, modTime time.Time) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%d|%d", abs, size, modTime.UnixNano())
	logical := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return join(logical, fmt.Sprintf("%016x", h.Sum64()))
}

func logicalID(meta domain.BookMetadata) string {
	if meta.Identifier != "" {
		return meta.Identifier
	}
	if meta.Title != "" {
		return meta.Title
	}
	return "untitled"
}

// join normalizes the logical part so the id is safe as a store key prefix.
func join(logical, fingerprint string) string {
	logical = strings.ToLower(strings.TrimSpace(logical))
	logical = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, logical)
	logical = strings.Trim(logical, "-")
	if logical == "" {
		logical = "untitled"
	}
	return logical + "|" + fingerprint
}
