package bookid

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/domain"
)

func TestDeriveStable(t *testing.T) {
	meta := domain.BookMetadata{Identifier: "urn:isbn:12345", Title: "Moby Dick"}
	content := []byte("archive bytes")

	a := Derive(meta, content)
	b := Derive(meta, content)
	require.Equal(t, a, b, "same metadata and content must derive the same id")

	c := Derive(meta, []byte("different bytes"))
	assert.NotEqual(t, a, c, "content change must change the fingerprint")
}

func TestDeriveFallsBackToTitle(t *testing.T) {
	id := Derive(domain.BookMetadata{Title: "War & Peace"}, []byte("x"))
	assert.Contains(t, id, "war---peace|")
}

func TestDeriveEmptyMetadata(t *testing.T) {
	id := Derive(domain.BookMetadata{}, []byte("x"))
	assert.Contains(t, id, "untitled|")
}

func TestDeriveFromFile(t *testing.T) {
	meta := domain.BookMetadata{Identifier: "urn:isbn:12345"}
	path := filepath.Join(t.TempDir(), "moby.epub")
	require.NoError(t, os.WriteFile(path, []byte("archive bytes"), 0644))

	id, err := DeriveFromFile(meta, path)
	require.NoError(t, err)
	assert.Equal(t, Derive(meta, []byte("archive bytes")), id, "streaming and in-memory hashing must agree")

	require.NoError(t, os.WriteFile(path, []byte("updated bytes"), 0644))
	updated, err := DeriveFromFile(meta, path)
	require.NoError(t, err)
	assert.NotEqual(t, id, updated, "content change must change the fingerprint")
}

func TestDeriveFromFileMissing(t *testing.T) {
	_, err := DeriveFromFile(domain.BookMetadata{Title: "x"}, "/nonexistent/book.epub")
	assert.Error(t, err)
}

func TestFastDerive(t *testing.T) {
	mtime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	a := FastDerive("/books/dracula.epub", 1024, mtime)
	b := FastDerive("/books/dracula.epub", 1024, mtime)
	require.Equal(t, a, b)
	assert.Contains(t, a, "dracula|")

	changed := FastDerive("/books/dracula.epub", 2048, mtime)
	assert.NotEqual(t, a, changed, "size change must change the fast fingerprint")

	touched := FastDerive("/books/dracula.epub", 1024, mtime.Add(time.Second))
	assert.NotEqual(t, a, touched, "mtime change must change the fast fingerprint")
}
