package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/domain"
)

func testSpine() []domain.Section {
	return []domain.Section{
		{Index: 0, Path: "OEBPS/cover.xhtml"},
		{Index: 1, Path: "OEBPS/text/ch1.xhtml"},
		{Index: 2, Path: "OEBPS/text/ch2.xhtml", Anchor: "part2"},
		{Index: 3, Path: "OEBPS/text/ch3.xhtml"},
	}
}

func TestIndexForExactWithAnchor(t *testing.T) {
	r := NewResolver(nil)
	idx := r.IndexFor("OEBPS/text/ch2.xhtml#part2", testSpine())
	assert.Equal(t, 2, idx)
}

func TestIndexForExactStrippedAnchor(t *testing.T) {
	r := NewResolver(nil)
	// Anchor does not match any spine anchor; falls to tier 2.
	idx := r.IndexFor("OEBPS/text/ch1.xhtml#somewhere", testSpine())
	assert.Equal(t, 1, idx)
}

func TestIndexForSuffixMatch(t *testing.T) {
	r := NewResolver(nil)
	// TOC target lacks the archive root prefix.
	assert.Equal(t, 1, r.IndexFor("text/ch1.xhtml", testSpine()))
	// And the reverse: target carries a longer prefix than the spine.
	spine := []domain.Section{{Index: 0, Path: "ch1.xhtml"}}
	assert.Equal(t, 0, r.IndexFor("OEBPS/text/ch1.xhtml", spine))
}

func TestIndexForNoPartialSegmentSuffix(t *testing.T) {
	r := NewResolver(nil)
	spine := []domain.Section{{Index: 0, Path: "OEBPS/text/watch1.xhtml"}}
	// "ch1.xhtml" is a string suffix of "watch1.xhtml" but not a path
	// segment; only the filename tier may match, and the filenames differ.
	assert.Equal(t, -1, r.IndexFor("text/ch1.xhtml", spine))
}

func TestIndexForFilenameFallback(t *testing.T) {
	r := NewResolver(nil)
	idx := r.IndexFor("completely/other/prefix/ch3.xhtml", testSpine())
	assert.Equal(t, 3, idx)
}

func TestIndexForMiss(t *testing.T) {
	r := NewResolver(nil)
	assert.Equal(t, -1, r.IndexFor("nowhere.xhtml", testSpine()))
	assert.Equal(t, -1, r.IndexFor("", testSpine()))
	assert.Equal(t, -1, r.IndexFor("ch1.xhtml", nil))
}

func TestTargetForRoundTrip(t *testing.T) {
	spine := testSpine()
	toc := []*domain.TocNode{
		{Title: "Chapter 1", Target: "text/ch1.xhtml"},
		{Title: "Chapter 2", Target: "text/ch2.xhtml#part2", Children: []*domain.TocNode{
			{Title: "Part Two", Target: "text/ch2.xhtml#part2"},
		}},
		{Title: "Chapter 3", Target: "OEBPS/text/ch3.xhtml"},
	}
	r := NewResolver(nil)

	// Resolving a TOC target to an index and back must land on a target
	// that resolves to the same index (exact and suffix tiers).
	for _, node := range domain.FlattenToc(toc) {
		idx := r.IndexFor(node.Target, spine)
		require.GreaterOrEqual(t, idx, 0, "target %q", node.Target)
		back := r.TargetFor(idx, toc, spine)
		require.NotEmpty(t, back)
		assert.Equal(t, idx, r.IndexFor(back, spine), "round trip through %q", back)
	}
}

func TestTargetForNoEntryIsSilent(t *testing.T) {
	r := NewResolver(nil)
	toc := []*domain.TocNode{{Title: "Chapter 1", Target: "text/ch1.xhtml"}}
	// The cover has no TOC entry; that is a normal outcome.
	assert.Empty(t, r.TargetFor(0, toc, testSpine()))
}

func TestNodeFor(t *testing.T) {
	r := NewResolver(nil)
	toc := []*domain.TocNode{
		{Title: "Chapter 1", Target: "text/ch1.xhtml"},
		{Title: "Chapter 3", Target: "text/ch3.xhtml"},
	}
	node := r.NodeFor(3, toc, testSpine())
	require.NotNil(t, node)
	assert.Equal(t, "Chapter 3", node.Title)

	assert.Nil(t, r.NodeFor(0, toc, testSpine()))
}

func TestLogOnceDeduplicates(t *testing.T) {
	r := NewResolver(nil)
	for i := 0; i < 5; i++ {
		r.IndexFor("nowhere.xhtml", testSpine())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.logged, 1, "one log record per (index, target) pair")
}
