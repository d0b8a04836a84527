package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/testutil"
)

func TestNormalizeRewritesSrcAttributes(t *testing.T) {
	doc := testutil.NewFakeDoc("n", 1)
	doc.Sections[0].Path = "text/ch1.xhtml"
	markup := `<p>hi</p><img src="../images/a.png"/><img src='b.png'/>`

	snap := normalizeSection(doc, "n|1", 0, markup, nil)

	assert.Contains(t, snap.Markup, domain.PlaceholderFor("images/a.png"))
	assert.Contains(t, snap.Markup, domain.PlaceholderFor("text/b.png"))
	assert.Equal(t, []string{"images/a.png", "text/b.png"}, snap.ResourceRefs)
}

func TestNormalizeSkipsExternalRefs(t *testing.T) {
	doc := testutil.NewFakeDoc("n", 1)
	markup := `<img src="https://example.com/x.png"/><img src="data:image/png;base64,xx"/><a src="#frag"/>`

	snap := normalizeSection(doc, "n|1", 0, markup, nil)

	assert.Equal(t, markup, snap.Markup)
	assert.Empty(t, snap.ResourceRefs)
}

func TestNormalizeIgnoresLookalikeAttributes(t *testing.T) {
	doc := testutil.NewFakeDoc("n", 1)
	markup := `<img data-src="skip.png" src="keep.png"/>`

	snap := normalizeSection(doc, "n|1", 0, markup, nil)

	assert.Contains(t, snap.Markup, `data-src="skip.png"`)
	assert.Contains(t, snap.Markup, domain.PlaceholderFor("keep.png"))
	assert.Equal(t, []string{"keep.png"}, snap.ResourceRefs)
}

func TestNormalizeRewritesCSSUrls(t *testing.T) {
	doc := testutil.NewFakeDoc("n", 1)
	css := `@font-face { src: url("fonts/serif.ttf"); } body { background: url(https://cdn/x.png); }`

	snap := normalizeSection(doc, "n|1", 0, "<p/>", []string{css})

	require.Len(t, snap.Styles, 1)
	assert.Contains(t, snap.Styles[0], "url("+domain.PlaceholderFor("fonts/serif.ttf")+")")
	assert.Contains(t, snap.Styles[0], "url(https://cdn/x.png)")
	assert.Equal(t, []string{"fonts/serif.ttf"}, snap.ResourceRefs)
}

func TestNormalizeDeduplicatesRefs(t *testing.T) {
	doc := testutil.NewFakeDoc("n", 1)
	markup := `<img src="pic.png"/><img src="pic.png"/>`

	snap := normalizeSection(doc, "n|1", 0, markup, nil)
	assert.Equal(t, []string{"pic.png"}, snap.ResourceRefs)
}

func TestNormalizeStripsAnchorsFromRefs(t *testing.T) {
	doc := testutil.NewFakeDoc("n", 1)
	markup := `<img src="pic.svg#icon"/>`

	snap := normalizeSection(doc, "n|1", 0, markup, nil)
	assert.Equal(t, []string{"pic.svg"}, snap.ResourceRefs)
}
