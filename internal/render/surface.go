// Package render materializes cached section snapshots onto a scrollable
// surface and maps scroll position to fractional reading progress. Two
// renderers share one loader contract: the continuous renderer stacks
// sections vertically as they come into view, the paginated renderer shows
// exactly one section at a time.
package render

// RenderedContent is a section ready for insertion into a surface: markup
// and styles with every resource placeholder substituted by a live handle
// token.
type RenderedContent struct {
	Index  int
	Markup string
	Styles []string
	Anchor string
}

// Extent is a vertical slice of the surface, in surface units (lines for a
// terminal viewport).
type Extent struct {
	Top    float64
	Height float64
}

// Surface is the rendering target the renderers drive. Implementations keep
// their own locking; renderers never call back into a surface while holding
// their own mutex.
type Surface interface {
	InsertSection(content *RenderedContent) error

	// InsertSeparator places a structural divider below the section at
	// gapIndex.
	InsertSeparator(gapIndex int)

	// SectionExtent reports where an inserted section sits, false when the
	// section is not on the surface.
	SectionExtent(index int) (Extent, bool)

	// Viewport returns the scroll offset, viewport height and total content
	// height.
	Viewport() (top, height, contentHeight float64)

	ScrollTo(offset float64)

	// Clear removes all inserted content.
	Clear()
}
