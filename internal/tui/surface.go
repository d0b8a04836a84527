package tui

import (
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"

	"github.com/mmcdole/folio/internal/render"
	"github.com/mmcdole/folio/internal/tui/styles"
)

// viewportSurface implements render.Surface over a bubbles viewport.
// Sections are stacked in index order as lines of wrapped text; extents are
// measured in lines.
type viewportSurface struct {
	mu         sync.Mutex
	vp         viewport.Model
	width      int
	contents   map[int]*render.RenderedContent
	lines      map[int][]string
	separators map[int]bool
}

func newViewportSurface(width, height int) *viewportSurface {
	return &viewportSurface{
		vp:         viewport.New(width, height),
		width:      width,
		contents:   make(map[int]*render.RenderedContent),
		lines:      make(map[int][]string),
		separators: make(map[int]bool),
	}
}

func (s *viewportSurface) InsertSection(content *render.RenderedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[content.Index] = content
	s.lines[content.Index] = markupToLines(content.Markup, s.textWidth())
	s.rebuildLocked()
	return nil
}

func (s *viewportSurface) InsertSeparator(gapIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.separators[gapIndex] = true
	s.rebuildLocked()
}

func (s *viewportSurface) SectionExtent(index int) (render.Extent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := 0
	for _, idx := range s.sortedLocked() {
		height := len(s.lines[idx])
		if idx == index {
			return render.Extent{Top: float64(top), Height: float64(height)}, true
		}
		top += height
		if s.separators[idx] {
			top++
		}
	}
	return render.Extent{}, false
}

func (s *viewportSurface) Viewport() (float64, float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.vp.YOffset), float64(s.vp.Height), float64(s.vp.TotalLineCount())
}

func (s *viewportSurface) ScrollTo(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.SetYOffset(int(offset))
}

func (s *viewportSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents = make(map[int]*render.RenderedContent)
	s.lines = make(map[int][]string)
	s.separators = make(map[int]bool)
	s.vp.SetContent("")
	s.vp.SetYOffset(0)
}

// scrollBy moves the viewport by n lines, clamped by the viewport itself.
func (s *viewportSurface) scrollBy(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp.SetYOffset(s.vp.YOffset + n)
}

func (s *viewportSurface) height() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.Height
}

func (s *viewportSurface) setSize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.vp.Width = width
	s.vp.Height = height
	// Re-wrap everything at the new width.
	for idx, content := range s.contents {
		s.lines[idx] = markupToLines(content.Markup, s.textWidth())
	}
	s.rebuildLocked()
}

func (s *viewportSurface) view() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.View()
}

func (s *viewportSurface) textWidth() int {
	w := s.width - 4
	if w < 20 {
		w = 20
	}
	return w
}

func (s *viewportSurface) sortedLocked() []int {
	indexes := make([]int, 0, len(s.lines))
	for idx := range s.lines {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

func (s *viewportSurface) rebuildLocked() {
	offset := s.vp.YOffset
	var all []string
	for _, idx := range s.sortedLocked() {
		all = append(all, s.lines[idx]...)
		if s.separators[idx] {
			all = append(all, styles.SeparatorStyle.Render(strings.Repeat("─", s.textWidth())))
		}
	}
	s.vp.SetContent(strings.Join(all, "\n"))
	s.vp.SetYOffset(offset)
}
