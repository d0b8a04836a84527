package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/nav"
	"github.com/mmcdole/folio/internal/render"
	"github.com/mmcdole/folio/internal/service"
	"github.com/mmcdole/folio/internal/tui/styles"
)

// tocEntry is one row of the contents panel.
type tocEntry struct {
	node  *domain.TocNode
	depth int
}

func flattenTocEntries(nodes []*domain.TocNode, depth int) []tocEntry {
	var entries []tocEntry
	for _, n := range nodes {
		entries = append(entries, tocEntry{node: n, depth: depth})
		entries = append(entries, flattenTocEntries(n.Children, depth+1)...)
	}
	return entries
}

// ReaderModel is the reading view: a render surface, a status bar and a
// table-of-contents overlay with fuzzy title search.
type ReaderModel struct {
	session  *service.ReaderSession
	surface  *viewportSurface
	resolver *nav.Resolver
	keys     KeyMap
	logger   *slog.Logger

	// Exactly one renderer is active, per the configured reading mode.
	continuous *render.ContinuousRenderer
	paginated  *render.PaginatedRenderer

	width   int
	height  int
	jumping bool

	showToc   bool
	searching bool
	query     string
	matches   []nav.TocMatch
	entries   []tocEntry
	cursor    int
}

func newReaderModel(session *service.ReaderSession, mode string, width, height int, logger *slog.Logger) *ReaderModel {
	surface := newViewportSurface(width, max(height-1, 1))
	m := &ReaderModel{
		session:  session,
		surface:  surface,
		resolver: nav.NewResolver(logger),
		keys:     DefaultKeyMap(),
		logger:   logger,
		width:    width,
		height:   height,
		entries:  flattenTocEntries(session.Toc(), 0),
	}
	if mode == "paginated" {
		m.paginated = render.NewPaginated(render.PaginatedConfig{
			Loader:       session,
			Surface:      surface,
			SectionCount: session.SectionCount(),
			Logger:       logger,
		})
	} else {
		m.continuous = render.NewContinuous(render.ContinuousConfig{
			Loader:       session,
			Surface:      surface,
			SectionCount: session.SectionCount(),
			Logger:       logger,
		})
	}
	return m
}

// initCmd materializes the opening of the book and warms the next sections.
func (m *ReaderModel) initCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.continuous != nil {
			m.continuous.SectionVisible(ctx, 0)
			m.continuous.HandleScroll(ctx)
			m.continuous.Warmup(ctx, []int{2, 3})
		} else {
			m.paginated.GoToPage(ctx, 0)
		}
		return jumpDoneMsg{}
	}
}

func (m *ReaderModel) progress() domain.Progress {
	if m.continuous != nil {
		return m.continuous.Progress()
	}
	return m.paginated.Progress()
}

func (m *ReaderModel) current() int {
	if m.continuous != nil {
		if idx := m.continuous.Current(); idx >= 0 {
			return idx
		}
		return 0
	}
	if idx := m.paginated.Current(); idx >= 0 {
		return idx
	}
	return 0
}

func (m *ReaderModel) jump(p domain.Progress) tea.Cmd {
	m.jumping = true
	return func() tea.Msg {
		ctx := context.Background()
		if m.continuous != nil {
			m.continuous.GoToProgress(ctx, p)
		} else {
			m.paginated.GoToPage(ctx, float64(p))
		}
		return jumpDoneMsg{}
	}
}

// scrolled recomputes progress after a viewport move.
func (m *ReaderModel) scrolled() {
	ctx := context.Background()
	if m.continuous != nil {
		m.continuous.HandleScroll(ctx)
	} else {
		m.paginated.HandleScroll(ctx)
	}
}

func (m *ReaderModel) setSize(width, height int) {
	m.width = width
	m.height = height
	m.surface.setSize(width, max(height-1, 1))
}

func (m *ReaderModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case jumpDoneMsg:
		m.jumping = false
		return nil
	case tea.KeyMsg:
		if m.showToc {
			return m.updateToc(msg)
		}
		return m.updateReading(msg)
	}
	return nil
}

func (m *ReaderModel) updateReading(msg tea.KeyMsg) tea.Cmd {
	if m.jumping {
		return nil
	}
	half := max(m.surface.height()/2, 1)
	switch {
	case key.Matches(msg, m.keys.Down):
		m.surface.scrollBy(1)
		m.scrolled()
	case key.Matches(msg, m.keys.Up):
		m.surface.scrollBy(-1)
		m.scrolled()
	case key.Matches(msg, m.keys.HalfDown):
		m.surface.scrollBy(half)
		m.scrolled()
	case key.Matches(msg, m.keys.HalfUp):
		m.surface.scrollBy(-half)
		m.scrolled()
	case key.Matches(msg, m.keys.PageDown):
		m.surface.scrollBy(half * 2)
		m.scrolled()
	case key.Matches(msg, m.keys.PageUp):
		m.surface.scrollBy(-half * 2)
		m.scrolled()
	case key.Matches(msg, m.keys.Home):
		return m.jump(domain.MakeProgress(0, 0))
	case key.Matches(msg, m.keys.End):
		return m.jump(domain.MakeProgress(m.session.SectionCount()-1, 0))
	case key.Matches(msg, m.keys.NextSection):
		next := min(m.current()+1, m.session.SectionCount()-1)
		return m.jump(domain.MakeProgress(next, 0))
	case key.Matches(msg, m.keys.PrevSection):
		prev := max(m.current()-1, 0)
		return m.jump(domain.MakeProgress(prev, 0))
	case key.Matches(msg, m.keys.Toc):
		m.openToc(false)
	case key.Matches(msg, m.keys.Search):
		m.openToc(true)
	}
	return nil
}

func (m *ReaderModel) openToc(searching bool) {
	m.showToc = true
	m.searching = searching
	m.query = ""
	m.matches = nil
	m.cursor = m.currentTocIndex()
}

// currentTocIndex returns the entry for the chapter being read.
func (m *ReaderModel) currentTocIndex() int {
	target := m.resolver.TargetFor(m.current(), m.session.Toc(), m.session.Spine())
	for i, e := range m.entries {
		if e.node.Target == target {
			return i
		}
	}
	return 0
}

func (m *ReaderModel) updateToc(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.showToc = false
		m.searching = false
		return nil
	case tea.KeyEnter:
		node := m.selectedNode()
		m.showToc = false
		m.searching = false
		if node == nil {
			return nil
		}
		idx := m.resolver.IndexFor(node.Target, m.session.Spine())
		if idx < 0 {
			return nil
		}
		return m.jump(domain.MakeProgress(idx, 0))
	case tea.KeyUp:
		m.moveCursor(-1)
		return nil
	case tea.KeyDown:
		m.moveCursor(1)
		return nil
	}

	if m.searching {
		switch msg.Type {
		case tea.KeyBackspace:
			if len(m.query) > 0 {
				m.query = m.query[:len(m.query)-1]
				m.refreshMatches()
			}
		case tea.KeyRunes, tea.KeySpace:
			m.query += msg.String()
			m.refreshMatches()
		}
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Toc):
		m.showToc = false
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.query = ""
		m.matches = nil
		m.cursor = 0
	}
	return nil
}

func (m *ReaderModel) refreshMatches() {
	m.matches = nav.SearchToc(m.query, m.session.Toc())
	m.cursor = 0
}

func (m *ReaderModel) rowCount() int {
	if m.searching && m.query != "" {
		return len(m.matches)
	}
	return len(m.entries)
}

func (m *ReaderModel) moveCursor(delta int) {
	count := m.rowCount()
	if count == 0 {
		return
	}
	m.cursor = (m.cursor + delta + count) % count
}

func (m *ReaderModel) selectedNode() *domain.TocNode {
	if m.searching && m.query != "" {
		if m.cursor < len(m.matches) {
			return m.matches[m.cursor].Node
		}
		return nil
	}
	if m.cursor < len(m.entries) {
		return m.entries[m.cursor].node
	}
	return nil
}

// Close tears down the renderer and the session.
func (m *ReaderModel) Close() {
	if m.continuous != nil {
		m.continuous.Close()
	}
	if m.paginated != nil {
		m.paginated.Close()
	}
	if err := m.session.Close(); err != nil {
		m.logger.Warn("session close failed", "error", err)
	}
}

func (m *ReaderModel) View() string {
	if m.showToc {
		return m.tocView()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.ReaderStyle.Render(m.surface.view()),
		m.statusView(),
	)
}

func (m *ReaderModel) statusView() string {
	meta := m.session.Metadata()
	count := m.session.SectionCount()
	p := m.progress()
	percent := 0.0
	if count > 0 {
		percent = float64(p) / float64(count) * 100
	}

	left := styles.TitleStyle.Render(meta.Title)
	mid := fmt.Sprintf("§%d/%d  %.0f%%", p.Section()+1, count, percent)
	if node := m.resolver.NodeFor(m.current(), m.session.Toc(), m.session.Spine()); node != nil {
		mid += "  " + node.Title
	}
	right := styles.DimStyle.Render("t contents  / search  ⌫ library  q quit")

	bar := left + "  " + styles.SubtitleStyle.Render(mid)
	pad := m.width - lipgloss.Width(bar) - lipgloss.Width(right) - 2
	if pad > 0 {
		bar += strings.Repeat(" ", pad) + right
	}
	return styles.StatusBarStyle.Width(m.width).Render(bar)
}

func (m *ReaderModel) tocView() string {
	var b strings.Builder
	if m.searching {
		b.WriteString(styles.AccentStyle.Render("/"+m.query) + "\n\n")
	} else {
		b.WriteString(styles.TitleStyle.Render("Contents") + "\n\n")
	}

	rows := m.height - 4
	if rows < 1 {
		rows = 1
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}

	if m.searching && m.query != "" {
		for i := start; i < len(m.matches) && i < start+rows; i++ {
			match := m.matches[i]
			b.WriteString(m.renderRow(highlightMatch(match.Title, match.MatchedIndexes), 0, i == m.cursor))
		}
		if len(m.matches) == 0 {
			b.WriteString(styles.DimStyle.Render("no matches"))
		}
	} else {
		for i := start; i < len(m.entries) && i < start+rows; i++ {
			e := m.entries[i]
			b.WriteString(m.renderRow(e.node.Title, e.depth, i == m.cursor))
		}
		if len(m.entries) == 0 {
			b.WriteString(styles.DimStyle.Render("no table of contents"))
		}
	}
	return styles.TocStyle.Width(max(m.width-4, 20)).Render(b.String())
}

func (m *ReaderModel) renderRow(title string, depth int, selected bool) string {
	row := strings.Repeat("  ", depth) + title
	if selected {
		return styles.SelectedItemStyle.Render(row) + "\n"
	}
	return styles.NormalItemStyle.Render(row) + "\n"
}

// highlightMatch bolds the runes the fuzzy matcher hit.
func highlightMatch(title string, indexes []int) string {
	if len(indexes) == 0 {
		return title
	}
	hit := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		hit[i] = true
	}
	var b strings.Builder
	for i, r := range []rune(title) {
		if hit[i] {
			b.WriteString(styles.MatchStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
