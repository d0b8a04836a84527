package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/folio/internal/library"
	"github.com/mmcdole/folio/internal/service"
	"github.com/mmcdole/folio/internal/tui/styles"
)

// LibraryModel lists the books in the configured directory. Moving the
// cursor speculatively preloads the highlighted book so opening it is
// instant.
type LibraryModel struct {
	svc     *service.ReaderService
	scanner *library.Scanner
	keys    KeyMap

	books   []library.Book
	cursor  int
	width   int
	height  int
	opening bool
	err     error
}

func newLibraryModel(svc *service.ReaderService, scanner *library.Scanner, width, height int) *LibraryModel {
	return &LibraryModel{
		svc:     svc,
		scanner: scanner,
		keys:    DefaultKeyMap(),
		width:   width,
		height:  height,
	}
}

func (m *LibraryModel) scanCmd() tea.Cmd {
	return func() tea.Msg {
		books, err := m.scanner.Scan(context.Background())
		if err != nil {
			return scanErrMsg{err: err}
		}
		return booksLoadedMsg{books: books}
	}
}

func (m *LibraryModel) openCmd(path string) tea.Cmd {
	m.opening = true
	return func() tea.Msg {
		session, err := m.svc.OpenBook(context.Background(), path)
		if err != nil {
			return openErrMsg{err: err}
		}
		return bookOpenedMsg{session: session}
	}
}

func (m *LibraryModel) setSize(width, height int) {
	m.width = width
	m.height = height
}

// preloadSelected warms the highlighted book's metadata in the background.
func (m *LibraryModel) preloadSelected() {
	if m.cursor < len(m.books) {
		m.svc.Preload(m.books[m.cursor].Path)
	}
}

func (m *LibraryModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case booksLoadedMsg:
		m.books = msg.books
		m.err = nil
		if m.cursor >= len(m.books) {
			m.cursor = 0
		}
		m.preloadSelected()
	case scanErrMsg:
		m.err = msg.err
	case openErrMsg:
		m.opening = false
		m.err = msg.err
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return nil
}

func (m *LibraryModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.opening {
		return nil
	}
	switch {
	case key.Matches(msg, m.keys.Down):
		if len(m.books) > 0 {
			m.cursor = (m.cursor + 1) % len(m.books)
			m.preloadSelected()
		}
	case key.Matches(msg, m.keys.Up):
		if len(m.books) > 0 {
			m.cursor = (m.cursor - 1 + len(m.books)) % len(m.books)
			m.preloadSelected()
		}
	case key.Matches(msg, m.keys.Home):
		m.cursor = 0
		m.preloadSelected()
	case key.Matches(msg, m.keys.End):
		if len(m.books) > 0 {
			m.cursor = len(m.books) - 1
			m.preloadSelected()
		}
	case key.Matches(msg, m.keys.Enter):
		if m.cursor < len(m.books) {
			return m.openCmd(m.books[m.cursor].Path)
		}
	}
	return nil
}

func (m *LibraryModel) View() string {
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("Library") + "\n\n")

	if m.err != nil {
		b.WriteString(styles.ErrorStyle.Render(m.err.Error()) + "\n\n")
	}
	if len(m.books) == 0 {
		b.WriteString(styles.DimStyle.Render("no books found"))
		return b.String()
	}

	rows := m.height - 5
	if rows < 1 {
		rows = 1
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	for i := start; i < len(m.books) && i < start+rows; i++ {
		book := m.books[i]
		row := fmt.Sprintf("%-40s %8s", book.Name, formatSize(book.Size))
		if i == m.cursor {
			b.WriteString(styles.SelectedItemStyle.Render(row) + "\n")
		} else {
			b.WriteString(styles.NormalItemStyle.Render(row) + "\n")
		}
	}

	b.WriteString("\n" + styles.DimStyle.Render("enter open  j/k move  q quit"))
	return b.String()
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
