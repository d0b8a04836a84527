package tui

import (
	"fmt"
	"log/slog"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/folio/internal/adapter"
	"github.com/mmcdole/folio/internal/library"
	"github.com/mmcdole/folio/internal/service"
)

type appState int

const (
	stateLibrary appState = iota
	stateReading
)

// App is the root bubbletea model. It owns the library and reader views
// and routes messages to whichever is active.
type App struct {
	cfg     *adapter.Config
	svc     *service.ReaderService
	scanner *library.Scanner
	logger  *slog.Logger
	keys    KeyMap

	state     appState
	library   *LibraryModel
	reader    *ReaderModel
	startPath string
	width     int
	height    int
}

func NewApp(cfg *adapter.Config, svc *service.ReaderService, scanner *library.Scanner, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		svc:     svc,
		scanner: scanner,
		logger:  logger,
		keys:    DefaultKeyMap(),
		library: newLibraryModel(svc, scanner, 80, 24),
		width:   80,
		height:  24,
	}
}

func (a *App) Init() tea.Cmd {
	if a.startPath != "" {
		return a.library.openCmd(a.startPath)
	}
	return a.library.scanCmd()
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.library.setSize(msg.Width, msg.Height)
		if a.reader != nil {
			a.reader.setSize(msg.Width, msg.Height)
		}
		return a, nil

	case bookOpenedMsg:
		a.library.opening = false
		a.reader = newReaderModel(msg.session, a.cfg.Reader.Mode, a.width, a.height, a.logger)
		a.state = stateReading
		return a, a.reader.initCmd()

	case booksLoadedMsg:
		// The watcher can refresh the list while a book is open.
		return a, a.library.Update(msg)

	case tea.KeyMsg:
		// A search query must be able to contain any rune, so global keys
		// only apply outside it.
		if !a.typing() {
			switch {
			case key.Matches(msg, a.keys.Quit):
				a.closeReader()
				return a, tea.Quit
			case key.Matches(msg, a.keys.Back):
				if a.state == stateReading {
					a.closeReader()
					a.state = stateLibrary
					return a, nil
				}
			}
		}
	}

	if a.state == stateReading && a.reader != nil {
		return a, a.reader.Update(msg)
	}
	return a, a.library.Update(msg)
}

// typing reports whether the reader's search overlay is capturing input.
func (a *App) typing() bool {
	return a.state == stateReading && a.reader != nil && a.reader.searching
}

func (a *App) closeReader() {
	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}
}

func (a *App) View() string {
	if a.state == stateReading && a.reader != nil {
		return a.reader.View()
	}
	return a.library.View()
}

// Run starts the terminal interface and blocks until it exits.
func Run(cfg *adapter.Config, svc *service.ReaderService, scanner *library.Scanner, logger *slog.Logger) error {
	return run(NewApp(cfg, svc, scanner, logger))
}

// RunBook opens a single book directly, skipping the library listing.
func RunBook(cfg *adapter.Config, svc *service.ReaderService, scanner *library.Scanner, path string, logger *slog.Logger) error {
	app := NewApp(cfg, svc, scanner, logger)
	app.startPath = path
	return run(app)
}

func run(app *App) error {
	program := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
