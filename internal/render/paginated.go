package render

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mmcdole/folio/internal/domain"
)

// PaginatedConfig wires a paginated renderer.
type PaginatedConfig struct {
	Loader       SectionLoader
	Surface      Surface
	SectionCount int
	Logger       *slog.Logger
	OnProgress   func(domain.Progress)
}

// PaginatedRenderer materializes exactly one section at a time into a
// full-bleed surface. Sub-section progress comes from the scroll offset
// inside the rendered section.
type PaginatedRenderer struct {
	cfg    PaginatedConfig
	logger *slog.Logger

	mu        sync.Mutex
	current   int
	progress  domain.Progress
	rendering bool
}

func NewPaginated(cfg PaginatedConfig) *PaginatedRenderer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PaginatedRenderer{cfg: cfg, logger: logger, current: -1}
}

// Current returns the materialized section index, -1 before the first
// render.
func (p *PaginatedRenderer) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// GoToPage renders the integer part of page and applies any fractional
// remainder as a proportional scroll offset. Switching sections resets
// scroll to the top unless a fraction is supplied.
func (p *PaginatedRenderer) GoToPage(ctx context.Context, page float64) {
	if p.cfg.SectionCount == 0 {
		return
	}
	prog := domain.Progress(page)
	index := prog.Section()
	fraction := prog.Fraction()
	if index >= p.cfg.SectionCount {
		index = p.cfg.SectionCount - 1
		fraction = 0
	}
	p.renderSection(ctx, index, fraction)
}

// Next advances to the following section, clamped at the last.
func (p *PaginatedRenderer) Next(ctx context.Context) {
	p.GoToPage(ctx, float64(p.Current()+1))
}

// Previous moves to the preceding section, clamped at the first.
func (p *PaginatedRenderer) Previous(ctx context.Context) {
	current := p.Current()
	if current <= 0 {
		return
	}
	p.GoToPage(ctx, float64(current-1))
}

func (p *PaginatedRenderer) renderSection(ctx context.Context, index int, fraction float64) {
	p.mu.Lock()
	if p.rendering {
		p.mu.Unlock()
		return
	}
	p.rendering = true
	same := index == p.current
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.rendering = false
		p.mu.Unlock()
	}()

	if !same {
		snap, err := p.cfg.Loader.LoadSection(ctx, index)
		var content *RenderedContent
		if err == nil {
			content, err = p.cfg.Loader.Materialize(ctx, snap)
		}
		if err != nil {
			p.logger.Warn("section render failed", "index", index, "error", err)
			return
		}
		p.cfg.Surface.Clear()
		if err := p.cfg.Surface.InsertSection(content); err != nil {
			p.logger.Warn("section insert failed", "index", index, "error", err)
			return
		}
		p.mu.Lock()
		p.current = index
		p.mu.Unlock()
	}

	// Scroll is applied after the surface has laid the section out.
	_, height, contentHeight := p.cfg.Surface.Viewport()
	scrollable := contentHeight - height
	switch {
	case fraction > 0 && scrollable > 0:
		p.cfg.Surface.ScrollTo(fraction * scrollable)
	case !same:
		p.cfg.Surface.ScrollTo(0)
	}

	prog := domain.MakeProgress(index, fraction)
	p.mu.Lock()
	p.progress = prog
	p.mu.Unlock()
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(prog)
	}
}

// HandleScroll reports sub-section progress from the scroll ratio inside the
// rendered section.
func (p *PaginatedRenderer) HandleScroll(ctx context.Context) {
	index := p.Current()
	if index < 0 {
		return
	}
	top, height, contentHeight := p.cfg.Surface.Viewport()
	ratio := 0.0
	if scrollable := contentHeight - height; scrollable > 0 {
		ratio = domain.Clamp01(top / scrollable)
	}
	prog := domain.MakeProgress(index, ratio)
	p.mu.Lock()
	p.progress = prog
	p.mu.Unlock()
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(prog)
	}
}

// Progress returns the last computed precise position.
func (p *PaginatedRenderer) Progress() domain.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Close clears the surface and render state.
func (p *PaginatedRenderer) Close() {
	p.mu.Lock()
	p.current = -1
	p.mu.Unlock()
	p.cfg.Surface.Clear()
}
