package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/mmcdole/folio/internal/domain"
)

// SectionLoader supplies renderable sections. Implementations load through
// the tiered caches and fall back to a full document parse.
type SectionLoader interface {
	LoadSection(ctx context.Context, index int) (*domain.SectionSnapshot, error)

	// Materialize turns a snapshot into surface-ready content, pinning every
	// referenced resource until the render session is torn down.
	Materialize(ctx context.Context, snap *domain.SectionSnapshot) (*RenderedContent, error)

	// Prime loads a snapshot's resources into the cache tiers without
	// pinning them or issuing handles. Used by warmup.
	Prime(ctx context.Context, snap *domain.SectionSnapshot) error
}

type sectionState int

const (
	stateUnseen sectionState = iota
	stateRendering
	stateRendered
)

const (
	frameInterval  = 16 * time.Millisecond
	settleDelay    = 150 * time.Millisecond
	pollDelay      = 40 * time.Millisecond
	pollAttempts   = 5
	prefetchWindow = 1

	// Within this distance of the content bottom the viewport center is
	// ambiguous, so progress snaps to the last section.
	bottomSlack = 2.0
)

var errNotMaterialized = errors.New("section not materialized")

// ContinuousConfig wires a continuous renderer.
type ContinuousConfig struct {
	Loader       SectionLoader
	Surface      Surface
	SectionCount int
	Logger       *slog.Logger

	// OnProgress receives the precise position after each progress
	// recomputation. OnSection fires when the current section changes.
	OnProgress func(domain.Progress)
	OnSection  func(index int)
}

// ContinuousRenderer materializes sections into a scrollable surface as they
// come into view. Per-index state runs unseen, rendering, rendered; a failed
// render drops back to unseen and is retried on the next visibility trigger.
type ContinuousRenderer struct {
	cfg    ContinuousConfig
	logger *slog.Logger

	mu         sync.Mutex
	states     map[int]sectionState
	separators map[int]bool
	navigating bool
	current    int
	progress   domain.Progress
	lastFrame  time.Time

	now    func() time.Time
	settle time.Duration
	poll   time.Duration
}

func NewContinuous(cfg ContinuousConfig) *ContinuousRenderer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ContinuousRenderer{
		cfg:        cfg,
		logger:     logger,
		states:     make(map[int]sectionState),
		separators: make(map[int]bool),
		current:    -1,
		now:        time.Now,
		settle:     settleDelay,
		poll:       pollDelay,
	}
}

// Current returns the section index progress last resolved to, -1 before any
// scroll or jump.
func (r *ContinuousRenderer) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Progress returns the last computed precise position.
func (r *ContinuousRenderer) Progress() domain.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// SectionVisible is the viewport visibility trigger: it materializes the
// visible index plus one section on either side. Suppressed while a
// programmatic jump is in flight.
func (r *ContinuousRenderer) SectionVisible(ctx context.Context, index int) {
	r.mu.Lock()
	navigating := r.navigating
	r.mu.Unlock()
	if navigating {
		return
	}
	r.renderSection(ctx, index)
	r.renderSection(ctx, index+prefetchWindow)
	r.renderSection(ctx, index-prefetchWindow)
}

// renderSection materializes one section onto the surface. Idempotent under
// overlapping triggers: a call for an index already rendering or rendered is
// a silent no-op. Failures are logged, never propagated.
func (r *ContinuousRenderer) renderSection(ctx context.Context, index int) {
	if index < 0 || index >= r.cfg.SectionCount {
		return
	}
	r.mu.Lock()
	if r.states[index] != stateUnseen {
		r.mu.Unlock()
		return
	}
	r.states[index] = stateRendering
	r.mu.Unlock()

	snap, err := r.cfg.Loader.LoadSection(ctx, index)
	var content *RenderedContent
	if err == nil {
		content, err = r.cfg.Loader.Materialize(ctx, snap)
	}
	if err == nil {
		err = r.cfg.Surface.InsertSection(content)
	}

	r.mu.Lock()
	if err != nil {
		delete(r.states, index)
		r.mu.Unlock()
		r.logger.Warn("section render failed", "index", index, "error", err)
		return
	}
	r.states[index] = stateRendered
	// The separator below a section goes in once that section has rendered,
	// so its presence always means content exists above it.
	separator := index < r.cfg.SectionCount-1 && !r.separators[index]
	if separator {
		r.separators[index] = true
	}
	r.mu.Unlock()

	if separator {
		r.cfg.Surface.InsertSeparator(index)
	}
}

// HandleScroll recomputes progress from the current viewport, at most once
// per frame interval. The visibility trigger and both callbacks are
// suppressed during programmatic navigation.
func (r *ContinuousRenderer) HandleScroll(ctx context.Context) {
	r.mu.Lock()
	if r.navigating || r.now().Sub(r.lastFrame) < frameInterval {
		r.mu.Unlock()
		return
	}
	r.lastFrame = r.now()
	r.mu.Unlock()

	index, fraction, ok := r.locate()
	if !ok {
		return
	}

	r.SectionVisible(ctx, index)

	p := domain.MakeProgress(index, fraction)
	r.mu.Lock()
	changed := index != r.current
	r.current = index
	r.progress = p
	r.mu.Unlock()

	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(p)
	}
	if changed && r.cfg.OnSection != nil {
		r.cfg.OnSection(index)
	}
}

// locate finds the section whose extent contains the viewport's vertical
// center, snapping to the last section near the content bottom.
func (r *ContinuousRenderer) locate() (int, float64, bool) {
	top, height, contentHeight := r.cfg.Surface.Viewport()
	if contentHeight <= 0 || r.cfg.SectionCount == 0 {
		return 0, 0, false
	}

	if top+height >= contentHeight-bottomSlack {
		last := r.cfg.SectionCount - 1
		if ext, ok := r.cfg.Surface.SectionExtent(last); ok && ext.Height > 0 {
			return last, domain.Clamp01((top - ext.Top) / ext.Height), true
		}
	}

	center := top + height/2
	for i := 0; i < r.cfg.SectionCount; i++ {
		ext, ok := r.cfg.Surface.SectionExtent(i)
		if !ok || ext.Height <= 0 {
			continue
		}
		if center >= ext.Top && center < ext.Top+ext.Height {
			return i, domain.Clamp01((top - ext.Top) / ext.Height), true
		}
	}
	return 0, 0, false
}

// GoToProgress jumps to a fractional position. Visibility triggers and
// progress callbacks stay suppressed until the view settles, then the target
// and its neighbours are re-rendered since the trigger was muted during the
// jump.
func (r *ContinuousRenderer) GoToProgress(ctx context.Context, p domain.Progress) {
	if r.cfg.SectionCount == 0 {
		return
	}
	target := p.Section()
	if target >= r.cfg.SectionCount {
		target = r.cfg.SectionCount - 1
	}

	r.mu.Lock()
	r.navigating = true
	r.mu.Unlock()

	r.renderSection(ctx, target)

	// Apply the fractional offset once the section is confirmed on the
	// surface. Bounded polling; giving up leaves the view where it is.
	err := retry.Do(
		func() error {
			ext, ok := r.cfg.Surface.SectionExtent(target)
			if !ok || !r.isRendered(target) {
				return errNotMaterialized
			}
			r.cfg.Surface.ScrollTo(ext.Top + p.Fraction()*ext.Height)
			return nil
		},
		retry.Attempts(pollAttempts),
		retry.Delay(r.poll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		r.logger.Warn("jump target never materialized", "index", target)
	}

	time.Sleep(r.settle)

	r.mu.Lock()
	r.navigating = false
	if err == nil {
		r.current = target
		r.progress = domain.MakeProgress(target, p.Fraction())
	}
	r.mu.Unlock()

	r.renderSection(ctx, target)
	r.renderSection(ctx, target+prefetchWindow)
	r.renderSection(ctx, target-prefetchWindow)

	if err == nil && r.cfg.OnProgress != nil {
		r.cfg.OnProgress(domain.MakeProgress(target, p.Fraction()))
	}
}

// RestorePosition reopens at a saved position. The completion callback
// always fires, even when the position could not be applied, so the caller
// is never left waiting.
func (r *ContinuousRenderer) RestorePosition(ctx context.Context, p domain.Progress, done func()) {
	if done != nil {
		defer done()
	}
	r.GoToProgress(ctx, p)
}

// Warmup loads the given sections through the cache tiers without touching
// the surface or render state, to amortize first-open latency after import.
func (r *ContinuousRenderer) Warmup(ctx context.Context, indices []int) {
	for _, index := range indices {
		if index < 0 || index >= r.cfg.SectionCount || r.isRendered(index) {
			continue
		}
		snap, err := r.cfg.Loader.LoadSection(ctx, index)
		if err != nil {
			r.logger.Debug("warmup load failed", "index", index, "error", err)
			continue
		}
		if err := r.cfg.Loader.Prime(ctx, snap); err != nil {
			r.logger.Debug("warmup prime failed", "index", index, "error", err)
		}
	}
}

func (r *ContinuousRenderer) isRendered(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[index] == stateRendered
}

// Close clears render state and the surface. Revoking handles and releasing
// resource references is the owning session's job.
func (r *ContinuousRenderer) Close() {
	r.mu.Lock()
	r.states = make(map[int]sectionState)
	r.separators = make(map[int]bool)
	r.current = -1
	r.navigating = false
	r.mu.Unlock()
	r.cfg.Surface.Clear()
}
