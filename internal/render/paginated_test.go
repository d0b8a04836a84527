package render

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/domain"
)

type paginatedFixture struct {
	renderer *PaginatedRenderer
	loader   *fakeLoader
	surface  *fakeSurface

	mu       sync.Mutex
	progress []domain.Progress
}

func (f *paginatedFixture) lastProgress() (domain.Progress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return 0, false
	}
	return f.progress[len(f.progress)-1], true
}

func newPaginatedFixture(count int, surface *fakeSurface) *paginatedFixture {
	f := &paginatedFixture{loader: newFakeLoader(), surface: surface}
	f.renderer = NewPaginated(PaginatedConfig{
		Loader:       f.loader,
		Surface:      surface,
		SectionCount: count,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnProgress: func(p domain.Progress) {
			f.mu.Lock()
			f.progress = append(f.progress, p)
			f.mu.Unlock()
		},
	})
	return f
}

func TestPaginatedRendersOneSectionAtATime(t *testing.T) {
	// One tall section fills the whole surface.
	f := newPaginatedFixture(5, newFakeSurface(30, 10, 30))
	ctx := context.Background()

	f.renderer.GoToPage(ctx, 2)
	assert.Equal(t, 2, f.renderer.Current())
	assert.True(t, f.surface.has(2))

	f.renderer.GoToPage(ctx, 3)
	assert.Equal(t, 3, f.renderer.Current())
	assert.True(t, f.surface.has(3))
	assert.False(t, f.surface.has(2), "previous section torn down")
}

func TestPaginatedFractionalPage(t *testing.T) {
	surface := newFakeSurface(30, 10, 30)
	f := newPaginatedFixture(5, surface)

	// Scrollable span is 30 - 10 = 20.
	f.renderer.GoToPage(context.Background(), 1.5)
	assert.InDelta(t, 10.0, surface.scroll, 1e-9)

	p, ok := f.lastProgress()
	require.True(t, ok)
	assert.InDelta(t, 1.5, float64(p), 1e-9)
}

func TestPaginatedSameSectionSkipsReload(t *testing.T) {
	surface := newFakeSurface(30, 10, 30)
	f := newPaginatedFixture(5, surface)
	ctx := context.Background()

	f.renderer.GoToPage(ctx, 1)
	f.renderer.GoToPage(ctx, 1.25)

	assert.Equal(t, 1, f.loader.loadCount(1))
	assert.InDelta(t, 5.0, surface.scroll, 1e-9)
}

func TestPaginatedSectionSwitchResetsScroll(t *testing.T) {
	surface := newFakeSurface(30, 10, 30)
	f := newPaginatedFixture(5, surface)
	ctx := context.Background()

	f.renderer.GoToPage(ctx, 1.5)
	require.InDelta(t, 10.0, surface.scroll, 1e-9)

	f.renderer.GoToPage(ctx, 2)
	assert.InDelta(t, 0.0, surface.scroll, 1e-9)
}

func TestPaginatedHandleScroll(t *testing.T) {
	surface := newFakeSurface(30, 10, 30)
	f := newPaginatedFixture(5, surface)
	ctx := context.Background()

	f.renderer.GoToPage(ctx, 1)
	surface.setScroll(10)
	f.renderer.HandleScroll(ctx)

	p, ok := f.lastProgress()
	require.True(t, ok)
	assert.InDelta(t, 1.5, float64(p), 1e-9)
}

func TestPaginatedNextPreviousClamp(t *testing.T) {
	f := newPaginatedFixture(3, newFakeSurface(30, 10, 30))
	ctx := context.Background()

	f.renderer.Next(ctx)
	assert.Equal(t, 0, f.renderer.Current())

	f.renderer.Previous(ctx)
	assert.Equal(t, 0, f.renderer.Current())

	f.renderer.GoToPage(ctx, 2)
	f.renderer.Next(ctx)
	assert.Equal(t, 2, f.renderer.Current())
}

func TestPaginatedLoadFailureKeepsCurrent(t *testing.T) {
	f := newPaginatedFixture(5, newFakeSurface(30, 10, 30))
	ctx := context.Background()

	f.renderer.GoToPage(ctx, 1)
	f.loader.fail[3] = true
	f.renderer.GoToPage(ctx, 3)

	assert.Equal(t, 1, f.renderer.Current())
	assert.True(t, f.surface.has(1), "current section stays on the surface")
	assert.False(t, f.surface.has(3))
}
