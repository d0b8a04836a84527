package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/bookid"
	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/engine"
	"github.com/mmcdole/folio/internal/render"
	"github.com/mmcdole/folio/internal/testutil"
)

// bookFixture registers a fake book under a real file path so bookId
// derivation can stat it.
func bookFixture(t *testing.T, title string, sections int) (string, *testutil.FakeDoc, *testutil.FakeEngine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), title+".epub")
	require.NoError(t, os.WriteFile(path, []byte(title), 0644))
	eng := testutil.NewFakeEngine()
	doc := testutil.NewFakeDoc(title, sections)
	eng.Docs[path] = doc
	return path, doc, eng
}

func TestOpenBookParsesOnce(t *testing.T) {
	path, _, eng := bookFixture(t, "alpha", 3)
	svc := NewReaderService(engine.NewRegistry(eng), nil, testConfig(), discardLogger())
	defer svc.Close()

	session, err := svc.OpenBook(context.Background(), path)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, 1, eng.Opens())
	assert.Equal(t, 3, session.SectionCount())
	assert.Equal(t, "alpha", session.Metadata().Title)
}

func TestOpenBookConsumesPreload(t *testing.T) {
	path, _, eng := bookFixture(t, "beta", 3)
	svc := NewReaderService(engine.NewRegistry(eng), nil, testConfig(), discardLogger())
	defer svc.Close()

	svc.Preload(path)
	session, err := svc.OpenBook(context.Background(), path)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, 1, eng.Opens(), "preloaded parse served the open")
}

func TestOpenBookSurfacesLoadFailure(t *testing.T) {
	svc := NewReaderService(engine.NewRegistry(testutil.NewFakeEngine()), nil, testConfig(), discardLogger())
	defer svc.Close()

	_, err := svc.OpenBook(context.Background(), "/nonexistent/book.epub")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestOpenBookPersistsMetadata(t *testing.T) {
	tier := newTestStore(t)
	path, _, eng := bookFixture(t, "gamma", 4)
	svc := NewReaderService(engine.NewRegistry(eng), tier, testConfig(), discardLogger())
	defer svc.Close()

	session, err := svc.OpenBook(context.Background(), path)
	require.NoError(t, err)
	defer session.Close()

	require.Eventually(t, func() bool {
		meta, err := svc.Metadata(context.Background(), session.BookID())
		return err == nil && meta.SectionCount == 4
	}, time.Second, 10*time.Millisecond)
}

func TestOpenBookDerivesContentHashID(t *testing.T) {
	path, doc, eng := bookFixture(t, "delta", 2)
	svc := NewReaderService(engine.NewRegistry(eng), nil, testConfig(), discardLogger())
	defer svc.Close()

	session, err := svc.OpenBook(context.Background(), path)
	require.NoError(t, err)
	defer session.Close()

	want, err := bookid.DeriveFromFile(doc.Metadata(), path)
	require.NoError(t, err)
	assert.Equal(t, want, session.BookID(), "open books are keyed by the content fingerprint")
}

func TestOpenBookAliasesFastIDForPreloadSkip(t *testing.T) {
	tier := newTestStore(t)
	path, _, eng := bookFixture(t, "epsilon", 2)
	svc := NewReaderService(engine.NewRegistry(eng), tier, testConfig(), discardLogger())
	defer svc.Close()
	ctx := context.Background()

	session, err := svc.OpenBook(ctx, path)
	require.NoError(t, err)
	defer session.Close()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	fastID := bookid.FastDerive(path, fi.Size(), fi.ModTime())
	require.Eventually(t, func() bool {
		_, err := svc.Metadata(ctx, fastID)
		return err == nil
	}, time.Second, 10*time.Millisecond, "metadata alias under the fast id")

	// The preloader derives the fast id; the persisted alias makes a later
	// speculative load a no-op.
	svc.Preload(path)
	assert.False(t, svc.preloader.Has(path))
	assert.Equal(t, 1, eng.Opens())
}

// slotSurface is a minimal surface: every section occupies a fixed-height
// slot at index*slotHeight.
type slotSurface struct {
	mu         sync.Mutex
	slotHeight float64
	viewH      float64
	content    float64
	scroll     float64
	inserted   map[int]bool
}

func newSlotSurface(slotHeight, viewH, content float64) *slotSurface {
	return &slotSurface{slotHeight: slotHeight, viewH: viewH, content: content, inserted: make(map[int]bool)}
}

func (s *slotSurface) InsertSection(content *render.RenderedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted[content.Index] = true
	return nil
}

func (s *slotSurface) InsertSeparator(int) {}

func (s *slotSurface) SectionExtent(index int) (render.Extent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inserted[index] {
		return render.Extent{}, false
	}
	return render.Extent{Top: float64(index) * s.slotHeight, Height: s.slotHeight}, true
}

func (s *slotSurface) Viewport() (float64, float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll, s.viewH, s.content
}

func (s *slotSurface) ScrollTo(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = offset
}

func (s *slotSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = make(map[int]bool)
}

// Position round trip: jump to 5.5, tear the session down, reopen and
// restore; the recomputed progress lands within epsilon of the saved value.
func TestPositionSurvivesReload(t *testing.T) {
	tier := newTestStore(t)
	path, doc, eng := bookFixture(t, "roundtrip", 10)
	svc := NewReaderService(engine.NewRegistry(eng), tier, testConfig(), discardLogger())
	defer svc.Close()
	ctx := context.Background()

	openRenderer := func() (*ReaderSession, *render.ContinuousRenderer, *slotSurface, *[]domain.Progress) {
		session, err := svc.OpenBook(ctx, path)
		require.NoError(t, err)
		surface := newSlotSurface(100, 10, 1000)
		var progress []domain.Progress
		r := render.NewContinuous(render.ContinuousConfig{
			Loader:       session,
			Surface:      surface,
			SectionCount: session.SectionCount(),
			Logger:       discardLogger(),
			OnProgress:   func(p domain.Progress) { progress = append(progress, p) },
		})
		return session, r, surface, &progress
	}

	session, renderer, _, progress := openRenderer()
	renderer.GoToProgress(ctx, domain.MakeProgress(5, 0.5))
	require.NotEmpty(t, *progress)
	saved := (*progress)[len(*progress)-1]
	require.InDelta(t, 5.5, float64(saved), 1e-9)
	renderer.Close()
	require.NoError(t, session.Close())

	// Reopen: sections now come from the persistent tier, not a re-parse.
	loadsBefore := doc.Loads(5)
	session2, renderer2, surface2, progress2 := openRenderer()
	defer session2.Close()

	done := make(chan struct{})
	renderer2.RestorePosition(ctx, saved, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restore never completed")
	}

	// Recompute progress from the restored scroll offset.
	renderer2.HandleScroll(ctx)
	got := (*progress2)[len(*progress2)-1]
	assert.InDelta(t, float64(saved), float64(got), 0.01)
	assert.Equal(t, 5, got.Section())

	top, _, _ := surface2.Viewport()
	assert.InDelta(t, 550.0, top, 1e-9)
	assert.LessOrEqual(t, doc.Loads(5)-loadsBefore, 1)
}
