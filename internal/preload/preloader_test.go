package preload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/folio/internal/domain"
	"github.com/mmcdole/folio/internal/testutil"
)

// gatedOpener blocks every Open until released.
type gatedOpener struct {
	inner   *testutil.FakeEngine
	release chan struct{}
	once    sync.Once
}

func newGatedOpener(inner *testutil.FakeEngine) *gatedOpener {
	return &gatedOpener{inner: inner, release: make(chan struct{})}
}

func (g *gatedOpener) Open(ctx context.Context, path string) (domain.Document, error) {
	<-g.release
	return g.inner.Open(ctx, path)
}

func (g *gatedOpener) Release() { g.once.Do(func() { close(g.release) }) }

type fakeChecker struct{ known map[string]bool }

func (c *fakeChecker) HasMetadata(ctx context.Context, bookID string) bool {
	return c.known[bookID]
}

func TestPreloadAndGet(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.Docs["moby.epub"] = testutil.NewFakeDoc("moby", 10)
	p := New(engine, nil, nil)

	p.Preload("moby.epub")
	require.True(t, p.Has("moby.epub"))

	doc := p.Get(context.Background(), "moby.epub")
	require.NotNil(t, doc)
	assert.Equal(t, 10, doc.SectionCount())

	// Ownership passed to the caller; the entry is consumed.
	assert.False(t, p.Has("moby.epub"))
	assert.Nil(t, p.Get(context.Background(), "moby.epub"))
}

func TestPreloadSingleFlight(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.Docs["moby.epub"] = testutil.NewFakeDoc("moby", 3)
	gate := newGatedOpener(engine)
	p := New(gate, nil, nil)

	// Repeated triggers for the same derived bookId are no-ops.
	p.Preload("moby.epub")
	p.Preload("moby.epub")
	p.Preload("moby.epub")
	gate.Release()

	require.NotNil(t, p.Get(context.Background(), "moby.epub"))
	assert.Equal(t, 1, engine.Opens(), "the parse must run exactly once")
}

func TestPreloadFailureRemovesEntry(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.FailPaths["broken.epub"] = true
	engine.Docs["broken.epub"] = testutil.NewFakeDoc("broken", 1)
	p := New(engine, nil, nil)

	p.Preload("broken.epub")
	assert.Nil(t, p.Get(context.Background(), "broken.epub"), "failed load resolves to nil")
	assert.False(t, p.Has("broken.epub"), "no cached rejection is left behind")
	assert.Zero(t, p.EstimatedMB())
}

func TestPreloadSkipsWhenMetadataPersisted(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.Docs["known.epub"] = testutil.NewFakeDoc("known", 2)
	checker := &fakeChecker{known: map[string]bool{}}
	p := New(engine, checker, nil)

	// Mark the derived id as persisted. The id depends on the path only
	// (the fixture file does not exist), so derive it the same way.
	checker.known[p.deriveID("known.epub")] = true

	p.Preload("known.epub")
	assert.False(t, p.Has("known.epub"))
	assert.Zero(t, engine.Opens(), "speculative parse skipped entirely")
}

func TestPreloadEvictsOldestOverBudget(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.Docs["a.epub"] = testutil.NewFakeDoc("a", 1)
	engine.Docs["b.epub"] = testutil.NewFakeDoc("b", 1)
	gate := newGatedOpener(engine)
	// Budget fits one base estimate but not two.
	p := New(gate, nil, nil, WithBudgetMB(6))

	p.Preload("a.epub")
	p.Preload("b.epub")
	gate.Release()

	assert.False(t, p.Has("a.epub"), "oldest entry evicted under memory pressure")
	require.NotNil(t, p.Get(context.Background(), "b.epub"))
	assert.Nil(t, p.Get(context.Background(), "a.epub"))
}

func TestPreloadEvictedMidFlightKeepsConsumerDocumentOpen(t *testing.T) {
	engine := testutil.NewFakeEngine()
	docA := testutil.NewFakeDoc("alpha", 1)
	engine.Docs["alpha.epub"] = docA
	engine.Docs["beta.epub"] = testutil.NewFakeDoc("beta", 1)
	gate := newGatedOpener(engine)
	// Budget fits one base estimate but not two.
	p := New(gate, nil, nil, WithBudgetMB(6))

	// alpha's flight blocks on the gate; beta's arrival evicts the alpha
	// entry mid-flight; the third call re-registers alpha and joins the
	// still-outstanding flight.
	p.Preload("alpha.epub")
	p.Preload("beta.epub")
	p.Preload("alpha.epub")
	gate.Release()

	doc := p.Get(context.Background(), "alpha.epub")
	require.NotNil(t, doc)
	assert.Equal(t, 1, doc.SectionCount())

	// The evicted entry's goroutine shares the flight's result with the
	// consumer and must not close it out from under them.
	assert.Never(t, func() bool { return docA.Closed }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestPreloadEstimateRefinedAfterLoad(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.Docs["big.epub"] = testutil.NewFakeDoc("big", 40)
	gate := newGatedOpener(engine)
	p := New(gate, nil, nil)

	p.Preload("big.epub")
	assert.InDelta(t, baseEstimateMB, p.EstimatedMB(), 0.01, "base estimate before the parse settles")

	gate.Release()
	// Wait for the load to settle without consuming the entry.
	require.Eventually(t, func() bool {
		return p.EstimatedMB() > baseEstimateMB
	}, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, baseEstimateMB+40*perSectionEstimateMB, p.EstimatedMB(), 0.01)
}

func TestClearClosesDocument(t *testing.T) {
	engine := testutil.NewFakeEngine()
	doc := testutil.NewFakeDoc("moby", 2)
	engine.Docs["moby.epub"] = doc
	p := New(engine, nil, nil)

	p.Preload("moby.epub")
	// Ensure the load settled before clearing.
	require.Eventually(t, func() bool { return p.EstimatedMB() > baseEstimateMB }, 2*time.Second, 10*time.Millisecond)

	p.Clear("moby.epub")
	assert.False(t, p.Has("moby.epub"))
	assert.True(t, doc.Closed)
	assert.Zero(t, p.EstimatedMB())
}

func TestClearAll(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.Docs["a.epub"] = testutil.NewFakeDoc("a", 1)
	engine.Docs["b.epub"] = testutil.NewFakeDoc("b", 1)
	p := New(engine, nil, nil)

	p.Preload("a.epub")
	p.Preload("b.epub")
	p.ClearAll()

	assert.False(t, p.Has("a.epub"))
	assert.False(t, p.Has("b.epub"))
	assert.Zero(t, p.EstimatedMB())
}
