package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mmcdole/folio/internal/domain"
)

// fakeLoader serves synthetic snapshots and records every call.
type fakeLoader struct {
	mu           sync.Mutex
	fail         map[int]bool
	loads        map[int]int
	materialized map[int]int
	primed       map[int]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		fail:         make(map[int]bool),
		loads:        make(map[int]int),
		materialized: make(map[int]int),
		primed:       make(map[int]int),
	}
}

func (l *fakeLoader) LoadSection(ctx context.Context, index int) (*domain.SectionSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[index]++
	if l.fail[index] {
		return nil, errors.New("load failed")
	}
	return &domain.SectionSnapshot{
		BookID: "book",
		Index:  index,
		Markup: fmt.Sprintf("<p>section %d</p>", index),
	}, nil
}

func (l *fakeLoader) Materialize(ctx context.Context, snap *domain.SectionSnapshot) (*RenderedContent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.materialized[snap.Index]++
	return &RenderedContent{Index: snap.Index, Markup: snap.Markup, Styles: snap.Styles}, nil
}

func (l *fakeLoader) Prime(ctx context.Context, snap *domain.SectionSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.primed[snap.Index]++
	return nil
}

func (l *fakeLoader) loadCount(index int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[index]
}

// fakeSurface lays sections out in fixed-height slots at index*secHeight.
// Content height is set explicitly by each test.
type fakeSurface struct {
	mu         sync.Mutex
	secHeight  float64
	viewH      float64
	content    float64
	scroll     float64
	inserted   map[int]bool
	separators []int
	clears     int
}

func newFakeSurface(secHeight, viewH, content float64) *fakeSurface {
	return &fakeSurface{
		secHeight: secHeight,
		viewH:     viewH,
		content:   content,
		inserted:  make(map[int]bool),
	}
}

func (s *fakeSurface) InsertSection(content *RenderedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted[content.Index] = true
	return nil
}

func (s *fakeSurface) InsertSeparator(gapIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.separators = append(s.separators, gapIndex)
}

func (s *fakeSurface) SectionExtent(index int) (Extent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inserted[index] {
		return Extent{}, false
	}
	return Extent{Top: float64(index) * s.secHeight, Height: s.secHeight}, true
}

func (s *fakeSurface) Viewport() (float64, float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll, s.viewH, s.content
}

func (s *fakeSurface) ScrollTo(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = offset
}

func (s *fakeSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = make(map[int]bool)
	s.separators = nil
	s.clears++
}

func (s *fakeSurface) has(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted[index]
}

func (s *fakeSurface) setScroll(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scroll = offset
}
