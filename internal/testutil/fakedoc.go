// Package testutil provides in-memory fakes for the parser collaborator.
package testutil

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/folio/internal/domain"
)

// FakeSection is one synthetic spine entry.
type FakeSection struct {
	Path      string
	Markup    string
	Styles    []string
	Resources []string // Refs as they appear in the markup, resolved via path.Join of the section dir
}

// FakeDoc implements domain.Document over in-memory fixtures.
type FakeDoc struct {
	Meta      domain.BookMetadata
	TocNodes  []*domain.TocNode
	Sections  []FakeSection
	Blobs     map[string][]byte // Archive path -> bytes
	Mimes     map[string]string
	FailIndex int // RawSection for this index fails; -1 disables

	mu           sync.Mutex
	SectionLoads map[int]int // Parse counts per index
	Closed       bool
}

// NewFakeDoc builds a document with n plain sections named sec000.xhtml.. .
func NewFakeDoc(title string, n int) *FakeDoc {
	d := &FakeDoc{
		Meta:         domain.BookMetadata{Identifier: "urn:" + title, Title: title, Format: domain.FormatEPUB},
		Blobs:        make(map[string][]byte),
		Mimes:        make(map[string]string),
		FailIndex:    -1,
		SectionLoads: make(map[int]int),
	}
	for i := 0; i < n; i++ {
		d.Sections = append(d.Sections, FakeSection{
			Path:   fmt.Sprintf("sec%03d.xhtml", i),
			Markup: fmt.Sprintf("<h1>Section %d</h1><p>body %d</p>", i, i),
		})
	}
	return d
}

// AddResource registers a blob and references it from the given section.
func (d *FakeDoc) AddResource(sectionIndex int, ref string, data []byte, mime string) {
	sec := &d.Sections[sectionIndex]
	sec.Markup += fmt.Sprintf(`<img src="%s"/>`, ref)
	sec.Resources = append(sec.Resources, ref)
	resolved := d.ResolvePath(sectionIndex, ref)
	d.Blobs[resolved] = data
	d.Mimes[resolved] = mime
}

func (d *FakeDoc) Metadata() domain.BookMetadata { return d.Meta }
func (d *FakeDoc) Toc() []*domain.TocNode        { return d.TocNodes }
func (d *FakeDoc) SectionCount() int             { return len(d.Sections) }

func (d *FakeDoc) Spine() []domain.Section {
	spine := make([]domain.Section, len(d.Sections))
	for i, s := range d.Sections {
		spine[i] = domain.Section{Index: i, Path: s.Path}
	}
	return spine
}

func (d *FakeDoc) RawSection(ctx context.Context, index int) (string, []string, error) {
	d.mu.Lock()
	d.SectionLoads[index]++
	d.mu.Unlock()
	if index == d.FailIndex {
		return "", nil, fmt.Errorf("synthetic parse failure for section %d", index)
	}
	if index < 0 || index >= len(d.Sections) {
		return "", nil, domain.ErrNotFound
	}
	sec := d.Sections[index]
	return sec.Markup, sec.Styles, nil
}

func (d *FakeDoc) ResolvePath(sectionIndex int, ref string) string {
	if sectionIndex < 0 || sectionIndex >= len(d.Sections) {
		return ref
	}
	return path.Join(path.Dir(d.Sections[sectionIndex].Path), ref)
}

func (d *FakeDoc) ReadResource(ctx context.Context, p string) ([]byte, string, error) {
	data, ok := d.Blobs[p]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return data, d.Mimes[p], nil
}

func (d *FakeDoc) Close() error {
	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return nil
}

// Loads returns how many times section index was parsed.
func (d *FakeDoc) Loads(index int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SectionLoads[index]
}

// FakeEngine opens FakeDocs registered by path.
type FakeEngine struct {
	Docs      map[string]*FakeDoc
	FailPaths map[string]bool

	opens atomic.Int64
}

// NewFakeEngine creates an empty engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Docs:      make(map[string]*FakeDoc),
		FailPaths: make(map[string]bool),
	}
}

func (e *FakeEngine) Format() domain.Format    { return domain.FormatEPUB }
func (e *FakeEngine) CanOpen(path string) bool { _, ok := e.Docs[path]; return ok }

func (e *FakeEngine) Open(ctx context.Context, path string) (domain.Document, error) {
	e.opens.Add(1)
	if e.FailPaths[path] {
		return nil, domain.ErrInvalidDocument
	}
	doc, ok := e.Docs[path]
	if !ok {
		return nil, domain.ErrInvalidDocument
	}
	return doc, nil
}

// Opens returns the number of Open calls.
func (e *FakeEngine) Opens() int { return int(e.opens.Load()) }
