package render

import (
	"fmt"
	"sync"
)

// HandleScheme prefixes revocable binary access tokens substituted for
// resource placeholders at render time.
const HandleScheme = "folio-blob://"

// Handle is a live, revocable reference to resource bytes pinned in the
// resource cache for the duration of a render session.
type Handle struct {
	Token    string
	BookID   string
	Path     string
	MimeType string
	Data     []byte
}

// HandleRegistry issues and resolves handles for one render session.
// Handles are revoked all at once on teardown, never individually, since a
// single resource can back several rendered sections at the same time.
type HandleRegistry struct {
	mu      sync.Mutex
	seq     uint64
	handles map[string]*Handle
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[string]*Handle)}
}

// Issue registers resource bytes under a fresh token usable inside markup.
func (g *HandleRegistry) Issue(bookID, path string, data []byte, mimeType string) *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	h := &Handle{
		Token:    fmt.Sprintf("%s%d", HandleScheme, g.seq),
		BookID:   bookID,
		Path:     path,
		MimeType: mimeType,
		Data:     data,
	}
	g.handles[h.Token] = h
	return h
}

// Resolve returns the handle for a token while it remains valid.
func (g *HandleRegistry) Resolve(token string) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[token]
	return h, ok
}

// Len reports the number of live handles.
func (g *HandleRegistry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// RevokeAll invalidates every issued handle and returns them so the caller
// can release the matching resource cache references.
func (g *HandleRegistry) RevokeAll() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	revoked := make([]*Handle, 0, len(g.handles))
	for _, h := range g.handles {
		revoked = append(revoked, h)
	}
	g.handles = make(map[string]*Handle)
	return revoked
}
