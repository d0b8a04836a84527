// Package engine routes archive files to the format-specific document
// parsers. The parsers themselves are collaborators behind
// domain.Engine/domain.Document; the caching and rendering layers never
// see format-specific types.
package engine

import (
	"context"
	"fmt"

	"github.com/mmcdole/folio/internal/domain"
)

// Registry selects an engine by file path.
type Registry struct {
	engines []domain.Engine
}

// NewRegistry creates a registry over the given engines, tried in order.
func NewRegistry(engines ...domain.Engine) *Registry {
	return &Registry{engines: engines}
}

// Register appends an engine.
func (r *Registry) Register(e domain.Engine) {
	r.engines = append(r.engines, e)
}

// Open parses the archive at path with the first engine that claims it.
func (r *Registry) Open(ctx context.Context, path string) (domain.Document, error) {
	for _, e := range r.engines {
		if e.CanOpen(path) {
			doc, err := e.Open(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("%s engine: %w", e.Format(), err)
			}
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, path)
}

// Formats lists the registered formats.
func (r *Registry) Formats() []domain.Format {
	formats := make([]domain.Format, len(r.engines))
	for i, e := range r.engines {
		formats[i] = e.Format()
	}
	return formats
}
