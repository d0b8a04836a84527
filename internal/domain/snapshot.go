package domain

import (
	"strings"
	"time"
)

// ResourcePlaceholder is the reversible token prefix embedded in cached
// markup in place of a resource reference. Snapshots never carry live,
// environment-specific handles, so they are safe to persist as-is.
const ResourcePlaceholder = "folio-res://"

// PlaceholderFor returns the placeholder token for an archive-internal path.
func PlaceholderFor(path string) string {
	return ResourcePlaceholder + path
}

// PathFromPlaceholder reverses PlaceholderFor. ok is false when the token
// does not carry the placeholder prefix.
func PathFromPlaceholder(token string) (string, bool) {
	if !strings.HasPrefix(token, ResourcePlaceholder) {
		return "", false
	}
	return token[len(ResourcePlaceholder):], true
}

// SectionSnapshot is the renderable form of one section: normalized markup,
// extracted stylesheets and the set of resource paths referenced through
// placeholder tokens. Snapshots are immutable; updates replace the whole value.
type SectionSnapshot struct {
	BookID       string    `json:"bookId"`
	Index        int       `json:"index"`
	Markup       string    `json:"markup"`
	Styles       []string  `json:"styles"`
	ResourceRefs []string  `json:"resourceRefs"`
	Anchor       string    `json:"anchor,omitempty"` // Format-specific anchor for precise TOC mapping
	CreatedAt    time.Time `json:"createdAt"`
}

// SizeBytes estimates memory usage as the UTF-16-equivalent byte length of
// markup, styles and resource-ref strings (2 bytes per code unit).
func (s *SectionSnapshot) SizeBytes() int64 {
	size := utf16Bytes(s.Markup)
	for _, css := range s.Styles {
		size += utf16Bytes(css)
	}
	for _, ref := range s.ResourceRefs {
		size += utf16Bytes(ref)
	}
	return size
}

func utf16Bytes(s string) int64 {
	var n int64
	for _, r := range s {
		if r > 0xFFFF {
			n += 4 // surrogate pair
		} else {
			n += 2
		}
	}
	return n
}

// Resource is a shared binary asset (image, font, stylesheet-referenced
// file) referenced by one or more sections.
type Resource struct {
	BookID   string `json:"bookId"`
	Path     string `json:"path"`
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

// SizeBytes returns the payload size used for cache accounting.
func (r *Resource) SizeBytes() int64 {
	return int64(len(r.Data))
}
