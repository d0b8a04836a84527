// Package nav maps between table-of-contents targets and spine section
// indices. TOC targets and spine paths frequently disagree on path prefixes
// (relative vs archive-rooted), so resolution walks an ordered fallback
// chain and stops at the first match.
package nav

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/mmcdole/folio/internal/domain"
)

// Resolver resolves TOC targets against a spine. Failed resolutions are a
// normal outcome (cover and title pages rarely have TOC entries) and are
// logged once per (index, target) pair.
type Resolver struct {
	logger *slog.Logger

	mu     sync.Mutex
	logged map[string]struct{}
}

// NewResolver creates a resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger, logged: make(map[string]struct{})}
}

// IndexFor resolves a TOC locator to a spine index, or -1 when no tier
// matches.
func (r *Resolver) IndexFor(locator string, spine []domain.Section) int {
	if locator == "" || len(spine) == 0 {
		return -1
	}
	base, anchor, _ := strings.Cut(locator, "#")

	// Tier 1: exact match including the anchor.
	if anchor != "" {
		for _, sec := range spine {
			if sec.Path == base && sec.Anchor == anchor {
				return sec.Index
			}
		}
	}

	// Tier 2: exact match after stripping the anchor.
	for _, sec := range spine {
		if sec.Path == base {
			return sec.Index
		}
	}

	// Tier 3: suffix match in either direction, handling differing path
	// prefixes between the TOC and the section list.
	for _, sec := range spine {
		if suffixMatch(sec.Path, base) {
			return sec.Index
		}
	}

	// Tier 4: filename only. Last resort: duplicate filenames across
	// directories can false-positive here.
	name := path.Base(base)
	if name != "" && name != "." && name != "/" {
		for _, sec := range spine {
			if path.Base(sec.Path) == name {
				return sec.Index
			}
		}
	}

	r.logOnce(-1, locator, "toc target did not resolve to a section")
	return -1
}

// TargetFor returns the TOC locator whose resolved index is sectionIndex,
// preferring the deepest matching entry; empty when the section has no TOC
// entry. Used for TOC highlighting while scrolling.
func (r *Resolver) TargetFor(sectionIndex int, toc []*domain.TocNode, spine []domain.Section) string {
	target := ""
	for _, node := range domain.FlattenToc(toc) {
		if r.indexQuiet(node.Target, spine) == sectionIndex {
			if target == "" {
				target = node.Target
			}
		}
	}
	if target == "" {
		r.logOnce(sectionIndex, "", "section has no toc entry")
	}
	return target
}

// NodeFor returns the first TOC node resolving to sectionIndex, or nil.
func (r *Resolver) NodeFor(sectionIndex int, toc []*domain.TocNode, spine []domain.Section) *domain.TocNode {
	for _, node := range domain.FlattenToc(toc) {
		if r.indexQuiet(node.Target, spine) == sectionIndex {
			return node
		}
	}
	return nil
}

// indexQuiet is IndexFor without the once-per-pair miss logging, for use in
// scans where misses are expected on most entries.
func (r *Resolver) indexQuiet(locator string, spine []domain.Section) int {
	if locator == "" || len(spine) == 0 {
		return -1
	}
	base, anchor, _ := strings.Cut(locator, "#")
	if anchor != "" {
		for _, sec := range spine {
			if sec.Path == base && sec.Anchor == anchor {
				return sec.Index
			}
		}
	}
	for _, sec := range spine {
		if sec.Path == base {
			return sec.Index
		}
	}
	for _, sec := range spine {
		if suffixMatch(sec.Path, base) {
			return sec.Index
		}
	}
	name := path.Base(base)
	for _, sec := range spine {
		if path.Base(sec.Path) == name {
			return sec.Index
		}
	}
	return -1
}

// suffixMatch reports whether one path is a path-segment suffix of the
// other ("text/ch1.xhtml" vs "OEBPS/text/ch1.xhtml").
func suffixMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	longer, shorter := a, b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if !strings.HasSuffix(longer, shorter) {
		return false
	}
	// Segment boundary: the char before the suffix must be a separator.
	cut := len(longer) - len(shorter)
	return cut == 0 || longer[cut-1] == '/'
}

func (r *Resolver) logOnce(index int, target, msg string) {
	key := fmt.Sprintf("%d|%s", index, target)
	r.mu.Lock()
	_, seen := r.logged[key]
	if !seen {
		r.logged[key] = struct{}{}
	}
	r.mu.Unlock()
	if !seen {
		r.logger.Debug(msg, "index", index, "target", target)
	}
}
