package service

import (
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/folio/internal/domain"
)

// normalizeSection converts raw section markup and styles into a cache-safe
// snapshot: every resource reference is resolved against the section's
// location in the archive and replaced with a reversible placeholder token.
// Snapshots therefore never carry live handles and persist as-is.
func normalizeSection(doc domain.Document, bookID string, index int, markup string, styles []string) *domain.SectionSnapshot {
	refs := make(map[string]bool)
	resolve := func(raw string) (string, bool) {
		if raw == "" || isExternalRef(raw) {
			return "", false
		}
		full, _, _ := strings.Cut(doc.ResolvePath(index, raw), "#")
		if full == "" {
			return "", false
		}
		refs[full] = true
		return domain.PlaceholderFor(full), true
	}

	normalized := rewriteAttrRefs(markup, "src", resolve)
	normalizedStyles := make([]string, len(styles))
	for i, css := range styles {
		normalizedStyles[i] = rewriteCSSUrls(css, resolve)
	}

	snap := &domain.SectionSnapshot{
		BookID:       bookID,
		Index:        index,
		Markup:       normalized,
		Styles:       normalizedStyles,
		ResourceRefs: sortedKeys(refs),
		CreatedAt:    time.Now(),
	}
	if spine := doc.Spine(); index >= 0 && index < len(spine) {
		snap.Anchor = spine[index].Anchor
	}
	return snap
}

// isExternalRef reports references that never resolve to archive-internal
// resources.
func isExternalRef(ref string) bool {
	return strings.Contains(ref, "://") ||
		strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "mailto:") ||
		strings.HasPrefix(ref, "#")
}

// rewriteAttrRefs rewrites every value of the named attribute through
// resolve, leaving values resolve declines untouched.
func rewriteAttrRefs(s, attr string, resolve func(string) (string, bool)) string {
	var b strings.Builder
	for {
		valStart, quote := nextAttr(s, attr)
		if valStart < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[valStart:], quote)
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		val := s[valStart : valStart+end]
		b.WriteString(s[:valStart])
		if token, ok := resolve(val); ok {
			b.WriteString(token)
		} else {
			b.WriteString(val)
		}
		s = s[valStart+end:]
	}
}

// nextAttr finds the next `attr="` or `attr='` preceded by whitespace and
// returns the index just past the opening quote plus the quote byte, or -1.
func nextAttr(s, attr string) (int, byte) {
	best := -1
	var quote byte
	for _, q := range []byte{'"', '\''} {
		marker := attr + "=" + string(q)
		from := 0
		for {
			i := strings.Index(s[from:], marker)
			if i < 0 {
				break
			}
			i += from
			if i > 0 && isAttrBoundary(s[i-1]) {
				if best < 0 || i < best-len(marker) {
					best = i + len(marker)
					quote = q
				}
				break
			}
			from = i + len(marker)
		}
	}
	return best, quote
}

func isAttrBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// rewriteCSSUrls rewrites url(...) references through resolve.
func rewriteCSSUrls(css string, resolve func(string) (string, bool)) string {
	var b strings.Builder
	for {
		i := strings.Index(css, "url(")
		if i < 0 {
			b.WriteString(css)
			return b.String()
		}
		end := strings.IndexByte(css[i:], ')')
		if end < 0 {
			b.WriteString(css)
			return b.String()
		}
		inner := css[i+4 : i+end]
		raw := strings.Trim(strings.TrimSpace(inner), `"'`)
		b.WriteString(css[:i+4])
		if token, ok := resolve(raw); ok {
			b.WriteString(token)
		} else {
			b.WriteString(inner)
		}
		b.WriteByte(')')
		css = css[i+end+1:]
	}
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
