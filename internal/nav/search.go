package nav

import (
	"sort"
	"strings"

	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/folio/internal/domain"
)

// TocMatch is one fuzzy search hit over the table of contents.
type TocMatch struct {
	Node           *domain.TocNode
	Title          string
	MatchedIndexes []int // Rune positions for highlighting
	Score          int   // Lower is better
}

// tocIndex implements fuzzy.Source for position matching.
type tocIndex struct {
	titles []string
}

func (idx *tocIndex) String(i int) string { return idx.titles[i] }
func (idx *tocIndex) Len() int            { return len(idx.titles) }

// SearchToc fuzzy-matches query against TOC entry titles, best first.
// Ranking comes from fuzzysearch's folded rank; match positions for
// highlighting come from sahilm/fuzzy.
func SearchToc(query string, toc []*domain.TocNode) []TocMatch {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	flat := domain.FlattenToc(toc)
	titles := make([]string, len(flat))
	for i, node := range flat {
		titles[i] = node.Title
	}

	ranks := lfuzzy.RankFindNormalizedFold(query, titles)
	sort.Sort(ranks)

	// Position data per title, for highlighting in the UI.
	positions := make(map[int][]int)
	for _, m := range fuzzy.FindFrom(strings.ToLower(query), &tocIndex{titles: lowerAll(titles)}) {
		positions[m.Index] = m.MatchedIndexes
	}

	matches := make([]TocMatch, 0, len(ranks))
	for _, rank := range ranks {
		matches = append(matches, TocMatch{
			Node:           flat[rank.OriginalIndex],
			Title:          rank.Target,
			MatchedIndexes: positions[rank.OriginalIndex],
			Score:          rank.Distance,
		})
	}
	return matches
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
