package analyzer

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"kb/internal/domain"
)

// minHighlightTermLen is the shortest query term worth highlighting.
const minHighlightTermLen = 3

// Highlighter finds literal query-term occurrences in chunk content.
type Highlighter struct{}

func NewHighlighter() *Highlighter {
	return &Highlighter{}
}

// FindHighlights returns non-overlapping matches of the query's terms in
// content, sorted by position. Terms of two characters or fewer are ignored.
// Indices are byte offsets into content.
func (h *Highlighter) FindHighlights(query, content string) []domain.HighlightMatch {
	var matches []domain.HighlightMatch
	seen := make(map[string]struct{})

	for _, term := range strings.Fields(query) {
		if utf8.RuneCountInString(term) < minHighlightTermLen {
			continue
		}
		lower := strings.ToLower(term)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
		for _, loc := range re.FindAllStringIndex(content, -1) {
			matches = append(matches, domain.HighlightMatch{
				Text:       content[loc[0]:loc[1]],
				StartIndex: loc[0],
				EndIndex:   loc[1],
				Score:      1.0,
			})
		}
	}

	return mergeHighlights(matches, content)
}

// mergeHighlights joins overlapping or touching spans, keeping the highest
// score of the merged group.
func mergeHighlights(matches []domain.HighlightMatch, content string) []domain.HighlightMatch {
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].StartIndex < matches[j].StartIndex
	})

	merged := []domain.HighlightMatch{matches[0]}
	for _, m := range matches[1:] {
		last := &merged[len(merged)-1]
		if m.StartIndex <= last.EndIndex {
			last.EndIndex = max(last.EndIndex, m.EndIndex)
			last.Score = max(last.Score, m.Score)
			continue
		}
		merged = append(merged, m)
	}
	for i := range merged {
		merged[i].Text = content[merged[i].StartIndex:merged[i].EndIndex]
	}
	return merged
}
