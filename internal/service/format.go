package service

import (
	"fmt"
	"strings"

	"bookrag/internal/domain"
	"bookrag/internal/textutil"
)

// NoResultsMessage is returned by FormatSearchResults for an empty list.
// Consumers written against the Japanese-language service compare against
// NoResultsMessageJA instead; IsNoResults accepts both.
const NoResultsMessage = "No related information was found."

// NoResultsMessageJA is the sentinel the Japanese-language service emits.
const NoResultsMessageJA = "関連する情報が見つかりませんでした。"

// IsNoResults reports whether s is a no-results sentinel in either language.
func IsNoResults(s string) bool {
	s = strings.TrimSpace(s)
	return s == NoResultsMessage || s == NoResultsMessageJA
}

const (
	resultsHeader  = "Related information:"
	excerptRunes   = 200
	unknownMetaVal = "Unknown"
)

// FormatSearchResults renders results as a numbered context block for
// prompt construction. Each entry shows its book, section and similarity,
// followed by the first 200 characters of the chunk.
func FormatSearchResults(results []domain.SearchResult) string {
	if len(results) == 0 {
		return NoResultsMessage
	}
	lines := []string{resultsHeader}
	for i, r := range results {
		book := metaValue(r, domain.MetaBookTitle)
		section := metaValue(r, domain.MetaSectionTitle)
		lines = append(lines, fmt.Sprintf("\n%d. [%s - %s] (similarity: %.3f)", i+1, book, section, r.Score))

		text := r.Text
		if text == "" {
			text = r.Chunk.Text
		}
		excerpt, cut := textutil.Truncate(text, excerptRunes)
		if cut {
			excerpt += "..."
		}
		lines = append(lines, "   "+excerpt)
	}
	return strings.Join(lines, "\n")
}

func metaValue(r domain.SearchResult, key string) string {
	if v, ok := r.Metadata[key]; ok && v != "" {
		return v
	}
	return unknownMetaVal
}
