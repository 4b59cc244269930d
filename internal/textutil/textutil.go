// Package textutil holds the tokenizer and sentence splitter shared by the
// embedder, the summarizer and the terminal UI.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentenceRe = regexp.MustCompile(`(?m)[^.!?。．！？\n]+(?:[.!?。．！？]+|\n|$)`)
	spaceRe    = regexp.MustCompile(`[\s\p{Zs}]+`)
)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// IsStopword reports whether tok (lowercase) is in the English stopword list.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// Words returns the lowercase word tokens of text, stopwords removed.
func Words(text string) []string {
	raw := wordRe.FindAllString(strings.ToLower(text), -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// WordSet is Words deduplicated into a set.
func WordSet(text string) map[string]struct{} {
	tokens := Words(text)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Overlap counts distinct tokens of text that appear in set.
func Overlap(set map[string]struct{}, text string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range Words(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			score++
		}
	}
	return score
}

// Sentences splits text into trimmed sentences. Trailing text without a
// terminator becomes the last sentence.
func Sentences(text string) []string {
	raw := sentenceRe.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CollapseSpace replaces every whitespace run with a single space and trims.
func CollapseSpace(text string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// IsCJK reports whether r belongs to a script written without word spaces.
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// Truncate returns the first n runes of s and whether anything was cut.
func Truncate(s string, n int) (string, bool) {
	if n < 0 {
		n = 0
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
