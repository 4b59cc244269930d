package summarizer

import (
	"math"
	"sort"
	"strings"

	"bookrag/internal/textutil"
)

// minCandidateWords keeps headings and fragments out of summaries.
const minCandidateWords = 3

// FrequencySummarizer picks the sentences whose content words are most
// frequent in the whole text. It is used to give each indexed book a short
// synopsis in the catalog.
type FrequencySummarizer struct {
	maxInput int
}

// NewFrequencySummarizer returns a summarizer that reads at most
// maxInputRunes of its input; 0 means no limit.
func NewFrequencySummarizer(maxInputRunes int) *FrequencySummarizer {
	return &FrequencySummarizer{maxInput: maxInputRunes}
}

type candidate struct {
	pos   int
	words []string
	score float64
}

// Summarize returns up to maxSentences sentences of text, in their original
// order. Input without sentence structure is returned trimmed.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	if s.maxInput > 0 {
		text, _ = textutil.Truncate(text, s.maxInput)
	}
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	cands := make([]candidate, len(sentences))
	for i, sent := range sentences {
		cands[i] = candidate{pos: i, words: textutil.Words(sent)}
	}
	weights := termWeights(cands)

	pool := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if len(c.words) >= minCandidateWords {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = cands
	}
	for i := range pool {
		pool[i].score = score(pool[i], weights)
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	if len(pool) > maxSentences {
		pool = pool[:maxSentences]
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].pos < pool[j].pos })

	out := make([]string, len(pool))
	for i, c := range pool {
		out[i] = sentences[c.pos]
	}
	return strings.Join(out, " "), nil
}

// termWeights returns each word's frequency scaled so the most common word
// weighs 1.
func termWeights(cands []candidate) map[string]float64 {
	freq := make(map[string]float64)
	top := 0.0
	for _, c := range cands {
		for _, w := range c.words {
			freq[w]++
			top = math.Max(top, freq[w])
		}
	}
	if top == 0 {
		return freq
	}
	for w, f := range freq {
		freq[w] = f / top
	}
	return freq
}

// score sums word weights, damped by sqrt(length) so long sentences do not
// win on size alone, with a small bonus for sentences near the start.
func score(c candidate, weights map[string]float64) float64 {
	if len(c.words) == 0 {
		return 0
	}
	sum := 0.0
	for _, w := range c.words {
		sum += weights[w]
	}
	lead := 1 + 0.1/float64(1+c.pos)
	return sum / math.Sqrt(float64(len(c.words))) * lead
}
