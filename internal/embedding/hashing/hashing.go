// Package hashing provides an offline embedding model that maps word and
// character n-gram features into a fixed number of buckets.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"bookrag/internal/textutil"
)

// DefaultDimension matches the width of the small sentence-transformer
// models this index format is usually paired with.
const DefaultDimension = 384

// Model is a stateless feature-hashing embedder. Unlike a TF-IDF model it
// needs no corpus preparation, so any two texts embedded at different times
// are comparable.
type Model struct {
	dim int
}

// New returns a model producing dim-wide vectors.
func New(dim int) *Model {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Model{dim: dim}
}

// Name returns the identifier stored alongside persisted vectors.
func (m *Model) Name() string { return fmt.Sprintf("hashing-%d", m.dim) }

// Dimension returns the width of produced vectors.
func (m *Model) Dimension() int { return m.dim }

// Embed computes one vector per text. The context is only checked between
// texts; hashing itself never blocks.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *Model) vector(text string) []float32 {
	vec := make([]float32, m.dim)
	tf := make(map[string]int)
	for _, tok := range features(text) {
		tf[tok]++
	}
	for tok, count := range tf {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(m.dim))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		// Sublinear term frequency.
		vec[bucket] += sign * float32(1+math.Log(float64(count)))
	}
	return vec
}

// features yields word tokens for space-delimited scripts and character
// unigrams plus bigrams for runs of CJK text.
func features(text string) []string {
	var out []string
	for _, w := range textutil.Words(text) {
		runes := []rune(w)
		if !hasCJK(runes) {
			out = append(out, w)
			continue
		}
		for i, r := range runes {
			out = append(out, string(r))
			if i+1 < len(runes) {
				out = append(out, string(runes[i:i+2]))
			}
		}
	}
	return out
}

func hasCJK(runes []rune) bool {
	for _, r := range runes {
		if textutil.IsCJK(r) {
			return true
		}
	}
	return false
}
