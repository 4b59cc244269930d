package vectorstore

import (
	"fmt"
	"sort"

	"bookrag/internal/domain"
)

// Hit is one search match: the position of the chunk in the index and its
// cosine similarity to the query.
type Hit struct {
	Pos   int
	Score float64
}

// Stats summarises an index.
type Stats struct {
	Chunks    int
	Dimension int
	ModelName string
}

// Index is an immutable exact nearest-neighbour index over unit vectors.
// Chunk i always corresponds to vector i. Methods never modify the receiver,
// so an *Index can be shared between goroutines without locking.
type Index struct {
	chunks    []domain.Chunk
	vectors   [][]float32
	dimension int
	modelName string

	// ModelMismatch is set by loaders when the persisted model name differs
	// from the encoder currently in use.
	ModelMismatch bool
}

// Build creates an index over chunks and their vectors. Inputs are copied.
func Build(chunks []domain.Chunk, vectors [][]float32, modelName string) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("vector %d: %w", i, domain.ErrDimensionMismatch)
		}
	}
	idx := &Index{
		chunks:    make([]domain.Chunk, len(chunks)),
		vectors:   make([][]float32, len(vectors)),
		dimension: dim,
		modelName: modelName,
	}
	copy(idx.chunks, chunks)
	for i, v := range vectors {
		idx.vectors[i] = append([]float32(nil), v...)
	}
	return idx, nil
}

// Add returns a new index holding the receiver's entries followed by the
// given ones. The receiver is left untouched.
func (x *Index) Add(chunks []domain.Chunk, vectors [][]float32) (*Index, error) {
	if x.Len() == 0 {
		return Build(chunks, vectors, x.ModelName())
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != x.dimension {
			return nil, fmt.Errorf("vector %d: %w (%d vs %d)", i, domain.ErrDimensionMismatch, len(v), x.dimension)
		}
	}
	allChunks := make([]domain.Chunk, 0, len(x.chunks)+len(chunks))
	allChunks = append(append(allChunks, x.chunks...), chunks...)
	allVectors := make([][]float32, 0, len(x.vectors)+len(vectors))
	allVectors = append(append(allVectors, x.vectors...), vectors...)
	return Build(allChunks, allVectors, x.modelName)
}

// Search returns the k entries most similar to query, best first. k is
// clamped to the index size; equal scores keep insertion order. A query of
// the wrong width yields no hits.
func (x *Index) Search(query []float32, k int) []Hit {
	n := x.Len()
	if k > n {
		k = n
	}
	if k <= 0 || len(query) != x.dimension {
		return nil
	}
	hits := make([]Hit, n)
	for i, v := range x.vectors {
		hits[i] = Hit{Pos: i, Score: dot(v, query)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits[:k:k]
}

// Chunk returns the chunk stored at pos.
func (x *Index) Chunk(pos int) domain.Chunk { return x.chunks[pos] }

// Chunks returns a copy of every chunk in insertion order.
func (x *Index) Chunks() []domain.Chunk {
	return append([]domain.Chunk(nil), x.chunks...)
}

// Vectors exposes the underlying matrix for persistence. Callers must not
// modify it.
func (x *Index) Vectors() [][]float32 { return x.vectors }

// Len returns the number of entries; a nil index is empty.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.chunks)
}

// Dimension returns the vector width, 0 for an empty index.
func (x *Index) Dimension() int {
	if x == nil {
		return 0
	}
	return x.dimension
}

// ModelName returns the embedding model the vectors were produced with.
func (x *Index) ModelName() string {
	if x == nil {
		return ""
	}
	return x.modelName
}

// Stats reports the index size and model.
func (x *Index) Stats() Stats {
	return Stats{Chunks: x.Len(), Dimension: x.Dimension(), ModelName: x.ModelName()}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
