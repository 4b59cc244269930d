package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"bookrag/internal/domain"
)

// Model turns text into raw (not necessarily normalised) vectors.
type Model interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader acquires a Model. It is called lazily by Encoder.
type Loader func(ctx context.Context) (Model, error)

// DefaultBatchSize is the number of texts sent to the model per call.
const DefaultBatchSize = 32

// Encoder wraps a lazily loaded Model and returns unit-length vectors.
// The model handle is created at most once successfully and is read-only
// afterwards, so one Encoder can serve concurrent indexing and search.
type Encoder struct {
	name      string
	load      Loader
	batchSize int

	mu    sync.Mutex
	model Model
	dim   int
}

// NewEncoder returns an Encoder for the named model. batchSize <= 0 selects
// DefaultBatchSize.
func NewEncoder(name string, load Loader, batchSize int) *Encoder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Encoder{name: name, load: load, batchSize: batchSize}
}

// ModelName identifies the model recorded in persisted indexes.
func (e *Encoder) ModelName() string { return e.name }

// Dimension returns the vector width observed so far, or 0 before the
// first successful Encode.
func (e *Encoder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *Encoder) handle(ctx context.Context) (Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model, nil
	}
	if e.load == nil {
		return nil, &domain.ModelUnavailableError{Model: e.name, Err: errors.New("no loader configured")}
	}
	m, err := e.load(ctx)
	if err != nil {
		return nil, &domain.ModelUnavailableError{Model: e.name, Err: err}
	}
	if m == nil {
		return nil, &domain.ModelUnavailableError{Model: e.name, Err: errors.New("loader returned nil model")}
	}
	e.model = m
	return m, nil
}

// Encode embeds texts in order. Every returned row has unit L2 norm unless
// the model produced an all-zero vector. Rows must keep the width seen on
// the first successful call.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	m, err := e.handle(ctx)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(texts))
		vecs, err := m.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: model returned %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("row %d: %w (%d vs %d)", i, domain.ErrDimensionMismatch, len(v), dim)
		}
		Normalize(v)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = dim
	} else if e.dim != dim {
		return nil, fmt.Errorf("model %s changed width: %w (%d vs %d)", e.name, domain.ErrDimensionMismatch, dim, e.dim)
	}
	return out, nil
}

// EncodeOne is a convenience for single queries.
func (e *Encoder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Normalize scales v to unit length in place.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
