package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyQuery        = errors.New("empty query")
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// ExtractionError reports a document that could not be read or parsed.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NoContentError is returned when a document yields no usable chunks.
type NoContentError struct {
	Path  string
	Title string
}

func (e *NoContentError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("no indexable content in %q (%s)", e.Title, e.Path)
	}
	return fmt.Sprintf("no indexable content in %s", e.Path)
}

// ModelUnavailableError wraps a failure to acquire the embedding model.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("embedding model %s unavailable: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("embedding model unavailable: %v", e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }
