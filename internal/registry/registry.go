// Package registry keeps a catalog of indexed books: which artifact holds a
// title, which model produced it and a short synopsis for listings.
package registry

import (
	"context"
	"time"

	"bookrag/internal/domain"
)

// ErrNotFound is returned when a title has no catalog entry.
var ErrNotFound = domain.ErrNotFound

// Entry describes one indexed book.
type Entry struct {
	Title      string
	Artifact   string
	ModelName  string
	Chunks     int
	Dimension  int
	SourcePath string
	Author     string
	Language   string
	Summary    string
	UpdatedAt  time.Time
}

// Registry stores catalog entries keyed by title.
type Registry interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, title string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, title string) error
	Close() error
}
