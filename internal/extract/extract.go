// Package extract turns e-book files into titled, ordered sections of plain
// text.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"bookrag/internal/domain"
)

// MinSectionRunes is the noise threshold: sections whose normalised text is
// this short or shorter are dropped.
const MinSectionRunes = 50

// Extractor reads one document.
type Extractor interface {
	Extract(ctx context.Context, path string) (domain.Document, error)
}

// Registry picks an Extractor by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with the EPUB, plain-text and PDF
// extractors installed.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(".epub", EPUB{})
	r.Register(".txt", Text{})
	r.Register(".md", Text{})
	r.Register(".pdf", PDF{})
	return r
}

// Register installs e for ext (with leading dot, any case).
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Extensions lists the registered extensions.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}

// Extract dispatches on the file extension. Every failure is returned as
// a *domain.ExtractionError.
func (r *Registry) Extract(ctx context.Context, path string) (domain.Document, error) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return domain.Document{}, &domain.ExtractionError{Path: path, Err: domain.ErrUnsupportedFormat}
	}
	doc, err := e.Extract(ctx, path)
	if err != nil {
		return domain.Document{}, &domain.ExtractionError{Path: path, Err: err}
	}
	return doc, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func keepSection(text string) bool {
	return len([]rune(text)) > MinSectionRunes
}

func chapterTitle(heading string, n int) string {
	if heading != "" && len([]rune(heading)) < 100 {
		return heading
	}
	return fmt.Sprintf("Chapter %d", n)
}
