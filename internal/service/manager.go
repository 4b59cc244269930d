package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bookrag/internal/chunker"
	"bookrag/internal/domain"
	"bookrag/internal/embedding"
	"bookrag/internal/extract"
	"bookrag/internal/indexstore"
	"bookrag/internal/registry"
	"bookrag/internal/textutil"
	"bookrag/internal/vectorstore"
)

// Extractor reads a document from disk.
type Extractor interface {
	Extract(ctx context.Context, path string) (domain.Document, error)
}

// Options wires a RAGManager. Encoder and Store are required.
type Options struct {
	Encoder    *embedding.Encoder
	Store      *indexstore.Store
	Registry   registry.Registry
	Extractor  Extractor
	Summarizer domain.Summarizer
	Logger     *slog.Logger

	SummarySentences int
	MinChunkLength   int
	Workers          int
	Extensions       []string
}

// RAGManager indexes books and answers similarity queries over them. Each
// book's index is immutable once built; rebuilding swaps in a new one, so
// searches never observe a half-built index.
type RAGManager struct {
	encoder    *embedding.Encoder
	store      *indexstore.Store
	registry   registry.Registry
	extractor  Extractor
	summarizer domain.Summarizer
	logger     *slog.Logger

	summarySentences int
	minChunkLength   int
	workers          int
	extensions       []string

	mu    sync.RWMutex
	books map[string]*vectorstore.Index
	// gens is bumped on delete so an in-flight load cannot resurrect a book.
	gens  map[string]uint64
	loads singleflight.Group

	jobsMu sync.Mutex
	jobs   map[string]*Job
}

// NewRAGManager validates opts and returns a ready manager.
func NewRAGManager(opts Options) (*RAGManager, error) {
	if opts.Encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if opts.Store == nil {
		return nil, errors.New("index store is required")
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MinChunkLength <= 0 {
		opts.MinChunkLength = 1
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".epub"}
	}
	return &RAGManager{
		encoder:          opts.Encoder,
		store:            opts.Store,
		registry:         opts.Registry,
		extractor:        opts.Extractor,
		summarizer:       opts.Summarizer,
		logger:           opts.Logger,
		summarySentences: opts.SummarySentences,
		minChunkLength:   opts.MinChunkLength,
		workers:          opts.Workers,
		extensions:       opts.Extensions,
		books:            make(map[string]*vectorstore.Index),
		gens:             make(map[string]uint64),
		jobs:             make(map[string]*Job),
	}, nil
}

// IndexDocument extracts, chunks, embeds and persists one document and
// returns its title. A previously indexed book with the same title is
// replaced.
func (m *RAGManager) IndexDocument(ctx context.Context, path string, chunkSize, overlap int) (string, error) {
	started := time.Now()
	doc, err := m.extractor.Extract(ctx, path)
	if err != nil {
		var ee *domain.ExtractionError
		if !errors.As(err, &ee) {
			err = &domain.ExtractionError{Path: path, Err: err}
		}
		return "", err
	}
	m.logger.Info("extracted document", "book", doc.Title, "path", path, "sections", len(doc.Sections))

	chunks := chunker.ChunkDocument(doc, chunkSize, overlap, m.minChunkLength)
	if len(chunks) == 0 {
		return "", &domain.NoContentError{Path: path, Title: doc.Title}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := m.encoder.Encode(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("encode %q: %w", doc.Title, err)
	}
	idx, err := vectorstore.Build(chunks, vectors, m.encoder.ModelName())
	if err != nil {
		return "", fmt.Errorf("build index for %q: %w", doc.Title, err)
	}
	if err := m.store.Save(doc.Title, idx); err != nil {
		return "", err
	}

	m.record(ctx, doc, idx)

	m.mu.Lock()
	m.books[doc.Title] = idx
	m.mu.Unlock()

	m.logger.Info("indexed book", "book", doc.Title, "chunks", idx.Len(), "elapsed", time.Since(started))
	return doc.Title, nil
}

// record writes the catalog entry. The artifact is authoritative, so
// failures here are logged only.
func (m *RAGManager) record(ctx context.Context, doc domain.Document, idx *vectorstore.Index) {
	if m.registry == nil {
		return
	}
	entry := registry.Entry{
		Title:      doc.Title,
		Artifact:   indexstore.Key(doc.Title),
		ModelName:  idx.ModelName(),
		Chunks:     idx.Len(),
		Dimension:  idx.Dimension(),
		SourcePath: doc.Path,
		Author:     doc.Meta.Author,
		Language:   doc.Meta.Language,
		Summary:    m.summarize(doc),
		UpdatedAt:  time.Now(),
	}
	if err := m.registry.Put(ctx, entry); err != nil {
		m.logger.Warn("registry update failed", "book", doc.Title, "error", err)
	}
}

func (m *RAGManager) summarize(doc domain.Document) string {
	if m.summarizer == nil {
		return doc.Meta.Description
	}
	var b strings.Builder
	for _, s := range doc.Sections {
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	summary, err := m.summarizer.Summarize(b.String(), m.summarySentences)
	if err != nil {
		m.logger.Warn("summarize failed", "book", doc.Title, "error", err)
		return doc.Meta.Description
	}
	summary, cut := textutil.Truncate(summary, 1000)
	if cut {
		summary += "..."
	}
	return summary
}

// LoadBookIndex makes the book's index available in memory, reading it from
// the store if needed. It reports false when no usable artifact exists.
// Concurrent loads of the same title share one read.
func (m *RAGManager) LoadBookIndex(ctx context.Context, title string) bool {
	_, ok := m.index(ctx, title)
	return ok
}

func (m *RAGManager) index(_ context.Context, title string) (*vectorstore.Index, bool) {
	m.mu.RLock()
	idx, ok := m.books[title]
	gen := m.gens[title]
	m.mu.RUnlock()
	if ok {
		return idx, true
	}

	v, _, _ := m.loads.Do(title, func() (any, error) {
		idx, ok := m.store.Load(title)
		if !ok {
			return (*vectorstore.Index)(nil), nil
		}
		if want := m.encoder.ModelName(); idx.ModelName() != want {
			idx.ModelMismatch = true
			m.logger.Warn("index built with a different embedding model",
				"book", title, "index_model", idx.ModelName(), "encoder_model", want)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gens[title] != gen {
			return (*vectorstore.Index)(nil), nil
		}
		if cur, ok := m.books[title]; ok {
			// A concurrent IndexDocument got there first.
			return cur, nil
		}
		m.books[title] = idx
		m.logger.Debug("loaded book index", "book", title, "chunks", idx.Len())
		return idx, nil
	})
	idx = v.(*vectorstore.Index)
	return idx, idx != nil
}

// AvailableBooks lists every known title, in memory or on disk, sorted.
func (m *RAGManager) AvailableBooks(ctx context.Context) []string {
	set := make(map[string]struct{})
	m.mu.RLock()
	for t := range m.books {
		set[t] = struct{}{}
	}
	m.mu.RUnlock()

	if m.registry != nil {
		entries, err := m.registry.List(ctx)
		if err != nil {
			m.logger.Warn("list registry", "error", err)
		}
		for _, e := range entries {
			set[e.Title] = struct{}{}
		}
	}
	titles, err := m.store.List()
	if err != nil {
		m.logger.Warn("list index store", "error", err)
	}
	for _, t := range titles {
		set[t] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// BookInfo describes one indexed book.
type BookInfo struct {
	Title         string
	Stats         vectorstore.Stats
	ModelMismatch bool
	Entry         *registry.Entry
}

// BookStats loads the book and reports its size and catalog entry.
func (m *RAGManager) BookStats(ctx context.Context, title string) (BookInfo, bool) {
	idx, ok := m.index(ctx, title)
	if !ok {
		return BookInfo{}, false
	}
	info := BookInfo{Title: title, Stats: idx.Stats(), ModelMismatch: idx.ModelMismatch}
	if m.registry != nil {
		e, err := m.registry.Get(ctx, title)
		switch {
		case err == nil:
			info.Entry = &e
		case !errors.Is(err, registry.ErrNotFound):
			m.logger.Warn("registry lookup failed", "book", title, "error", err)
		}
	}
	return info, true
}

// DeleteBookIndex removes the book from memory, disk and the catalog.
// Deleting an unknown book is not an error.
func (m *RAGManager) DeleteBookIndex(ctx context.Context, title string) error {
	m.mu.Lock()
	delete(m.books, title)
	m.gens[title]++
	m.mu.Unlock()
	m.loads.Forget(title)

	var errs []error
	if err := m.store.Delete(title); err != nil {
		errs = append(errs, fmt.Errorf("delete artifacts: %w", err))
	}
	if m.registry != nil {
		if err := m.registry.Delete(ctx, title); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	m.logger.Info("deleted book index", "book", title)
	return nil
}
