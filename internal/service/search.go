package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

// SearchInBook returns up to topK chunks of title scoring at least minScore,
// best first. A book that cannot be loaded yields no results and no error.
func (m *RAGManager) SearchInBook(ctx context.Context, title, query string, topK int, minScore float64) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	idx, ok := m.index(ctx, title)
	if !ok {
		return nil, nil
	}
	qv, err := m.encoder.EncodeOne(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.searchIndex(title, idx, qv, topK, minScore), nil
}

// SearchAllBooks runs the query against every available book and returns the
// non-empty result lists keyed by title. The query is embedded once. A book
// that fails to load or search is logged and left out.
func (m *RAGManager) SearchAllBooks(ctx context.Context, query string, topK int, minScore float64) (map[string][]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	out := make(map[string][]domain.SearchResult)
	titles := m.AvailableBooks(ctx)
	if len(titles) == 0 {
		return out, nil
	}
	qv, err := m.encoder.EncodeOne(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, title := range titles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := m.searchBookSafely(ctx, title, qv, topK, minScore)
		if err != nil {
			m.logger.Error("book search failed", "book", title, "error", err)
			continue
		}
		if len(res) > 0 {
			out[title] = res
		}
	}
	return out, nil
}

func (m *RAGManager) searchBookSafely(ctx context.Context, title string, qv []float32, topK int, minScore float64) (res []domain.SearchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	idx, ok := m.index(ctx, title)
	if !ok {
		return nil, nil
	}
	return m.searchIndex(title, idx, qv, topK, minScore), nil
}

// SearchMerged searches one book, or every book when book is empty, and
// returns a single list ordered by score and cut to topK.
func (m *RAGManager) SearchMerged(ctx context.Context, book, query string, topK int, minScore float64) ([]domain.SearchResult, error) {
	if book != "" {
		return m.SearchInBook(ctx, book, query, topK, minScore)
	}
	byBook, err := m.SearchAllBooks(ctx, query, topK, minScore)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(byBook))
	for t := range byBook {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	var merged []domain.SearchResult
	for _, t := range titles {
		merged = append(merged, byBook[t]...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if topK >= 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func (m *RAGManager) searchIndex(title string, idx *vectorstore.Index, qv []float32, topK int, minScore float64) []domain.SearchResult {
	if idx.Len() > 0 && len(qv) != idx.Dimension() {
		m.logger.Warn("query dimension does not match index",
			"book", title, "query_dim", len(qv), "index_dim", idx.Dimension())
		return nil
	}
	hits := idx.Search(qv, topK)
	out := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			// Hits are sorted, so the rest score lower.
			break
		}
		out = append(out, domain.NewSearchResult(idx.Chunk(h.Pos), h.Score))
	}
	return out
}
