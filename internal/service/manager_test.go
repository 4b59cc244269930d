package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"bookrag/internal/domain"
	"bookrag/internal/embedding"
	"bookrag/internal/embedding/hashing"
	"bookrag/internal/indexstore"
	"bookrag/internal/registry"
	"bookrag/internal/summarizer"
)

type fakeExtractor map[string]domain.Document

func (f fakeExtractor) Extract(_ context.Context, p string) (domain.Document, error) {
	d, ok := f[p]
	if !ok {
		return domain.Document{}, errors.New("no such document")
	}
	return d, nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func hashingEncoder(name string) *embedding.Encoder {
	return embedding.NewEncoder(name, func(context.Context) (embedding.Model, error) {
		return hashing.New(hashing.DefaultDimension), nil
	}, 0)
}

type fixture struct {
	mgr   *RAGManager
	dir   string
	reg   registry.Registry
	store *indexstore.Store
}

func newFixture(t *testing.T, ex Extractor, enc *embedding.Encoder, dir string) fixture {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	store, err := indexstore.New(filepath.Join(dir, "cache"), quiet)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	reg, err := registry.New(filepath.Join(dir, "registry.db"))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	if enc == nil {
		enc = hashingEncoder("hashing-384")
	}
	mgr, err := NewRAGManager(Options{
		Encoder:          enc,
		Store:            store,
		Registry:         reg,
		Extractor:        ex,
		Summarizer:       summarizer.NewFrequencySummarizer(0),
		SummarySentences: 2,
		Logger:           quiet,
		Workers:          2,
		Extensions:       []string{".txt", ".epub"},
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return fixture{mgr: mgr, dir: dir, reg: reg, store: store}
}

func repeat(sentence string, total int) string {
	var b strings.Builder
	for b.Len() < total {
		b.WriteString(sentence)
	}
	return b.String()
}

func threeSectionBook() domain.Document {
	return domain.Document{
		Title: "Field Notes",
		Path:  "/books/field-notes.epub",
		Sections: []domain.Section{
			{Title: "Harbour", Text: repeat("Sailors mend the canvas sails at dawn. ", 1500)},
			{Title: "Airfield", Text: repeat("The zeppelin hangar shelters giant airships. ", 1500)},
			{Title: "Garden", Text: repeat("Gardeners prune roses beside the orchard wall. ", 1500)},
		},
	}
}

func TestIndexAndSearchThreeSections(t *testing.T) {
	ctx := context.Background()
	doc := threeSectionBook()
	f := newFixture(t, fakeExtractor{doc.Path: doc}, nil, "")

	title, err := f.mgr.IndexDocument(ctx, doc.Path, 500, 50)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if title != "Field Notes" {
		t.Fatalf("unexpected title %q", title)
	}
	info, ok := f.mgr.BookStats(ctx, title)
	if !ok {
		t.Fatal("expected stats")
	}
	if info.Stats.Chunks < 9 || info.Stats.Chunks > 14 {
		t.Fatalf("expected 9-14 chunks, got %d", info.Stats.Chunks)
	}
	if info.Stats.Dimension != hashing.DefaultDimension {
		t.Fatalf("unexpected dimension %d", info.Stats.Dimension)
	}
	if info.Entry == nil || info.Entry.Summary == "" || info.Entry.Chunks != info.Stats.Chunks {
		t.Fatalf("registry entry not recorded: %+v", info.Entry)
	}

	res, err := f.mgr.SearchInBook(ctx, title, "zeppelin airships", 5, 0.1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) == 0 {
		t.Fatal("expected results")
	}
	if res[0].Chunk.SectionTitle != "Airfield" || res[0].Metadata[domain.MetaSectionTitle] != "Airfield" {
		t.Fatalf("expected the Airfield section first, got %+v", res[0].Metadata)
	}
	for _, r := range res {
		if r.Score < 0.1 {
			t.Fatalf("score %f below threshold", r.Score)
		}
	}
}

func TestExactChunkRanksFirst(t *testing.T) {
	ctx := context.Background()
	doc := domain.Document{Title: "Almanac", Path: "/almanac.txt", Sections: []domain.Section{
		{Title: "Tides", Text: "Spring tides follow the new moon across the estuary."},
		{Title: "Frost", Text: "The first frost settles on the valley before the harvest ends."},
		{Title: "Comets", Text: "A bright comet crossed the northern sky during the winter."},
		{Title: "Bees", Text: "Bees gather clover nectar while the meadow stays warm."},
	}}
	f := newFixture(t, fakeExtractor{doc.Path: doc}, nil, "")
	if _, err := f.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
		t.Fatalf("index: %v", err)
	}
	target := doc.Sections[2].Text

	res, err := f.mgr.SearchInBook(ctx, doc.Title, target, 3, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) == 0 || res[0].Text != target {
		t.Fatalf("expected the identical chunk first, got %+v", res)
	}
	if res[0].Score < 0.999 {
		t.Fatalf("expected similarity ~1, got %f", res[0].Score)
	}
}

func TestSearchThresholdAndClamp(t *testing.T) {
	ctx := context.Background()
	doc := domain.Document{Title: "Small", Path: "/small.txt", Sections: []domain.Section{
		{Title: "A", Text: "apples and pears"},
		{Title: "B", Text: "pears and plums"},
		{Title: "C", Text: "plums and cherries"},
		{Title: "D", Text: "cherries and grapes"},
		{Title: "E", Text: "grapes and apples"},
	}}
	f := newFixture(t, fakeExtractor{doc.Path: doc}, nil, "")
	if _, err := f.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
		t.Fatalf("index: %v", err)
	}

	all, err := f.mgr.SearchInBook(ctx, "Small", "apples", 100, -1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected all 5 chunks, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Score > all[i-1].Score {
			t.Fatal("scores must be non-increasing")
		}
	}

	strict, _ := f.mgr.SearchInBook(ctx, "Small", "apples", 100, 0.5)
	if len(strict) == 0 || len(strict) >= 5 {
		t.Fatalf("expected a filtered subset, got %d", len(strict))
	}
	for _, r := range strict {
		if r.Score < 0.5 {
			t.Fatalf("score %f below min score", r.Score)
		}
	}

	if _, err := f.mgr.SearchInBook(ctx, "Small", "  ", 5, 0); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestUnknownBookSearchIsEmpty(t *testing.T) {
	f := newFixture(t, fakeExtractor{}, nil, "")
	res, err := f.mgr.SearchInBook(context.Background(), "missing", "anything", 5, 0.1)
	if err != nil || len(res) != 0 {
		t.Fatalf("expected empty result, got %v %v", res, err)
	}
	if f.mgr.LoadBookIndex(context.Background(), "missing") {
		t.Fatal("unknown book should not load")
	}
}

func TestPersistedIndexReloads(t *testing.T) {
	ctx := context.Background()
	doc := threeSectionBook()
	dir := t.TempDir()
	first := newFixture(t, fakeExtractor{doc.Path: doc}, nil, dir)
	if _, err := first.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
		t.Fatalf("index: %v", err)
	}
	before, _ := first.mgr.SearchInBook(ctx, doc.Title, "roses orchard", 3, 0.1)
	first.reg.Close()

	second := newFixture(t, fakeExtractor{}, nil, dir)
	if books := second.mgr.AvailableBooks(ctx); len(books) != 1 || books[0] != doc.Title {
		t.Fatalf("expected persisted title, got %v", books)
	}
	after, err := second.mgr.SearchInBook(ctx, doc.Title, "roses orchard", 3, 0.1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("result count changed after reload: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Text != after[i].Text || before[i].Score != after[i].Score {
			t.Fatalf("result %d differs after reload", i)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	doc := threeSectionBook()
	f := newFixture(t, fakeExtractor{doc.Path: doc}, nil, "")
	if _, err := f.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := f.mgr.DeleteBookIndex(ctx, doc.Title); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.mgr.DeleteBookIndex(ctx, doc.Title); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if books := f.mgr.AvailableBooks(ctx); len(books) != 0 {
		t.Fatalf("expected no books, got %v", books)
	}
	res, err := f.mgr.SearchInBook(ctx, doc.Title, "zeppelin", 5, 0)
	if err != nil || len(res) != 0 {
		t.Fatalf("expected empty search after delete, got %v %v", res, err)
	}
}

func TestSearchAllBooksOmitsEmpty(t *testing.T) {
	ctx := context.Background()
	a := domain.Document{Title: "Ships", Path: "/a", Sections: []domain.Section{{Title: "1", Text: "frigates and schooners sail the sea"}}}
	b := domain.Document{Title: "Cakes", Path: "/b", Sections: []domain.Section{{Title: "1", Text: "sponge cake with vanilla frosting"}}}
	f := newFixture(t, fakeExtractor{a.Path: a, b.Path: b}, nil, "")
	for _, p := range []string{a.Path, b.Path} {
		if _, err := f.mgr.IndexDocument(ctx, p, 500, 50); err != nil {
			t.Fatalf("index %s: %v", p, err)
		}
	}
	res, err := f.mgr.SearchAllBooks(ctx, "schooners", 5, 0.2)
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(res) != 1 || len(res["Ships"]) != 1 {
		t.Fatalf("expected only Ships, got %v", res)
	}

	merged, err := f.mgr.SearchMerged(ctx, "", "vanilla schooners", 1, -1)
	if err != nil {
		t.Fatalf("merged: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected merged results cut to 1, got %d", len(merged))
	}
}

func TestSearchAllBooksSkipsCorruptBook(t *testing.T) {
	ctx := context.Background()
	a := domain.Document{Title: "Good", Path: "/a", Sections: []domain.Section{{Title: "1", Text: "lanterns glow along the canal"}}}
	b := domain.Document{Title: "Bad", Path: "/b", Sections: []domain.Section{{Title: "1", Text: "lanterns glow in the market"}}}
	f := newFixture(t, fakeExtractor{a.Path: a, b.Path: b}, nil, "")
	for _, p := range []string{a.Path, b.Path} {
		if _, err := f.mgr.IndexDocument(ctx, p, 500, 50); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	// Drop the in-memory copy and corrupt the artifact on disk.
	f.mgr.mu.Lock()
	delete(f.mgr.books, "Bad")
	f.mgr.mu.Unlock()
	vecs, err := filepath.Glob(filepath.Join(f.store.Dir(), indexstore.Key("Bad")+"~*.vectors"))
	if err != nil || len(vecs) != 1 {
		t.Fatalf("expected one vectors file, got %v %v", vecs, err)
	}
	if err := os.WriteFile(vecs[0], []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.mgr.SearchAllBooks(ctx, "lanterns", 5, 0)
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if _, ok := res["Bad"]; ok {
		t.Fatal("corrupt book should be omitted")
	}
	if len(res["Good"]) == 0 {
		t.Fatal("healthy book should still be searched")
	}
}

func TestIndexDocumentErrors(t *testing.T) {
	ctx := context.Background()
	empty := domain.Document{Title: "Empty", Path: "/empty"}
	f := newFixture(t, fakeExtractor{empty.Path: empty}, nil, "")

	_, err := f.mgr.IndexDocument(ctx, "/missing", 500, 50)
	var ee *domain.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}

	_, err = f.mgr.IndexDocument(ctx, empty.Path, 500, 50)
	var nc *domain.NoContentError
	if !errors.As(err, &nc) || nc.Title != "Empty" {
		t.Fatalf("expected NoContentError, got %v", err)
	}

	broken := embedding.NewEncoder("broken", func(context.Context) (embedding.Model, error) {
		return nil, errors.New("model files missing")
	}, 0)
	doc := threeSectionBook()
	g := newFixture(t, fakeExtractor{doc.Path: doc}, broken, "")
	_, err = g.mgr.IndexDocument(ctx, doc.Path, 500, 50)
	var mu *domain.ModelUnavailableError
	if !errors.As(err, &mu) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
	if g.mgr.LoadBookIndex(ctx, doc.Title) {
		t.Fatal("failed indexing must not leave an artifact")
	}
}

func TestModelMismatchStillLoads(t *testing.T) {
	ctx := context.Background()
	doc := threeSectionBook()
	dir := t.TempDir()
	first := newFixture(t, fakeExtractor{doc.Path: doc}, nil, dir)
	if _, err := first.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
		t.Fatalf("index: %v", err)
	}
	first.reg.Close()

	second := newFixture(t, fakeExtractor{}, hashingEncoder("hashing-384-v2"), dir)
	info, ok := second.mgr.BookStats(ctx, doc.Title)
	if !ok {
		t.Fatal("expected index to load despite model mismatch")
	}
	if !info.ModelMismatch || info.Stats.ModelName != "hashing-384" {
		t.Fatalf("expected mismatch flag, got %+v", info)
	}
}

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexDirectoryPartialSuccess(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	books := filepath.Join(root, "books")
	writeFile(t, filepath.Join(books, "alpha.txt"), repeat("Alpha text about glaciers and fjords. ", 300))
	writeFile(t, filepath.Join(books, "nested", "beta.TXT"), repeat("Beta text about deserts and dunes. ", 300))
	writeFile(t, filepath.Join(books, "broken.epub"), "not a zip archive")
	writeFile(t, filepath.Join(books, "ignored.docx"), "skip me")

	f := newFixture(t, nil, nil, root)
	titles, err := f.mgr.IndexDirectory(ctx, books, 200, 20)
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if strings.Join(titles, ",") != "alpha,beta" {
		t.Fatalf("expected alpha and beta, got %v", titles)
	}

	none, err := f.mgr.IndexDirectory(ctx, filepath.Join(root, "absent"), 200, 20)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result for missing dir, got %v %v", none, err)
	}
}

func TestIndexDirectorySharedTitle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	books := filepath.Join(root, "books")
	writeFile(t, filepath.Join(books, "a", "notes.txt"), repeat("Notes about lighthouses and keepers. ", 40))
	writeFile(t, filepath.Join(books, "b", "notes.txt"), repeat("Notes about canals and lock gates. ", 60))

	f := newFixture(t, nil, nil, root)
	titles, err := f.mgr.IndexDirectory(ctx, books, 200, 20)
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if len(titles) != 1 || titles[0] != "notes" {
		t.Fatalf("expected the shared title once, got %v", titles)
	}

	fresh := newFixture(t, nil, nil, root)
	if !fresh.mgr.LoadBookIndex(ctx, "notes") {
		t.Fatal("the winning artifact must load")
	}
}

func TestIndexDirectoryCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), repeat("Some text to index here. ", 10))
	f := newFixture(t, nil, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	titles, err := f.mgr.IndexDirectory(ctx, root, 200, 20)
	if !errors.Is(err, context.Canceled) || len(titles) != 0 {
		t.Fatalf("expected cancellation before any work, got %v %v", titles, err)
	}
}

func TestBackgroundJob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "gamma.txt"), repeat("Gamma rays and cosmic radiation. ", 100))
	f := newFixture(t, nil, nil, "")

	job := f.mgr.StartIndexDirectory(context.Background(), root, 300, 30)
	if _, ok := f.mgr.Job(job.ID()); !ok {
		t.Fatal("job not registered")
	}
	titles, err := job.Wait()
	if err != nil || len(titles) != 1 || titles[0] != "gamma" {
		t.Fatalf("unexpected job result %v %v", titles, err)
	}
	st := job.Status()
	if st.State != JobSucceeded || st.FinishedAt.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(f.mgr.Jobs()) != 1 {
		t.Fatal("expected one job listed")
	}
}

func TestConcurrentSearchDuringRebuild(t *testing.T) {
	ctx := context.Background()
	doc := threeSectionBook()
	f := newFixture(t, fakeExtractor{doc.Path: doc}, nil, "")
	if _, err := f.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
		t.Fatalf("index: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				res, err := f.mgr.SearchInBook(ctx, doc.Title, "gardeners prune roses", 3, 0.1)
				if err != nil {
					t.Errorf("search: %v", err)
					return
				}
				if len(res) == 0 {
					t.Error("search saw no index")
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		if _, err := f.mgr.IndexDocument(ctx, doc.Path, 500, 50); err != nil {
			t.Fatalf("reindex: %v", err)
		}
	}
	wg.Wait()
}
