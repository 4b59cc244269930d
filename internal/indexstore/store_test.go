package indexstore

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

func sampleIndex(t *testing.T, title string) *vectorstore.Index {
	t.Helper()
	chunks := []domain.Chunk{
		{BookTitle: title, SectionTitle: "One", ChunkIndex: 0, Text: "first chunk", SourcePath: "/b.epub"},
		{BookTitle: title, SectionTitle: "Two", ChunkIndex: 0, Text: "second chunk", SourcePath: "/b.epub"},
	}
	idx, err := vectorstore.Build(chunks, [][]float32{{1, 0, 0}, {0, 0.6, 0.8}}, "hashing-3")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return idx
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	idx := sampleIndex(t, "Moby Dick")
	if err := s.Save("Moby Dick", idx); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := s.Load("Moby Dick")
	if !ok {
		t.Fatal("expected index to load")
	}
	if got.Len() != 2 || got.Dimension() != 3 || got.ModelName() != "hashing-3" {
		t.Fatalf("unexpected stats %+v", got.Stats())
	}
	if got.Chunk(1) != idx.Chunk(1) {
		t.Fatalf("chunk mismatch: %+v vs %+v", got.Chunk(1), idx.Chunk(1))
	}
	want := idx.Search([]float32{0, 0.6, 0.8}, 2)
	have := got.Search([]float32{0, 0.6, 0.8}, 2)
	for i := range want {
		if want[i] != have[i] {
			t.Fatalf("search differs after reload: %+v vs %+v", want, have)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t)
	if idx, ok := s.Load("nothing"); ok || idx != nil {
		t.Fatal("expected not found")
	}
}

func TestLoadCorruptVectors(t *testing.T) {
	s := newStore(t)
	if err := s.Save("Book", sampleIndex(t, "Book")); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := committedVectors(t, s, "Book")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := s.Load("Book"); ok {
		t.Fatal("expected corrupt artifact to be reported as not found")
	}
}

func TestLoadTruncatedMetadata(t *testing.T) {
	s := newStore(t)
	if err := s.Save("Book", sampleIndex(t, "Book")); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(s.Dir(), Key("Book")+metaExt)
	if err := os.WriteFile(path, []byte(`{"format_version":1,"title":"Bo`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := s.Load("Book"); ok {
		t.Fatal("expected truncated metadata to be reported as not found")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	if err := s.Save("Book", sampleIndex(t, "Book")); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 artifact files, got %d", len(entries))
	}
}

// writeLegacy stores a blob the way earlier releases named it: by the
// bare title.
func writeLegacy(t *testing.T, s *Store, title string, lg legacyIndex) {
	t.Helper()
	f, err := os.Create(filepath.Join(s.Dir(), title+legacyExt))
	if err != nil {
		t.Fatalf("create legacy: %v", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(lg); err != nil {
		t.Fatalf("encode legacy: %v", err)
	}
}

func TestLoadLegacyFallback(t *testing.T) {
	s := newStore(t)
	writeLegacy(t, s, "Old Book", legacyIndex{
		Chunks:     []domain.Chunk{{BookTitle: "Old Book", Text: "legacy"}},
		Embeddings: [][]float32{{1, 0}},
		ModelName:  "old-model",
	})
	idx, ok := s.Load("Old Book")
	if !ok {
		t.Fatal("expected legacy artifact to load")
	}
	if idx.ModelName() != "old-model" || idx.Chunk(0).Text != "legacy" {
		t.Fatalf("unexpected legacy contents %+v", idx.Stats())
	}

	titles, err := s.List()
	if err != nil || len(titles) != 1 || titles[0] != "Old Book" {
		t.Fatalf("expected legacy title listed, got %v %v", titles, err)
	}

	if err := s.Save("Old Book", sampleIndex(t, "Old Book")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "Old Book"+legacyExt)); !os.IsNotExist(err) {
		t.Fatalf("expected legacy blob to be replaced, stat err=%v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.Save("Book", sampleIndex(t, "Book")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete("Book"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete("Book"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if s.Exists("Book") {
		t.Fatal("artifact still present")
	}
}

func TestListReadsTitlesFromMetadata(t *testing.T) {
	s := newStore(t)
	for _, title := range []string{"B/side", "A: story", "Plain"} {
		if err := s.Save(title, sampleIndex(t, title)); err != nil {
			t.Fatalf("save %q: %v", title, err)
		}
	}
	titles, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"A: story", "B/side", "Plain"}
	if strings.Join(titles, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, titles)
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		title  string
		hashed bool
	}{
		{"plain title", false},
		{"Plain Title", true},
		{"吾輩は猫である", false},
		{"a/b", true},
		{"../etc", true},
		{"", true},
		{strings.Repeat("x", 200), true},
	}
	for _, tt := range tests {
		k := Key(tt.title)
		if strings.ContainsAny(k, `/\:`) {
			t.Fatalf("key %q for %q is not filesystem safe", k, tt.title)
		}
		if hashed := k != tt.title; hashed != tt.hashed {
			t.Fatalf("title %q: hashed=%v, key %q", tt.title, hashed, k)
		}
	}
	if Key("a/b") == Key("a:b") {
		t.Fatal("distinct titles must not share a key")
	}
	if strings.EqualFold(Key("Book"), Key("book")) {
		t.Fatal("titles differing in case must not share a key on case-insensitive filesystems")
	}
	if strings.Contains(Key("a~b"), genSep) {
		t.Fatal("keys must not contain the generation separator")
	}
}

func committedVectors(t *testing.T, s *Store, title string) string {
	t.Helper()
	m, err := readMeta(filepath.Join(s.Dir(), Key(title)+metaExt))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	return filepath.Join(s.Dir(), m.vectorsFile(Key(title)))
}

func otherIndex(t *testing.T, title string) *vectorstore.Index {
	t.Helper()
	chunks := []domain.Chunk{
		{BookTitle: title, SectionTitle: "Three", Text: "third chunk"},
		{BookTitle: title, SectionTitle: "Four", Text: "fourth chunk"},
		{BookTitle: title, SectionTitle: "Five", Text: "fifth chunk"},
	}
	idx, err := vectorstore.Build(chunks, [][]float32{{0, 1, 0}, {0, 0, 1}, {0.6, 0.8, 0}}, "hashing-3")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return idx
}

func TestInterruptedSaveKeepsPriorArtifact(t *testing.T) {
	s := newStore(t)
	if err := s.Save("Book", sampleIndex(t, "Book")); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Stop a second save after its vectors are on disk but before the
	// metadata is replaced.
	next := otherIndex(t, "Book")
	var crc uint32
	tmp, err := writeTemp(s.Dir(), Key("Book")+vectorsExt, func(w io.Writer) error {
		var err error
		crc, err = writeVectors(w, next.Vectors(), next.Dimension())
		return err
	})
	if err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := commit(tmp, filepath.Join(s.Dir(), vectorsName(Key("Book"), crc))); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, ok := s.Load("Book")
	if !ok {
		t.Fatal("prior artifact must stay loadable after an interrupted save")
	}
	if got.Len() != 2 || got.Chunk(0).Text != "first chunk" {
		t.Fatalf("expected the prior index, got %+v", got.Stats())
	}

	// The next complete save wins and clears the orphan.
	if err := s.Save("Book", next); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok = s.Load("Book")
	if !ok || got.Len() != 3 {
		t.Fatalf("expected the new index after a full save, ok=%v", ok)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 2 {
		t.Fatalf("expected stale vectors to be removed, have %d files", len(entries))
	}
}

func TestConcurrentSavesOfOneTitle(t *testing.T) {
	s := newStore(t)
	a, b := sampleIndex(t, "Book"), otherIndex(t, "Book")
	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, idx := range []*vectorstore.Index{a, b} {
			i, idx := i, idx
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.Save("Book", idx)
			}()
		}
		wg.Wait()
		if errs[0] != nil || errs[1] != nil {
			t.Fatalf("round %d: save errors %v", round, errs)
		}
		got, ok := s.Load("Book")
		if !ok {
			t.Fatalf("round %d: nothing loads after two successful saves", round)
		}
		if n := got.Len(); n != 2 && n != 3 {
			t.Fatalf("round %d: unexpected index size %d", round, n)
		}
	}
}

func TestDeleteRemovesEveryGeneration(t *testing.T) {
	s := newStore(t)
	if err := s.Save("Book", sampleIndex(t, "Book")); err != nil {
		t.Fatalf("save: %v", err)
	}
	stray := filepath.Join(s.Dir(), vectorsName(Key("Book"), 0xdeadbeef))
	if err := os.WriteFile(stray, []byte("orphan"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("Book.v2", sampleIndex(t, "Book.v2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete("Book"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatal("orphaned vectors survived delete")
	}
	if _, ok := s.Load("Book.v2"); !ok {
		t.Fatal("deleting one book must not touch another")
	}
}

func TestCommitSyncsDirectory(t *testing.T) {
	dir := t.TempDir()
	tmp, err := writeTemp(dir, "x.meta.json", func(w io.Writer) error {
		_, err := io.WriteString(w, "{}")
		return err
	})
	if err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := commit(tmp, filepath.Join(dir, "x.meta.json")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := syncDir(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("syncing a missing directory must fail")
	}
}
