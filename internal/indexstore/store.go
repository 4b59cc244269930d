package indexstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"bookrag/internal/vectorstore"
)

const (
	vectorsExt = ".vectors"
	metaExt    = ".meta.json"
	legacyExt  = ".index"
	// genSep separates a key from the checksum in a vectors file name.
	// Key never emits it.
	genSep = "~"
)

// Store persists one index per book title under a directory. An artifact is
// <key>.meta.json plus the vectors file it names, <key>~<crc>.vectors. Every
// save writes a fresh vectors file and then atomically replaces the
// metadata, so the previous artifact stays loadable until the new one is
// committed. Superseded vectors files are removed afterwards.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &Store{dir: dir, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(title, ext string) string {
	return filepath.Join(s.dir, Key(title)+ext)
}

// lock serialises Save, Load and Delete per key.
func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func vectorsName(key string, crc uint32) string {
	return fmt.Sprintf("%s%s%08x%s", key, genSep, crc, vectorsExt)
}

// isVectorsFile reports whether name is a vectors file belonging to key.
func isVectorsFile(name, key string) bool {
	if name == key+vectorsExt {
		return true
	}
	rest, ok := strings.CutPrefix(name, key+genSep)
	if !ok {
		return false
	}
	crc, ok := strings.CutSuffix(rest, vectorsExt)
	if !ok || len(crc) != 8 {
		return false
	}
	for _, r := range crc {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// Save writes idx as the artifact for title, replacing any previous one.
// On error the previously committed artifact is left readable.
func (s *Store) Save(title string, idx *vectorstore.Index) error {
	key := Key(title)
	defer s.lock(key)()

	metaPath := filepath.Join(s.dir, key+metaExt)
	var prevVectors string
	if prev, err := readMeta(metaPath); err == nil {
		prevVectors = prev.vectorsFile(key)
	}

	var crc uint32
	tmp, err := writeTemp(s.dir, key+vectorsExt, func(w io.Writer) error {
		var err error
		crc, err = writeVectors(w, idx.Vectors(), idx.Dimension())
		return err
	})
	if err != nil {
		return fmt.Errorf("save vectors for %q: %w", title, err)
	}
	vecName := vectorsName(key, crc)
	if err := commit(tmp, filepath.Join(s.dir, vecName)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save vectors for %q: %w", title, err)
	}

	m := meta{
		FormatVersion: formatVersion,
		Title:         title,
		ModelName:     idx.ModelName(),
		Count:         idx.Len(),
		Dimension:     idx.Dimension(),
		VectorsCRC32:  crc,
		VectorsFile:   vecName,
		SavedAt:       time.Now().UTC(),
		Chunks:        idx.Chunks(),
	}
	err = writeAtomic(metaPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
	if err != nil {
		// The rename may have landed before a failed directory sync; only
		// drop the new vectors if the metadata on disk does not name them.
		if cur, rerr := readMeta(metaPath); vecName != prevVectors && (rerr != nil || cur.vectorsFile(key) != vecName) {
			_ = os.Remove(filepath.Join(s.dir, vecName))
		}
		return fmt.Errorf("save metadata for %q: %w", title, err)
	}

	s.sweep(key, vecName)
	for _, k := range legacyKeys(title) {
		if err := os.Remove(filepath.Join(s.dir, k+legacyExt)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove legacy index", "book", title, "error", err)
		}
	}
	return nil
}

// sweep removes every vectors file of key except keep. Failures are logged;
// they only leave garbage behind.
func (s *Store) sweep(key, keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("list index dir", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == keep || e.IsDir() {
			continue
		}
		if isVectorsFile(name, key) {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("remove stale index file", "file", name, "error", err)
			}
		}
	}
}

// Load returns the stored index for title. Missing, partial or corrupt
// artifacts report ok == false; the caller decides whether to rebuild.
func (s *Store) Load(title string) (*vectorstore.Index, bool) {
	defer s.lock(Key(title))()

	idx, err := s.load(title)
	if err == nil {
		return idx, true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("index artifact unreadable", "book", title, "error", err)
	}

	idx, err = s.loadLegacy(title)
	if err == nil {
		s.logger.Info("loaded legacy index", "book", title)
		return idx, true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("legacy index unreadable", "book", title, "error", err)
	}
	return nil, false
}

func (s *Store) load(title string) (*vectorstore.Index, error) {
	key := Key(title)
	m, err := readMeta(filepath.Join(s.dir, key+metaExt))
	if err != nil {
		return nil, err
	}
	if m.Title != title {
		return nil, fmt.Errorf("artifact belongs to %q", m.Title)
	}
	if len(m.Chunks) != m.Count {
		return nil, fmt.Errorf("metadata lists %d chunks, expected %d", len(m.Chunks), m.Count)
	}
	name := m.vectorsFile(key)
	if name != filepath.Base(name) || !isVectorsFile(name, key) {
		return nil, fmt.Errorf("metadata names foreign vectors file %q", name)
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vectors, err := readVectors(f, m)
	if err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	return vectorstore.Build(m.Chunks, vectors, m.ModelName)
}

func (m meta) vectorsFile(key string) string {
	if m.VectorsFile != "" {
		return m.VectorsFile
	}
	return key + vectorsExt
}

func readMeta(path string) (meta, error) {
	var m meta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode metadata: %w", err)
	}
	if m.FormatVersion != formatVersion {
		return m, fmt.Errorf("unsupported metadata version %d", m.FormatVersion)
	}
	return m, nil
}

// Exists reports whether any artifact, current or legacy, exists for title.
func (s *Store) Exists(title string) bool {
	if _, err := os.Stat(s.path(title, metaExt)); err == nil {
		return true
	}
	for _, k := range legacyKeys(title) {
		if _, err := os.Stat(filepath.Join(s.dir, k+legacyExt)); err == nil {
			return true
		}
	}
	return false
}

// Delete removes every artifact for title. Missing files are not an error.
func (s *Store) Delete(title string) error {
	key := Key(title)
	defer s.lock(key)()

	var errs []error
	// Metadata first: without it no vectors file is ever loaded.
	if err := os.Remove(filepath.Join(s.dir, key+metaExt)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	for _, e := range entries {
		if isVectorsFile(e.Name(), key) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	for _, k := range legacyKeys(title) {
		if err := os.Remove(filepath.Join(s.dir, k+legacyExt)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the titles of all stored books, sorted. Titles are read from
// the artifacts themselves since keys may be hashed.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(s.dir, name)
		switch {
		case strings.HasSuffix(name, metaExt):
			m, err := readMeta(full)
			if err != nil {
				s.logger.Debug("skip unreadable metadata", "file", name, "error", err)
				continue
			}
			seen[m.Title] = struct{}{}
		case strings.HasSuffix(name, legacyExt):
			lg, err := readLegacy(full)
			if err != nil {
				s.logger.Debug("skip unreadable legacy index", "file", name, "error", err)
				continue
			}
			seen[lg.title(strings.TrimSuffix(name, legacyExt))] = struct{}{}
		}
	}
	titles := make([]string, 0, len(seen))
	for t := range seen {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles, nil
}

// writeAtomic writes to a temporary file in the target directory and
// renames it over path.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := writeTemp(filepath.Dir(path), filepath.Base(path), write)
	if err != nil {
		return err
	}
	if err := commit(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// writeTemp writes a synced temporary file named after base in dir and
// returns its path.
func writeTemp(dir, base string, write func(io.Writer) error) (name string, err error) {
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return "", err
	}
	if err = tmp.Sync(); err != nil {
		return "", err
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

// commit renames tmp to path and syncs the directory so the rename survives
// a crash.
func commit(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		// Directories cannot be opened for sync on Windows.
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
