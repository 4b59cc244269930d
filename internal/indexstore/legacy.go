package indexstore

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

// legacyIndex is the single-file gob layout written by earlier releases as
// <key>.index. It is read but never written.
type legacyIndex struct {
	Title      string
	Chunks     []domain.Chunk
	Embeddings [][]float32
	ModelName  string
}

func (l legacyIndex) title(stem string) string {
	if l.Title != "" {
		return l.Title
	}
	return stem
}

func readLegacy(path string) (legacyIndex, error) {
	var lg legacyIndex
	f, err := os.Open(path)
	if err != nil {
		return lg, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&lg); err != nil {
		return lg, fmt.Errorf("decode legacy index: %w", err)
	}
	return lg, nil
}

func (s *Store) loadLegacy(title string) (*vectorstore.Index, error) {
	var (
		lg  legacyIndex
		err error
	)
	for _, k := range legacyKeys(title) {
		lg, err = readLegacy(filepath.Join(s.dir, k+legacyExt))
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if lg.Title != "" && lg.Title != title {
		return nil, fmt.Errorf("legacy artifact belongs to %q", lg.Title)
	}
	return vectorstore.Build(lg.Chunks, lg.Embeddings, lg.ModelName)
}
