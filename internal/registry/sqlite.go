package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"bookrag/internal/registry/migrations"
	_ "modernc.org/sqlite"
)

var sqliteQueries = queries{
	upsert: `INSERT INTO books (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (title) DO UPDATE SET
			artifact = excluded.artifact,
			model_name = excluded.model_name,
			chunks = excluded.chunks,
			dimension = excluded.dimension,
			source_path = excluded.source_path,
			author = excluded.author,
			language = excluded.language,
			summary = excluded.summary,
			updated_at = excluded.updated_at`,
	get:    `SELECT ` + columns + ` FROM books WHERE title = ?`,
	list:   `SELECT ` + columns + ` FROM books ORDER BY title`,
	delete: `DELETE FROM books WHERE title = ?`,
}

// NewSQLite opens (and migrates) a SQLite registry at path.
func NewSQLite(path string) (Registry, error) {
	if path == "" {
		path = "data/registry.db"
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &sqlStore{db: db, q: sqliteQueries}, nil
}

func runSQLiteMigrations(db *sql.DB) error {
	data, err := migrations.SQLite.ReadFile("sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}
