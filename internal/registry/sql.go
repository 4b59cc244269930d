package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// queries holds the dialect-specific statements for sqlStore.
type queries struct {
	upsert string
	get    string
	list   string
	delete string
}

// sqlStore implements Registry over database/sql.
type sqlStore struct {
	db *sql.DB
	q  queries
}

const columns = `title, artifact, model_name, chunks, dimension, source_path, author, language, summary, updated_at`

func (s *sqlStore) Put(ctx context.Context, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q.upsert,
		e.Title, e.Artifact, e.ModelName, e.Chunks, e.Dimension,
		e.SourcePath, e.Author, e.Language, e.Summary, e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert book: %w", err)
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, title string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, s.q.get, title))
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("query book: %w", err)
	}
	return e, nil
}

func (s *sqlStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) Delete(ctx context.Context, title string) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, title); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var updated int64
	err := row.Scan(&e.Title, &e.Artifact, &e.ModelName, &e.Chunks, &e.Dimension,
		&e.SourcePath, &e.Author, &e.Language, &e.Summary, &updated)
	if err != nil {
		return e, err
	}
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}
