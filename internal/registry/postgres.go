package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bookrag/internal/registry/migrations"
)

var postgresQueries = queries{
	upsert: `INSERT INTO books (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (title) DO UPDATE SET
			artifact = EXCLUDED.artifact,
			model_name = EXCLUDED.model_name,
			chunks = EXCLUDED.chunks,
			dimension = EXCLUDED.dimension,
			source_path = EXCLUDED.source_path,
			author = EXCLUDED.author,
			language = EXCLUDED.language,
			summary = EXCLUDED.summary,
			updated_at = EXCLUDED.updated_at`,
	get:    `SELECT ` + columns + ` FROM books WHERE title = $1`,
	list:   `SELECT ` + columns + ` FROM books ORDER BY title`,
	delete: `DELETE FROM books WHERE title = $1`,
}

// NewPostgres connects to PostgreSQL and applies the schema.
func NewPostgres(dsn string) (Registry, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runPostgresMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &sqlStore{db: db, q: postgresQueries}, nil
}

func runPostgresMigrations(ctx context.Context, db *sql.DB) error {
	data, err := migrations.Postgres.ReadFile("postgres/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}
