package registry

import (
	"fmt"
	"strings"
)

// New opens a registry based on the DSN.
// - postgres:// or postgresql://: PostgreSQL
// - anything else: SQLite at the given path (":memory:" for a private in-memory database)
func New(dsn string) (Registry, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		r, err := NewPostgres(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return r, nil
	}
	return NewSQLite(dsn)
}
