package store

import (
	"context"
	"database/sql"
)

// ExecForTest runs raw SQL against the store's database.
func (s *Store) ExecForTest(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}
