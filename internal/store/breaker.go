package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BreakerRow is the persisted form of one circuit breaker.
type BreakerRow struct {
	Resource  string
	State     string
	Failures  int
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// LoadBreaker returns the stored row for resource. The boolean is false when
// the resource has never been persisted.
func (s *Store) LoadBreaker(ctx context.Context, resource string) (BreakerRow, bool, error) {
	var (
		row       BreakerRow
		openedAt  sql.NullInt64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT resource, state, failures, opened_at, updated_at FROM breaker_state WHERE resource = ?`,
		resource,
	).Scan(&row.Resource, &row.State, &row.Failures, &openedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BreakerRow{}, false, nil
	}
	if err != nil {
		return BreakerRow{}, false, fmt.Errorf("load breaker state: %w", err)
	}
	if openedAt.Valid {
		row.OpenedAt = fromUnixNano(openedAt.Int64)
	}
	row.UpdatedAt = fromUnixNano(updatedAt)
	return row, true, nil
}

// SaveBreaker upserts the row for row.Resource.
func (s *Store) SaveBreaker(ctx context.Context, row BreakerRow) error {
	if strings.TrimSpace(row.Resource) == "" {
		return errors.New("breaker resource is required")
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO breaker_state (resource, state, failures, opened_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(resource) DO UPDATE SET
             state = excluded.state,
             failures = excluded.failures,
             opened_at = excluded.opened_at,
             updated_at = excluded.updated_at`,
		row.Resource, row.State, row.Failures, nullableTime(row.OpenedAt), unixNano(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}
