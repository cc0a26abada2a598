package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// VisualUsage records that an asset appeared in one run's timeline.
type VisualUsage struct {
	Channel  string
	AssetID  string
	Category string
	RunID    string
	UsedAt   time.Time
}

// RecordVisualUsage inserts rows in one transaction. Repeating an asset within
// the same run keeps a single row.
func (s *Store) RecordVisualUsage(ctx context.Context, rows []VisualUsage) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if strings.TrimSpace(row.Channel) == "" || strings.TrimSpace(row.AssetID) == "" || strings.TrimSpace(row.RunID) == "" {
			return errors.New("visual usage requires channel, asset id and run id")
		}
	}
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO visual_usage (channel, asset_id, category, run_id, used_at)
             VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.Channel, row.AssetID, row.Category, row.RunID, unixNano(row.UsedAt)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("record visual usage: %w", err)
	}
	return nil
}

// RecentVisualUsage lists the channel's usage at or after since, oldest first.
func (s *Store) RecentVisualUsage(ctx context.Context, channel string, since time.Time) ([]VisualUsage, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT channel, asset_id, category, run_id, used_at FROM visual_usage
         WHERE channel = ? AND used_at >= ?
         ORDER BY used_at, asset_id`,
		channel, unixNano(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query visual usage: %w", err)
	}
	defer rows.Close()

	var usage []VisualUsage
	for rows.Next() {
		var (
			u      VisualUsage
			usedAt int64
		)
		if err := rows.Scan(&u.Channel, &u.AssetID, &u.Category, &u.RunID, &usedAt); err != nil {
			return nil, fmt.Errorf("scan visual usage: %w", err)
		}
		u.UsedAt = fromUnixNano(usedAt)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// PruneVisualUsage deletes the channel's usage older than before.
func (s *Store) PruneVisualUsage(ctx context.Context, channel string, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM visual_usage WHERE channel = ? AND used_at < ?`,
		channel, unixNano(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune visual usage: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune visual usage: %w", err)
	}
	return removed, nil
}
