package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QuotaRecord is one immutable ledger entry. Refunds carry a negative cost
// and reference the record they compensate through RefID.
type QuotaRecord struct {
	ID          string
	Channel     string
	Operation   string
	Cost        int64
	RecordedAt  time.Time
	WindowStart time.Time
	RefID       string
}

const quotaColumns = "id, channel, operation, cost, recorded_at, window_start, ref_id"

// AppendQuotaWithin appends rec only when the channel's summed cost inside
// [windowStart, windowEnd) plus rec.Cost stays within limit. The check and the
// insert run as one statement, so a concurrent reader never sees a sum that
// exceeds the cap. It reports whether the record was written and the summed
// cost observed before the attempt.
func (s *Store) AppendQuotaWithin(ctx context.Context, rec QuotaRecord, windowEnd time.Time, limit int64) (bool, int64, error) {
	if err := validateRecord(rec); err != nil {
		return false, 0, err
	}
	ctx = ensureContext(ctx)

	var (
		appended bool
		used     int64
	)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO quota_records (`+quotaColumns+`)
             SELECT ?, ?, ?, ?, ?, ?, ?
             WHERE (SELECT COALESCE(SUM(cost), 0) FROM quota_records
                    WHERE channel = ? AND recorded_at >= ? AND recorded_at < ?) + ? <= ?`,
			rec.ID, rec.Channel, rec.Operation, rec.Cost,
			unixNano(rec.RecordedAt), unixNano(rec.WindowStart), nullableString(rec.RefID),
			rec.Channel, unixNano(rec.WindowStart), unixNano(windowEnd), rec.Cost, limit,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		appended = affected == 1

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(cost), 0) FROM quota_records
             WHERE channel = ? AND recorded_at >= ? AND recorded_at < ?`,
			rec.Channel, unixNano(rec.WindowStart), unixNano(windowEnd),
		).Scan(&used); err != nil {
			return err
		}
		if appended {
			used -= rec.Cost
		}
		return tx.Commit()
	})
	if err != nil {
		return false, 0, fmt.Errorf("append quota record: %w", err)
	}
	return appended, used, nil
}

// AppendRefund writes a compensating record. A second refund for the same
// original record is ignored and reported as false.
func (s *Store) AppendRefund(ctx context.Context, rec QuotaRecord) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}
	if strings.TrimSpace(rec.RefID) == "" {
		return false, errors.New("refund requires a referenced record")
	}
	res, err := s.execWithRetry(ctx,
		`INSERT OR IGNORE INTO quota_records (`+quotaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Channel, rec.Operation, rec.Cost,
		unixNano(rec.RecordedAt), unixNano(rec.WindowStart), rec.RefID,
	)
	if err != nil {
		return false, fmt.Errorf("append refund: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append refund: %w", err)
	}
	return affected == 1, nil
}

// SumQuota returns the channel's summed cost inside [start, end).
func (s *Store) SumQuota(ctx context.Context, channel string, start, end time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COALESCE(SUM(cost), 0) FROM quota_records
         WHERE channel = ? AND recorded_at >= ? AND recorded_at < ?`,
		channel, unixNano(start), unixNano(end),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum quota: %w", err)
	}
	return total, nil
}

// QuotaRecords lists the channel's records at or after since, oldest first.
func (s *Store) QuotaRecords(ctx context.Context, channel string, since time.Time) ([]QuotaRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+quotaColumns+` FROM quota_records
         WHERE channel = ? AND recorded_at >= ?
         ORDER BY recorded_at, id`,
		channel, unixNano(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query quota records: %w", err)
	}
	defer rows.Close()

	var records []QuotaRecord
	for rows.Next() {
		rec, err := scanQuotaRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// QuotaRecordByID fetches one record, returning nil when it does not exist.
func (s *Store) QuotaRecordByID(ctx context.Context, id string) (*QuotaRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+quotaColumns+` FROM quota_records WHERE id = ?`, id)
	rec, err := scanQuotaRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota record: %w", err)
	}
	return &rec, nil
}

// PruneQuotaRecords deletes the channel's records older than before.
func (s *Store) PruneQuotaRecords(ctx context.Context, channel string, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM quota_records WHERE channel = ? AND recorded_at < ?`,
		channel, unixNano(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune quota records: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune quota records: %w", err)
	}
	return removed, nil
}

func validateRecord(rec QuotaRecord) error {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return errors.New("quota record id is required")
	case strings.TrimSpace(rec.Channel) == "":
		return errors.New("quota record channel is required")
	case strings.TrimSpace(rec.Operation) == "":
		return errors.New("quota record operation is required")
	case rec.RecordedAt.IsZero():
		return errors.New("quota record timestamp is required")
	}
	return nil
}

func scanQuotaRecord(scanner interface{ Scan(dest ...any) error }) (QuotaRecord, error) {
	var (
		rec         QuotaRecord
		recordedAt  int64
		windowStart int64
		refID       sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.Channel, &rec.Operation, &rec.Cost, &recordedAt, &windowStart, &refID); err != nil {
		return QuotaRecord{}, err
	}
	rec.RecordedAt = fromUnixNano(recordedAt)
	rec.WindowStart = fromUnixNano(windowStart)
	rec.RefID = refID.String
	return rec, nil
}
