package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confquest/confquest/internal/domain"
)

// ─── Task Ledger ────────────────────────────────────────────────────────────

const completionColumns = `id, user_id, task_kind, unique_key, points_awarded, metadata, day, completed_at`

// InsertCompletionIfAbsent inserts c unless (user_id, unique_key) already
// exists, in which case the existing row is returned with inserted=false.
func (d *DB) InsertCompletionIfAbsent(ctx context.Context, c domain.Completion) (domain.Completion, bool, error) {
	var (
		out      domain.Completion
		inserted bool
	)
	err := d.withTx(ctx, "insert_completion", func(tx *sql.Tx) error {
		var err error
		out, inserted, err = insertCompletionTx(ctx, tx, c)
		return err
	})
	return out, inserted, err
}

// AwardCompletion inserts c if absent and credits its points in the same
// transaction, so a row never exists without its journal entry.
func (d *DB) AwardCompletion(ctx context.Context, c domain.Completion) (domain.Completion, bool, error) {
	var (
		out      domain.Completion
		inserted bool
	)
	err := d.withTx(ctx, "award", func(tx *sql.Tx) error {
		var err error
		out, inserted, err = insertCompletionTx(ctx, tx, c)
		if err != nil || !inserted || out.PointsAwarded == 0 {
			return err
		}
		_, _, err = d.incrementTx(ctx, tx, domain.Grant{
			UserID: out.UserID,
			Field:  domain.FieldPoints,
			Delta:  out.PointsAwarded,
			Reason: "completion:" + string(out.Kind),
			Ref:    "completion:" + out.ID,
		})
		return err
	})
	if err != nil {
		return domain.Completion{}, false, err
	}
	return out, inserted, nil
}

// ReverseCompletion debits the row's stored points and deletes it atomically.
func (d *DB) ReverseCompletion(ctx context.Context, id string) (domain.Completion, error) {
	var out domain.Completion
	err := d.withTx(ctx, "reverse", func(tx *sql.Tx) error {
		c, err := getCompletion(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.PointsAwarded != 0 {
			if _, _, err := d.incrementTx(ctx, tx, domain.Grant{
				UserID: c.UserID,
				Field:  domain.FieldPoints,
				Delta:  -c.PointsAwarded,
				Reason: "reversal:" + string(c.Kind),
				Ref:    "reversal:" + c.ID,
			}); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM completions WHERE id = ?`, id); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// GetCompletion returns domain.ErrCompletionNotFound if absent.
func (d *DB) GetCompletion(ctx context.Context, id string) (domain.Completion, error) {
	return getCompletion(ctx, d.db, id)
}

// DeleteCompletion removes the row and returns it.
func (d *DB) DeleteCompletion(ctx context.Context, id string) (domain.Completion, error) {
	var out domain.Completion
	err := d.withTx(ctx, "delete_completion", func(tx *sql.Tx) error {
		c, err := getCompletion(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM completions WHERE id = ?`, id); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// ListCompletions returns the user's completions of kinds at or after since,
// newest first. Empty kinds means every kind.
func (d *DB) ListCompletions(ctx context.Context, userID string, kinds []domain.TaskKind, since time.Time) ([]domain.Completion, error) {
	query := `SELECT ` + completionColumns + ` FROM completions WHERE user_id = ?`
	args := []any{userID}
	if len(kinds) > 0 {
		query += ` AND task_kind IN (?` + strings.Repeat(", ?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	if !since.IsZero() {
		query += ` AND completed_at >= ?`
		args = append(args, since.UnixMilli())
	}
	query += ` ORDER BY completed_at DESC, id DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertCompletionTx(ctx context.Context, tx *sql.Tx, c domain.Completion) (domain.Completion, bool, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return domain.Completion{}, false, fmt.Errorf("encode metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO completions (`+completionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, unique_key) DO NOTHING`,
		c.ID, c.UserID, string(c.Kind), nullString(c.UniqueKey), c.PointsAwarded,
		string(meta), c.Day, c.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return domain.Completion{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Completion{}, false, err
	}
	if n == 1 {
		return c, true, nil
	}

	existing, err := scanCompletion(tx.QueryRowContext(ctx,
		`SELECT `+completionColumns+` FROM completions WHERE user_id = ? AND unique_key = ?`,
		c.UserID, c.UniqueKey,
	))
	if err != nil {
		return domain.Completion{}, false, fmt.Errorf("read conflicting completion: %w", err)
	}
	return existing, false, nil
}

func getCompletion(ctx context.Context, q queryer, id string) (domain.Completion, error) {
	c, err := scanCompletion(q.QueryRowContext(ctx,
		`SELECT `+completionColumns+` FROM completions WHERE id = ?`, id))
	if isNoRows(err) {
		return domain.Completion{}, fmt.Errorf("completion %q: %w", id, domain.ErrCompletionNotFound)
	}
	return c, err
}

func scanCompletion(s scanner) (domain.Completion, error) {
	var (
		c      domain.Completion
		kind   string
		key    sql.NullString
		meta   string
		millis int64
	)
	if err := s.Scan(&c.ID, &c.UserID, &kind, &key, &c.PointsAwarded, &meta, &c.Day, &millis); err != nil {
		return domain.Completion{}, err
	}
	c.Kind = domain.TaskKind(kind)
	c.UniqueKey = key.String
	c.CompletedAt = time.UnixMilli(millis)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return domain.Completion{}, fmt.Errorf("decode metadata of %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// ─── Discrepancies ──────────────────────────────────────────────────────────

// RecordDiscrepancy persists a reconciliation marker.
func (d *DB) RecordDiscrepancy(ctx context.Context, disc domain.Discrepancy) error {
	created := disc.CreatedAt
	if created.IsZero() {
		created = d.now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO discrepancies (kind, completion_id, user_id, field, delta, reason, ref, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(disc.Kind), disc.CompletionID, disc.Grant.UserID, string(disc.Grant.Field),
		disc.Grant.Delta, disc.Grant.Reason, nullString(disc.Grant.Ref), disc.Error, created.UnixMilli(),
	)
	return err
}

// PendingDiscrepancies returns unresolved markers, oldest first.
func (d *DB) PendingDiscrepancies(ctx context.Context, limit int) ([]domain.Discrepancy, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, kind, completion_id, user_id, field, delta, reason, ref, error, created_at
		 FROM discrepancies WHERE resolved_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Discrepancy
	for rows.Next() {
		var (
			disc    domain.Discrepancy
			kind    string
			field   string
			ref     sql.NullString
			created int64
		)
		if err := rows.Scan(&disc.ID, &kind, &disc.CompletionID, &disc.Grant.UserID, &field,
			&disc.Grant.Delta, &disc.Grant.Reason, &ref, &disc.Error, &created); err != nil {
			return nil, err
		}
		disc.Kind = domain.DiscrepancyKind(kind)
		disc.Grant.Field = domain.BalanceField(field)
		disc.Grant.Ref = ref.String
		disc.CreatedAt = time.UnixMilli(created)
		out = append(out, disc)
	}
	return out, rows.Err()
}

// ResolveDiscrepancy marks a marker settled.
func (d *DB) ResolveDiscrepancy(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE discrepancies SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		d.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("discrepancy %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
