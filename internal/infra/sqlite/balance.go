package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/confquest/confquest/internal/domain"
)

// ─── Balance Journal ────────────────────────────────────────────────────────

// IncrementBalance applies g in its own transaction.
func (d *DB) IncrementBalance(ctx context.Context, g domain.Grant) (domain.JournalEntry, bool, error) {
	var (
		entry   domain.JournalEntry
		applied bool
	)
	err := d.withTx(ctx, "increment", func(tx *sql.Tx) error {
		var err error
		entry, applied, err = d.incrementTx(ctx, tx, g)
		return err
	})
	return entry, applied, err
}

// ConversionRefPrefix marks points granted in exchange for coins.
const ConversionRefPrefix = "conversion:"

// IncrementConversion applies a coin-to-point conversion grant. Within the
// transaction it checks that delta is a whole number of units and that all
// conversions of the user stay covered by coins earned:
// converted + delta <= floor(coins_earned / ratio) * pointsPerUnit.
func (d *DB) IncrementConversion(ctx context.Context, g domain.Grant, ratio, pointsPerUnit int64) (domain.JournalEntry, bool, error) {
	if g.Field != domain.FieldPoints || !strings.HasPrefix(g.Ref, ConversionRefPrefix) {
		return domain.JournalEntry{}, false, fmt.Errorf("conversion grant %s/%q: %w", g.Field, g.Ref, domain.ErrInvalidInput)
	}
	if ratio <= 0 || pointsPerUnit <= 0 {
		return domain.JournalEntry{}, false, fmt.Errorf("conversion rate %d/%d: %w", ratio, pointsPerUnit, domain.ErrInvariantViolation)
	}

	var (
		entry   domain.JournalEntry
		applied bool
	)
	err := d.withTx(ctx, "convert", func(tx *sql.Tx) error {
		existing, err := scanJournal(tx.QueryRowContext(ctx,
			`SELECT `+journalColumns+` FROM balance_journal WHERE user_id = ? AND field = ? AND ref = ?`,
			g.UserID, string(g.Field), g.Ref))
		if err == nil {
			entry = existing
			return nil
		}
		if !isNoRows(err) {
			return err
		}

		if g.Delta <= 0 || g.Delta%pointsPerUnit != 0 {
			return fmt.Errorf("conversion of %d points is not a whole number of %d-point units: %w",
				g.Delta, pointsPerUnit, domain.ErrInvalidInput)
		}
		earned, err := balanceOf(ctx, tx, g.UserID, domain.FieldCoinsEarned)
		if err != nil {
			return err
		}
		var converted sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT SUM(delta) FROM balance_journal WHERE user_id = ? AND field = ? AND ref LIKE ?`,
			g.UserID, string(domain.FieldPoints), ConversionRefPrefix+"%").Scan(&converted); err != nil {
			return err
		}
		allowed := earned / ratio * pointsPerUnit
		if converted.Int64+g.Delta > allowed {
			return domain.Reject(domain.ErrRejected,
				fmt.Sprintf("%d coins earned cover %d converted points, %d already converted",
					earned, allowed, converted.Int64), time.Time{})
		}

		entry, applied, err = d.incrementTx(ctx, tx, g)
		return err
	})
	return entry, applied, err
}

// incrementTx journals g and updates the cached profile balance. A repeated
// Ref returns the first entry unchanged.
func (d *DB) incrementTx(ctx context.Context, tx *sql.Tx, g domain.Grant) (domain.JournalEntry, bool, error) {
	if !g.Field.Valid() {
		return domain.JournalEntry{}, false, fmt.Errorf("balance field %q: %w", g.Field, domain.ErrInvalidInput)
	}
	if g.UserID == "" {
		return domain.JournalEntry{}, false, fmt.Errorf("grant without user: %w", domain.ErrInvalidInput)
	}

	if g.Ref != "" {
		existing, err := scanJournal(tx.QueryRowContext(ctx,
			`SELECT `+journalColumns+` FROM balance_journal WHERE user_id = ? AND field = ? AND ref = ?`,
			g.UserID, string(g.Field), g.Ref))
		if err == nil {
			return existing, false, nil
		}
		if !isNoRows(err) {
			return domain.JournalEntry{}, false, err
		}
	}

	now := d.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, updated_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING`,
		g.UserID, now.UnixMilli()); err != nil {
		return domain.JournalEntry{}, false, err
	}

	current, err := balanceOf(ctx, tx, g.UserID, g.Field)
	if err != nil {
		return domain.JournalEntry{}, false, err
	}
	next := current + g.Delta
	if next < 0 {
		return domain.JournalEntry{}, false, fmt.Errorf("%s of %s would become %d: %w",
			g.Field, g.UserID, next, domain.ErrInvariantViolation)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO balance_journal (user_id, field, delta, balance, reason, ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.UserID, string(g.Field), g.Delta, next, g.Reason, nullString(g.Ref), now.UnixMilli())
	if err != nil {
		return domain.JournalEntry{}, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.JournalEntry{}, false, err
	}

	// Field is validated above; the column name comes from a closed set.
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET `+string(g.Field)+` = ?, updated_at = ? WHERE user_id = ?`,
		next, now.UnixMilli(), g.UserID); err != nil {
		return domain.JournalEntry{}, false, err
	}

	return domain.JournalEntry{
		ID:        id,
		UserID:    g.UserID,
		Field:     g.Field,
		Delta:     g.Delta,
		Balance:   next,
		Reason:    g.Reason,
		Ref:       g.Ref,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}, true, nil
}

func balanceOf(ctx context.Context, q queryer, userID string, field domain.BalanceField) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx,
		`SELECT `+string(field)+` FROM profiles WHERE user_id = ?`, userID).Scan(&v)
	if isNoRows(err) {
		return 0, nil
	}
	return v, err
}

// ─── Profiles ───────────────────────────────────────────────────────────────

// Profile returns the cached balances; unknown users have a zero profile.
func (d *DB) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	p := domain.Profile{UserID: userID}
	var updated int64
	err := d.db.QueryRowContext(ctx,
		`SELECT points, coins_earned, updated_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.Points, &p.CoinsEarned, &updated)
	if isNoRows(err) {
		return p, nil
	}
	if err != nil {
		return domain.Profile{}, err
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return p, nil
}

// ListProfiles returns every profile ordered by user.
func (d *DB) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, points, coins_earned, updated_at FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Profile
	for rows.Next() {
		var (
			p       domain.Profile
			updated int64
		)
		if err := rows.Scan(&p.UserID, &p.Points, &p.CoinsEarned, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.UnixMilli(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Journaled reports whether ref has a journal entry for (user, field).
func (d *DB) Journaled(ctx context.Context, userID string, field domain.BalanceField, ref string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM balance_journal WHERE user_id = ? AND field = ? AND ref = ?`,
		userID, string(field), ref).Scan(&n)
	return n > 0, err
}

// JournalSum returns the sum of every journaled delta for (user, field).
func (d *DB) JournalSum(ctx context.Context, userID string, field domain.BalanceField) (int64, error) {
	var sum sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT SUM(delta) FROM balance_journal WHERE user_id = ? AND field = ?`,
		userID, string(field)).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// SyncProfile rewrites the cached (user, field) balance to the sum of its
// journal when the two differ. The read and the rewrite share one
// transaction, so a grant cannot land in between.
func (d *DB) SyncProfile(ctx context.Context, userID string, field domain.BalanceField) (cached, journal int64, err error) {
	if !field.Valid() {
		return 0, 0, fmt.Errorf("balance field %q: %w", field, domain.ErrInvalidInput)
	}
	err = d.withTx(ctx, "sync_profile", func(tx *sql.Tx) error {
		var err error
		if cached, err = balanceOf(ctx, tx, userID, field); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(delta), 0) FROM balance_journal WHERE user_id = ? AND field = ?`,
			userID, string(field)).Scan(&journal); err != nil {
			return err
		}
		if cached == journal {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE profiles SET `+string(field)+` = (
			   SELECT COALESCE(SUM(delta), 0) FROM balance_journal WHERE user_id = ? AND field = ?
			 ), updated_at = ? WHERE user_id = ?`,
			userID, string(field), d.now().UnixMilli(), userID)
		return err
	})
	return cached, journal, err
}

// RepairProfile overwrites the cached balance with value. The journal is
// left untouched.
func (d *DB) RepairProfile(ctx context.Context, userID string, field domain.BalanceField, value int64) error {
	if !field.Valid() {
		return fmt.Errorf("balance field %q: %w", field, domain.ErrInvalidInput)
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, `+string(field)+`, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET `+string(field)+` = excluded.`+string(field)+`, updated_at = excluded.updated_at`,
		userID, value, d.now().UnixMilli())
	return err
}

// Journal returns recent journal entries for (user, field), newest first.
func (d *DB) Journal(ctx context.Context, userID string, field domain.BalanceField, limit int) ([]domain.JournalEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+journalColumns+` FROM balance_journal
		 WHERE user_id = ? AND field = ? ORDER BY id DESC LIMIT ?`,
		userID, string(field), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const journalColumns = `id, user_id, field, delta, balance, reason, ref, created_at`

func scanJournal(s scanner) (domain.JournalEntry, error) {
	var (
		e       domain.JournalEntry
		field   string
		ref     sql.NullString
		created int64
	)
	if err := s.Scan(&e.ID, &e.UserID, &field, &e.Delta, &e.Balance, &e.Reason, &ref, &created); err != nil {
		return domain.JournalEntry{}, err
	}
	e.Field = domain.BalanceField(field)
	e.Ref = ref.String
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}
