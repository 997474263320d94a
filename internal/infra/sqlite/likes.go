package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/confquest/confquest/internal/domain"
)

// ─── Likes ──────────────────────────────────────────────────────────────────

// LikeState reports whether userID likes targetID and the target's count.
func (d *DB) LikeState(ctx context.Context, targetID, userID string) (domain.LikeState, error) {
	return likeState(ctx, d.db, targetID, userID)
}

// SetLike adds or removes userID on the target's current set.
// Both directions are idempotent.
func (d *DB) SetLike(ctx context.Context, targetID, userID string, liked bool) (domain.LikeState, error) {
	if targetID == "" || userID == "" {
		return domain.LikeState{}, fmt.Errorf("like needs target and user: %w", domain.ErrInvalidInput)
	}
	var out domain.LikeState
	err := d.withTx(ctx, "set_like", func(tx *sql.Tx) error {
		var err error
		if liked {
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO likes (target_id, user_id, created_at) VALUES (?, ?, ?)`,
				targetID, userID, d.now().UnixMilli())
		} else {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM likes WHERE target_id = ? AND user_id = ?`, targetID, userID)
		}
		if err != nil {
			return err
		}
		out, err = likeState(ctx, tx, targetID, userID)
		return err
	})
	return out, err
}

// Likers returns the user IDs in the target's liked-by set.
func (d *DB) Likers(ctx context.Context, targetID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id FROM likes WHERE target_id = ? ORDER BY created_at, user_id`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func likeState(ctx context.Context, q queryer, targetID, userID string) (domain.LikeState, error) {
	s := domain.LikeState{TargetID: targetID}
	var mine int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(user_id = ?), 0) FROM likes WHERE target_id = ?`,
		userID, targetID,
	).Scan(&s.Count, &mine)
	if err != nil {
		return domain.LikeState{}, err
	}
	s.Liked = mine > 0
	return s, nil
}
