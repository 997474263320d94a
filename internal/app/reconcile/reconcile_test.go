package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestReconciler(t *testing.T, db *sqlite.DB) *Reconciler {
	t.Helper()
	r, err := New(db, "")
	require.NoError(t, err)
	return r
}

func photo(id, user string) domain.Completion {
	return domain.Completion{
		ID:            id,
		UserID:        user,
		Kind:          domain.KindTeamPhoto,
		PointsAwarded: 20,
		UniqueKey:     "daily:team_photo:2026-03-02",
		Day:           "2026-03-02",
		CompletedAt:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func credit(c domain.Completion) domain.Grant {
	return domain.Grant{
		UserID: c.UserID, Field: domain.FieldPoints, Delta: c.PointsAwarded,
		Reason: string(c.Kind), Ref: "completion:" + c.ID,
	}
}

// ─── Schedule ───────────────────────────────────────────────────────────────

func TestNew_Schedule(t *testing.T) {
	db := newTestDB(t)
	r := newTestReconciler(t, db)
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, t0.Add(10*time.Minute), r.Next(t0))

	_, err := New(db, "every so often")
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := newTestReconciler(t, newTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ─── Passes ─────────────────────────────────────────────────────────────────

func TestRunOnce_CleanStoreIsNoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, err := db.AwardCompletion(ctx, photo("c1", "u1"))
	require.NoError(t, err)

	rep, err := newTestReconciler(t, db).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Profiles)
	assert.Zero(t, rep.Repaired)
	assert.Zero(t, rep.Settled)
}

func TestRunOnce_RepairsDrift(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, err := db.AwardCompletion(ctx, photo("c1", "u1"))
	require.NoError(t, err)
	require.NoError(t, db.RepairProfile(ctx, "u1", domain.FieldPoints, 999))

	rep, err := newTestReconciler(t, db).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Repaired)

	p, err := db.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Points, "cached balance follows the journal")
}

func TestRunOnce_SettlesMissingIncrement(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := photo("c1", "u1")
	_, inserted, err := db.InsertCompletionIfAbsent(ctx, c)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, db.RecordDiscrepancy(ctx, domain.Discrepancy{
		Kind: domain.DiscrepancyMissingIncrement, CompletionID: c.ID, Grant: credit(c), Error: "timeout",
	}))

	r := newTestReconciler(t, db)
	rep, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)

	p, err := db.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Points)

	pending, err := db.PendingDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second pass finds nothing to do.
	rep, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Settled)
}

func TestRunOnce_MissingIncrementAlreadyApplied(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := photo("c1", "u1")
	_, _, err := db.AwardCompletion(ctx, c)
	require.NoError(t, err)
	// The increment landed but its response was lost.
	require.NoError(t, db.RecordDiscrepancy(ctx, domain.Discrepancy{
		Kind: domain.DiscrepancyMissingIncrement, CompletionID: c.ID, Grant: credit(c),
	}))

	_, err = newTestReconciler(t, db).RunOnce(ctx)
	require.NoError(t, err)

	p, err := db.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Points, "credited once")
}

func TestRunOnce_MissingIncrementForRemovedRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := photo("c1", "u1")
	require.NoError(t, db.RecordDiscrepancy(ctx, domain.Discrepancy{
		Kind: domain.DiscrepancyMissingIncrement, CompletionID: c.ID, Grant: credit(c),
	}))

	rep, err := newTestReconciler(t, db).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)

	p, err := db.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, p.Points)
}

func TestRunOnce_SettlesPendingDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := photo("c1", "u1")
	_, _, err := db.AwardCompletion(ctx, c)
	require.NoError(t, err)

	debit := domain.Grant{UserID: "u1", Field: domain.FieldPoints, Delta: -20, Reason: "reversal", Ref: "reversal:c1"}
	_, _, err = db.IncrementBalance(ctx, debit)
	require.NoError(t, err)
	require.NoError(t, db.RecordDiscrepancy(ctx, domain.Discrepancy{
		Kind: domain.DiscrepancyPendingDelete, CompletionID: c.ID, Grant: debit,
	}))

	rep, err := newTestReconciler(t, db).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)

	_, err = db.GetCompletion(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrCompletionNotFound)
	p, err := db.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, p.Points)
}

func TestRunOnce_UnknownKindStaysPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.RecordDiscrepancy(ctx, domain.Discrepancy{
		Kind: "mystery", CompletionID: "c1", Grant: domain.Grant{UserID: "u1", Field: domain.FieldPoints},
	}))

	rep, err := newTestReconciler(t, db).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	pending, err := db.PendingDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
