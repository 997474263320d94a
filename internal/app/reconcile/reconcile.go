// Package reconcile settles the authoritative store on a schedule.
//
// A pass first settles pending discrepancy markers left by split ledger
// writes, then rewrites any cached profile balance that drifted from the
// sum of its journal.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// DefaultSchedule runs a pass every ten minutes.
const DefaultSchedule = "@every 10m"

// batchSize bounds the markers settled per pass.
const batchSize = 200

// Store is what a pass reads and repairs.
type Store interface {
	domain.BalanceStore
	GetCompletion(ctx context.Context, id string) (domain.Completion, error)
	DeleteCompletion(ctx context.Context, id string) (domain.Completion, error)
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	// SyncProfile rewrites a drifted cached balance to its journal sum
	// atomically and reports both values as they were.
	SyncProfile(ctx context.Context, userID string, field domain.BalanceField) (cached, journal int64, err error)
	PendingDiscrepancies(ctx context.Context, limit int) ([]domain.Discrepancy, error)
	ResolveDiscrepancy(ctx context.Context, id int64) error
}

// Report summarizes one pass.
type Report struct {
	Profiles int           `json:"profiles"`
	Repaired int           `json:"repaired"`
	Settled  int           `json:"settled"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	store    Store
	schedule cron.Schedule
	spec     string
	log      *slog.Logger
}

// New creates a reconciler for the cron spec (standard five-field or a
// descriptor such as "@every 10m"). An empty spec uses DefaultSchedule.
func New(store Store, spec string) (*Reconciler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", spec, err)
	}
	return &Reconciler{
		store:    store,
		schedule: sched,
		spec:     spec,
		log:      slog.With("component", "reconcile"),
	}, nil
}

// Next returns when the pass after t is due.
func (r *Reconciler) Next(t time.Time) time.Time { return r.schedule.Next(t) }

// Run schedules passes until ctx is cancelled, then waits for a running
// pass to finish.
func (r *Reconciler) Run(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(r.schedule, cron.FuncJob(func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("reconcile pass failed", "error", err)
		}
	}))
	r.log.Info("reconciler started", "schedule", r.spec)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("reconciler stopped")
}

// RunOnce performs one pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	if err := r.settle(ctx, &rep); err != nil {
		return rep, err
	}
	if err := r.repair(ctx, &rep); err != nil {
		return rep, err
	}

	rep.Took = time.Since(start)
	if rep.Repaired > 0 || rep.Settled > 0 || rep.Failed > 0 {
		r.log.Info("reconcile pass", "profiles", rep.Profiles, "repaired", rep.Repaired,
			"settled", rep.Settled, "failed", rep.Failed, "took", rep.Took)
	}
	return rep, nil
}

// ─── Discrepancies ──────────────────────────────────────────────────────────

func (r *Reconciler) settle(ctx context.Context, rep *Report) error {
	pending, err := r.store.PendingDiscrepancies(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("list discrepancies: %w", err)
	}
	for _, d := range pending {
		if err := r.settleOne(ctx, d); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rep.Failed++
			r.log.Warn("discrepancy left pending", "id", d.ID, "kind", d.Kind, "completion", d.CompletionID, "error", err)
			continue
		}
		if err := r.store.ResolveDiscrepancy(ctx, d.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			rep.Failed++
			r.log.Warn("resolve discrepancy", "id", d.ID, "error", err)
			continue
		}
		rep.Settled++
		metrics.ReconcileRepairs.WithLabelValues(string(d.Kind)).Inc()
		r.log.Info("discrepancy settled", "id", d.ID, "kind", d.Kind, "completion", d.CompletionID, "user", d.Grant.UserID)
	}
	return nil
}

func (r *Reconciler) settleOne(ctx context.Context, d domain.Discrepancy) error {
	switch d.Kind {
	case domain.DiscrepancyMissingIncrement:
		// A row removed since is not credited after the fact.
		if _, err := r.store.GetCompletion(ctx, d.CompletionID); errors.Is(err, domain.ErrCompletionNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		_, _, err := r.store.IncrementBalance(ctx, d.Grant)
		return err
	case domain.DiscrepancyPendingDelete:
		_, err := r.store.DeleteCompletion(ctx, d.CompletionID)
		if errors.Is(err, domain.ErrCompletionNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: unknown discrepancy kind %q", domain.ErrInvalidInput, d.Kind)
	}
}

// ─── Balance Drift ──────────────────────────────────────────────────────────

func (r *Reconciler) repair(ctx context.Context, rep *Report) error {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	rep.Profiles = len(profiles)

	for _, p := range profiles {
		for _, field := range []domain.BalanceField{domain.FieldPoints, domain.FieldCoinsEarned} {
			cached, sum, err := r.store.SyncProfile(ctx, p.UserID, field)
			if err != nil {
				return fmt.Errorf("repair %s/%s: %w", p.UserID, field, err)
			}
			if sum == cached {
				continue
			}
			rep.Repaired++
			metrics.ReconcileRepairs.WithLabelValues("drift").Inc()
			r.log.Warn("balance drift repaired", "user", p.UserID, "field", field, "cached", cached, "journal", sum)
		}
	}
	return nil
}
