package outbox

import (
	"context"
	"time"

	"rxgate/internal/metrics"
	"rxgate/internal/repository"
	"rxgate/internal/services"
	"rxgate/pkg/logger"
)

// Reconciler backfills consult.approved events for approvals whose enqueue
// was lost between granting the approval and writing the event. Enqueue is
// idempotent on the dedupe key, so re-scanning the same window is harmless.
type Reconciler struct {
	approvals repository.ApprovalRepository
	outbox    repository.OutboxRepository
	lookback  time.Duration
	limit     int
	clock     func() time.Time
}

func NewReconciler(approvals repository.ApprovalRepository, outboxRepo repository.OutboxRepository, lookback time.Duration, limit int) *Reconciler {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	if limit <= 0 {
		limit = 500
	}
	return &Reconciler{approvals: approvals, outbox: outboxRepo, lookback: lookback, limit: limit, clock: time.Now}
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Reconcile runs one pass and returns how many events it created.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	now := r.clock()
	recent, err := r.approvals.ListApprovedSince(ctx, now.Add(-r.lookback), r.limit)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, a := range recent {
		evt, err := services.NewApprovalEvent(a, now)
		if err != nil {
			logger.GetGlobalLogger().Errorf("build approval event for %s: %v", a.ID, err)
			continue
		}
		ok, err := r.outbox.CreateOnce(ctx, evt)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			metrics.OutboxReconciledTotal.Inc()
			logger.GetGlobalLogger().Infof("reconciler backfilled event %s for approval %s", evt.DedupeKey, a.ID)
		}
	}
	return created, nil
}
