package outbox

import (
	"context"
	"time"

	"rxgate/pkg/logger"
)

// Runner drives the reconciler and dispatcher on a ticker. Each tick runs
// the reconciler first when its interval has elapsed, then one dispatch pass.
type Runner struct {
	reconciler        *Reconciler
	dispatcher        *Dispatcher
	dispatchInterval  time.Duration
	reconcileInterval time.Duration
	lastReconcile     time.Time
}

func NewRunner(reconciler *Reconciler, dispatcher *Dispatcher, dispatchInterval, reconcileInterval time.Duration) *Runner {
	if dispatchInterval <= 0 {
		dispatchInterval = 30 * time.Second
	}
	if reconcileInterval <= 0 {
		reconcileInterval = 2 * time.Minute
	}
	return &Runner{
		reconciler:        reconciler,
		dispatcher:        dispatcher,
		dispatchInterval:  dispatchInterval,
		reconcileInterval: reconcileInterval,
	}
}

func (r *Runner) Start(ctx context.Context) {
	go r.Run(ctx)
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.dispatchInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if r.reconciler != nil && time.Since(r.lastReconcile) >= r.reconcileInterval {
		if _, err := r.reconciler.Reconcile(ctx); err != nil {
			logger.GetGlobalLogger().Errorf("outbox reconcile: %v", err)
		}
		r.lastReconcile = time.Now()
	}
	if r.dispatcher == nil {
		return
	}
	res, err := r.dispatcher.DispatchPending(ctx)
	if err != nil {
		logger.GetGlobalLogger().Errorf("outbox dispatch: %v", err)
		return
	}
	if res.Claimed > 0 {
		logger.GetGlobalLogger().Infof("outbox pass: claimed=%d delivered=%d retried=%d dead_letters=%d skipped=%d",
			res.Claimed, res.Delivered, res.Retried, res.DeadLetters, res.Skipped)
	}
}

// RunOnce performs a single reconcile and dispatch pass regardless of timers.
func (r *Runner) RunOnce(ctx context.Context) (int, DispatchResult, error) {
	created := 0
	if r.reconciler != nil {
		n, err := r.reconciler.Reconcile(ctx)
		if err != nil {
			return 0, DispatchResult{}, err
		}
		created = n
		r.lastReconcile = time.Now()
	}
	if r.dispatcher == nil {
		return created, DispatchResult{}, nil
	}
	res, err := r.dispatcher.DispatchPending(ctx)
	return created, res, err
}
