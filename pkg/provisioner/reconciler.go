package provisioner

import (
	"context"
	"time"
)

// Reconciler drives QueryNodes on a fixed interval until its context is
// canceled. It is a ticker-plus-select loop: run once immediately, then on
// every tick, logging failures without stopping.
type Reconciler struct {
	core     *Core
	interval time.Duration
}

// NewReconciler returns a Reconciler that calls core.QueryNodes every
// interval.
func NewReconciler(core *Core, interval time.Duration) *Reconciler {
	return &Reconciler{core: core, interval: interval}
}

// Run blocks, polling until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.core.QueryNodes(ctx); err != nil {
		r.core.logger.Error("query_nodes failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.core.QueryNodes(ctx); err != nil {
				r.core.logger.Error("query_nodes failed", "error", err)
			}
		}
	}
}
