package worker

import (
	"context"
	"log/slog"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"
)

// Sweeper is satisfied by *service.Auditor.
type Sweeper interface {
	ReconcileAll(ctx context.Context) ([]domain.SpotCorrection, error)
}

// Reconciler periodically realigns every lot's spot status with its open
// reservations.
type Reconciler struct {
	auditor  Sweeper
	logger   *slog.Logger
	interval time.Duration
}

func NewReconciler(auditor Sweeper, logger *slog.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{
		auditor:  auditor,
		logger:   logger.With(slog.String("component", "reconciler")),
		interval: interval,
	}
}

// Start blocks until ctx is cancelled. A non-positive interval disables the
// worker and Start returns immediately.
func (w *Reconciler) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("reconcile worker disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("reconcile worker started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep over every lot.
func (w *Reconciler) RunOnce(ctx context.Context) int {
	fixed, err := w.auditor.ReconcileAll(service.WithTrigger(ctx, "schedule"))
	if err != nil {
		w.logger.Error("reconcile sweep failed", slog.String("error", err.Error()))
	}
	if len(fixed) > 0 {
		w.logger.Warn("reconcile sweep corrected spots", slog.Int("corrections", len(fixed)))
	}
	return len(fixed)
}
