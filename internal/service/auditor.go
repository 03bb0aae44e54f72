package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/metrics"
	"parking_reservation/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type triggerKey struct{}

// WithTrigger labels reconciliations started under ctx (api, sqs, schedule)
// for logs and metrics.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "api"
}

// Auditor realigns spot status with the reservation ledger. The ledger is
// the source of truth; reservations are never touched.
type Auditor struct {
	store    repository.Store
	clock    Clock
	notifier Notifier
	logger   *slog.Logger
}

func NewAuditor(store repository.Store, clock Clock, notifier Notifier, logger *slog.Logger) *Auditor {
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &Auditor{store: store, clock: clock, notifier: notifier, logger: logger}
}

// Reconcile rewrites every spot of lotID whose status disagrees with the
// presence of an open reservation and returns what it changed. A second run
// with no bookings in between returns nothing.
func (a *Auditor) Reconcile(ctx context.Context, lotID int) ([]domain.SpotCorrection, error) {
	trigger := triggerFrom(ctx)
	ctx, span := tracer.Start(ctx, "Auditor.Reconcile", trace.WithAttributes(
		attribute.Int("lot.id", lotID),
		attribute.String("trigger", trigger),
	))
	defer span.End()

	var corrections []domain.SpotCorrection
	err := inTx(ctx, a.store, "reconcile", func(tx repository.Tx) error {
		corrections = nil
		if _, err := tx.Lots().FindByID(ctx, lotID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, lotID)
			}
			return err
		}
		spots, err := tx.Spots().FindByLotIDForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		open, err := tx.Reservations().FindOpenByLotID(ctx, lotID)
		if err != nil {
			return err
		}

		held := make(map[int]bool, len(open))
		for _, r := range open {
			held[r.SpotID] = true
		}
		for _, sp := range spots {
			want := domain.SpotAvailable
			if held[sp.ID] {
				want = domain.SpotOccupied
			}
			if sp.Status == want {
				continue
			}
			if err := tx.Spots().UpdateStatus(ctx, sp.ID, want); err != nil {
				return err
			}
			corrections = append(corrections, domain.SpotCorrection{SpotID: sp.ID, LotID: lotID, From: sp.Status, To: want})
		}
		return nil
	})
	metrics.ObserveReconcile(trigger, resultLabel(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("corrections", len(corrections)))
	now := a.clock.Now().UTC()
	for _, c := range corrections {
		metrics.ObserveCorrection(string(c.To))
		a.logger.Warn("spot status corrected",
			slog.Int("lot_id", c.LotID),
			slog.Int("spot_id", c.SpotID),
			slog.String("from", string(c.From)),
			slog.String("to", string(c.To)),
			slog.String("trigger", trigger),
		)
		a.notifier.SpotStatusChanged(ctx, domain.SpotStatusNotification{
			LotID:     c.LotID,
			SpotID:    c.SpotID,
			Status:    c.To,
			Source:    domain.SourceReconcile,
			ChangedAt: now,
		})
	}
	return corrections, nil
}

// ReconcileAll reconciles every lot. A failing lot does not stop the sweep;
// its error is joined into the returned one.
func (a *Auditor) ReconcileAll(ctx context.Context) ([]domain.SpotCorrection, error) {
	runID := uuid.NewString()
	logger := a.logger.With(slog.String("run_id", runID), slog.String("trigger", triggerFrom(ctx)))

	lots, err := a.store.Lots().FindAll(ctx)
	if err != nil {
		return nil, storeErr("reconcile_all", err)
	}

	var (
		all  []domain.SpotCorrection
		errs []error
	)
	for _, lot := range lots {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		fixed, err := a.Reconcile(ctx, lot.ID)
		if err != nil {
			// the lot may have been deleted since FindAll
			if errors.Is(err, domain.ErrInvalidLot) {
				continue
			}
			logger.Error("reconcile failed", slog.Int("lot_id", lot.ID), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		all = append(all, fixed...)
	}
	logger.Info("reconcile sweep finished", slog.Int("lots", len(lots)), slog.Int("corrections", len(all)))
	return all, errors.Join(errs...)
}
