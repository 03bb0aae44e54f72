package service

import (
	"context"
	"errors"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("parking_reservation/internal/service")

// Notifier is told about every spot status change after it commits.
// Implementations must return quickly; slow sinks queue or go async.
type Notifier interface {
	SpotStatusChanged(ctx context.Context, n domain.SpotStatusNotification)
}

// Notifiers fans one notification out to every sink in order.
type Notifiers []Notifier

func (ns Notifiers) SpotStatusChanged(ctx context.Context, n domain.SpotStatusNotification) {
	for _, sink := range ns {
		if sink != nil {
			sink.SpotStatusChanged(ctx, n)
		}
	}
}

// EventPublisher ships reservation lifecycle events to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.ReservationEvent) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.ReservationEvent) error { return nil }

// inTx runs fn in one store transaction. Business errors come back as they
// are; anything else has already been rolled back and is wrapped as a
// *domain.StoreError naming op.
func inTx(ctx context.Context, store repository.Store, op string, fn func(tx repository.Tx) error) error {
	err := store.WithTx(ctx, fn)
	return storeErr(op, err)
}

func storeErr(op string, err error) error {
	if err == nil || domain.IsDomainError(err) {
		return err
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StoreError{Op: op, Err: err}
}

// resultLabel turns an operation outcome into a metrics label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.ErrorCode(err)
}
