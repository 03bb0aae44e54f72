package service

import (
	"context"
	"errors"
	"testing"

	"parking_reservation/internal/domain"
)

func TestReconcileRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "u@example.com", true)
	lot := env.lot(t, 10, 3)
	spots := env.spots(t, lot.ID)

	res, err := env.reservations.Book(ctx, domain.BookRequest{UserID: u.ID, LotID: lot.ID, VehicleNumber: "X"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	// held spot flipped to available, an unheld one flipped to occupied
	if err := env.store.Spots().UpdateStatus(ctx, res.SpotID, domain.SpotAvailable); err != nil {
		t.Fatal(err)
	}
	if err := env.store.Spots().UpdateStatus(ctx, spots[2].ID, domain.SpotOccupied); err != nil {
		t.Fatal(err)
	}

	fixed, err := env.auditor.Reconcile(ctx, lot.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(fixed) != 2 {
		t.Fatalf("expected 2 corrections, got %+v", fixed)
	}
	want := map[int]domain.SpotStatus{res.SpotID: domain.SpotOccupied, spots[2].ID: domain.SpotAvailable}
	for _, c := range fixed {
		if want[c.SpotID] != c.To || c.From == c.To || c.LotID != lot.ID {
			t.Fatalf("unexpected correction %+v", c)
		}
	}
	assertConsistent(t, env.store, lot.ID)

	stored, _ := env.store.Reservations().FindByID(ctx, res.ID)
	if !stored.IsOpen() {
		t.Fatal("reconcile must not touch reservations")
	}

	again, err := env.auditor.Reconcile(ctx, lot.ID)
	if err != nil || len(again) != 0 {
		t.Fatalf("second run should be a no-op, got %+v %v", again, err)
	}
}

func TestReconcileCleanLotIsNoop(t *testing.T) {
	env := newTestEnv(t)
	lot := env.lot(t, 10, 2)
	before := len(env.notifier.all())

	fixed, err := env.auditor.Reconcile(context.Background(), lot.ID)
	if err != nil || len(fixed) != 0 {
		t.Fatalf("expected no corrections, got %+v %v", fixed, err)
	}
	if len(env.notifier.all()) != before {
		t.Fatal("a no-op reconcile must not notify")
	}
}

func TestReconcileUnknownLot(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.auditor.Reconcile(context.Background(), 404); !errors.Is(err, domain.ErrInvalidLot) {
		t.Fatalf("expected ErrInvalidLot, got %v", err)
	}
}

func TestReconcileAllSweepsEveryLot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.lot(t, 10, 1)
	b := env.lot(t, 10, 1)
	for _, l := range []*domain.ParkingLot{a, b} {
		if err := env.store.Spots().UpdateStatus(ctx, env.spots(t, l.ID)[0].ID, domain.SpotOccupied); err != nil {
			t.Fatal(err)
		}
	}

	fixed, err := env.auditor.ReconcileAll(WithTrigger(ctx, "schedule"))
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(fixed) != 2 {
		t.Fatalf("expected one correction per lot, got %+v", fixed)
	}
	for _, n := range env.notifier.all() {
		if n.Source != domain.SourceReconcile || n.Status != domain.SpotAvailable {
			t.Fatalf("unexpected notification %+v", n)
		}
	}
}

func TestTriggerDefaultsToAPI(t *testing.T) {
	if got := triggerFrom(context.Background()); got != "api" {
		t.Fatalf("triggerFrom = %q", got)
	}
	if got := triggerFrom(WithTrigger(context.Background(), "sqs")); got != "sqs" {
		t.Fatalf("triggerFrom = %q", got)
	}
}
