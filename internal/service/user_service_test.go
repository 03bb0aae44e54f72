package service

import (
	"context"
	"errors"
	"testing"

	"parking_reservation/internal/domain"
)

func TestUpdateProfileUnlocksBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "u@example.com", false)
	lot := env.lot(t, 10, 1)

	if _, err := env.reservations.Book(ctx, domain.BookRequest{UserID: u.ID, LotID: lot.ID, VehicleNumber: "X"}); !errors.Is(err, domain.ErrProfileIncomplete) {
		t.Fatalf("expected ErrProfileIncomplete, got %v", err)
	}

	updated, err := env.users.UpdateProfile(ctx, u.ID, domain.UpdateProfileDTO{Name: " New Name ", Address: "9 Road", PostalCode: "560009"})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name != "New Name" || !updated.ProfileComplete() {
		t.Fatalf("unexpected profile %+v", updated)
	}
	if _, err := env.reservations.Book(ctx, domain.BookRequest{UserID: u.ID, LotID: lot.ID, VehicleNumber: "X"}); err != nil {
		t.Fatalf("Book after completing profile: %v", err)
	}

	if _, err := env.users.UpdateProfile(ctx, u.ID, domain.UpdateProfileDTO{Name: "  "}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "u@example.com", true)
	lot := env.lot(t, 10, 1)

	res, _ := env.reservations.Book(ctx, domain.BookRequest{UserID: u.ID, LotID: lot.ID, VehicleNumber: "X"})
	if err := env.users.DeleteUser(ctx, u.ID); !errors.Is(err, domain.ErrUserHasActiveReservation) {
		t.Fatalf("expected ErrUserHasActiveReservation, got %v", err)
	}

	if _, err := env.reservations.Vacate(ctx, domain.VacateRequest{ReservationID: res.ID, ActorID: u.ID}); err != nil {
		t.Fatal(err)
	}
	if err := env.users.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := env.users.GetProfile(ctx, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if err := env.users.DeleteUser(ctx, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertConsistent(t, env.store, lot.ID)
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice@example.com", true)
	env.user(t, "bob@example.com", true)

	all, err := env.users.SearchUsers(context.Background(), "")
	if err != nil || len(all) != 2 {
		t.Fatalf("list all = %d %v", len(all), err)
	}
	some, err := env.users.SearchUsers(context.Background(), "ALICE")
	if err != nil || len(some) != 1 || some[0].Email != "alice@example.com" {
		t.Fatalf("search = %+v %v", some, err)
	}
	none, err := env.users.SearchUsers(context.Background(), "zed")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v %v", none, err)
	}
}
