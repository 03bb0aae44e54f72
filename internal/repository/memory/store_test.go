package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

func seed(t *testing.T, s *Store) (domain.User, domain.ParkingLot, []domain.ParkingSpot) {
	t.Helper()
	ctx := context.Background()
	u, err := s.Users().Create(ctx, &domain.User{Name: "Asha", Email: "asha@example.com", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	lot, err := s.Lots().Create(ctx, &domain.ParkingLot{Name: "Central", HourlyRate: 20, Capacity: 2})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	var spots []domain.ParkingSpot
	for i := 0; i < 2; i++ {
		sp, err := s.Spots().Create(ctx, &domain.ParkingSpot{LotID: lot.ID})
		if err != nil {
			t.Fatalf("create spot: %v", err)
		}
		spots = append(spots, *sp)
	}
	return *u, *lot, spots
}

func TestWithTxDiscardsOnError(t *testing.T) {
	s := NewStore()
	_, _, spots := seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Spots().UpdateStatus(ctx, spots[0].ID, domain.SpotOccupied); err != nil {
			return err
		}
		// visible inside the transaction
		sp, _ := tx.Spots().FindByID(ctx, spots[0].ID)
		if sp.Status != domain.SpotOccupied {
			t.Fatalf("write not visible inside tx")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	sp, _ := s.Spots().FindByID(ctx, spots[0].ID)
	if sp.Status != domain.SpotAvailable {
		t.Fatalf("rolled back write leaked: %s", sp.Status)
	}
}

func TestWithTxIsolatesUncommittedWrites(t *testing.T) {
	s := NewStore()
	_, _, spots := seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Spots().UpdateStatus(ctx, spots[1].ID, domain.SpotOccupied); err != nil {
			return err
		}
		outside, _ := s.Spots().FindByID(ctx, spots[1].ID)
		if outside.Status != domain.SpotAvailable {
			t.Fatalf("uncommitted write visible outside tx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	sp, _ := s.Spots().FindByID(ctx, spots[1].ID)
	if sp.Status != domain.SpotOccupied {
		t.Fatalf("commit lost, status %s", sp.Status)
	}
}

func TestOpenReservationUniqueness(t *testing.T) {
	s := NewStore()
	u, lot, spots := seed(t, s)
	ctx := context.Background()
	other, _ := s.Users().Create(ctx, &domain.User{Name: "Ravi", Email: "ravi@example.com", Role: domain.RoleUser})

	if _, err := s.Reservations().Create(ctx, &domain.Reservation{UserID: u.ID, SpotID: spots[0].ID, LotID: lot.ID, EntryTime: time.Now()}); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	_, err := s.Reservations().Create(ctx, &domain.Reservation{UserID: other.ID, SpotID: spots[0].ID, LotID: lot.ID, EntryTime: time.Now()})
	if !errors.Is(err, domain.ErrSpotUnavailable) {
		t.Fatalf("expected ErrSpotUnavailable, got %v", err)
	}
	_, err = s.Reservations().Create(ctx, &domain.Reservation{UserID: u.ID, SpotID: spots[1].ID, LotID: lot.ID, EntryTime: time.Now()})
	if !errors.Is(err, domain.ErrAlreadyBooked) {
		t.Fatalf("expected ErrAlreadyBooked, got %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	s := NewStore()
	u, lot, spots := seed(t, s)
	ctx := context.Background()
	res, err := s.Reservations().Create(ctx, &domain.Reservation{UserID: u.ID, SpotID: spots[0].ID, LotID: lot.ID, EntryTime: time.Now()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res.ExitTime.SetValid(time.Now())
	res.Cost.SetValid(10)
	if err := s.Reservations().Close(ctx, res); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Reservations().Close(ctx, res); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestLotDeleteCascades(t *testing.T) {
	s := NewStore()
	u, lot, spots := seed(t, s)
	ctx := context.Background()
	if _, err := s.Reservations().Create(ctx, &domain.Reservation{UserID: u.ID, SpotID: spots[0].ID, LotID: lot.ID, EntryTime: time.Now()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Lots().Delete(ctx, lot.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.Spots().CountByLotID(ctx, lot.ID); n != 0 {
		t.Fatalf("spots survived: %d", n)
	}
	if all, _ := s.Reservations().Find(ctx, domain.ReservationFilter{}); len(all) != 0 {
		t.Fatalf("reservations survived: %d", len(all))
	}
}

func TestDuplicateEmail(t *testing.T) {
	s := NewStore()
	seed(t, s)
	_, err := s.Users().Create(context.Background(), &domain.User{Name: "Dup", Email: "ASHA@example.com"})
	if !errors.Is(err, repository.ErrDuplicateEntry) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestFindOrdersNewestFirstAndFilters(t *testing.T) {
	s := NewStore()
	u, lot, spots := seed(t, s)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first, _ := s.Reservations().Create(ctx, &domain.Reservation{UserID: u.ID, SpotID: spots[0].ID, LotID: lot.ID, EntryTime: base})
	first.ExitTime.SetValid(base.Add(time.Hour))
	if err := s.Reservations().Close(ctx, first); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, _ := s.Reservations().Create(ctx, &domain.Reservation{UserID: u.ID, SpotID: spots[1].ID, LotID: lot.ID, EntryTime: base.Add(48 * time.Hour)})

	all, _ := s.Reservations().Find(ctx, domain.ReservationFilter{UserID: &u.ID})
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}

	day := base.Truncate(24 * time.Hour)
	sameDay, _ := s.Reservations().Find(ctx, domain.ReservationFilter{From: &day, To: &day})
	if len(sameDay) != 1 || sameDay[0].ID != first.ID {
		t.Fatalf("date filter: %+v", sameDay)
	}

	open := true
	openOnly, _ := s.Reservations().Find(ctx, domain.ReservationFilter{Open: &open})
	if len(openOnly) != 1 || openOnly[0].ID != second.ID {
		t.Fatalf("open filter: %+v", openOnly)
	}
}

func TestWithTxRespectsCancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithTx(ctx, func(repository.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
