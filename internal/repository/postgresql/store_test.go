package postgresql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T, attempts int) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewStore(db, attempts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	store.retry.InitialBackoff = time.Millisecond
	return store, mock
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t, 3)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO reservations")).
		WithArgs(7, 3, 1, "KA01AB1234", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots SET status")).
		WithArgs("occupied", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var created *domain.Reservation
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		created, err = tx.Reservations().Create(context.Background(), &domain.Reservation{
			UserID: 7, SpotID: 3, LotID: 1, VehicleNumber: "KA01AB1234", EntryTime: now,
		})
		if err != nil {
			return err
		}
		return tx.Spots().UpdateStatus(context.Background(), 3, domain.SpotOccupied)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if created.ID != 11 {
		t.Fatalf("expected id 11, got %d", created.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTxRollsBackOnDomainError(t *testing.T) {
	store, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "reservations_open_spot_uidx"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Reservations().Create(context.Background(), &domain.Reservation{UserID: 1, SpotID: 2, LotID: 1, VehicleNumber: "X"})
		return err
	})
	if !errors.Is(err, domain.ErrSpotUnavailable) {
		t.Fatalf("expected ErrSpotUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	store, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots SET status")).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		calls++
		return tx.Spots().UpdateStatus(context.Background(), 5, domain.SpotAvailable)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected fn to run twice, ran %d times", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	store, mock := newMockStore(t, 2)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE parking_spots SET status")).
			WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.Spots().UpdateStatus(context.Background(), 5, domain.SpotAvailable)
	})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "40P01" {
		t.Fatalf("expected wrapped deadlock error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateReservationMapsOpenUserIndex(t *testing.T) {
	store, mock := newMockStore(t, 1)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "reservations_open_user_uidx"})

	_, err := store.Reservations().Create(context.Background(), &domain.Reservation{UserID: 1, SpotID: 2, LotID: 1, VehicleNumber: "X"})
	if !errors.Is(err, domain.ErrAlreadyBooked) {
		t.Fatalf("expected ErrAlreadyBooked, got %v", err)
	}
}

func TestFindSpotNotFound(t *testing.T) {
	store, mock := newMockStore(t, 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM parking_spots WHERE id = $1 FOR UPDATE")).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "status", "created_at", "updated_at"}))

	_, err := store.Spots().FindByIDForUpdate(context.Background(), 99)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFirstAvailableSkipsLockedRows(t *testing.T) {
	store, mock := newMockStore(t, 1)
	now := time.Now()
	mock.ExpectQuery(`status = 'available'\s+ORDER BY id\s+LIMIT 1\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lot_id", "status", "created_at", "updated_at"}).
			AddRow(12, 4, "available", now, now))

	spot, err := store.Spots().FindFirstAvailableByLotID(context.Background(), 4)
	if err != nil {
		t.Fatalf("FindFirstAvailableByLotID: %v", err)
	}
	if spot.ID != 12 || spot.Status != domain.SpotAvailable {
		t.Fatalf("unexpected spot %+v", spot)
	}
}

func TestCloseOnClosedReservation(t *testing.T) {
	store, mock := newMockStore(t, 1)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reservations")).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	err := store.Reservations().Close(context.Background(), &domain.Reservation{ID: 3})
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestFindBuildsFilter(t *testing.T) {
	store, mock := newMockStore(t, 1)
	lot, open := 2, true
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE lot_id = $1 AND entry_time < $2 AND exit_time IS NULL ORDER BY entry_time DESC")).
		WithArgs(2, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := store.Reservations().Find(context.Background(), domain.ReservationFilter{LotID: &lot, To: &day, Open: &open})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no rows, got %d", len(out))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"pgx serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pq deadlock", &pq.Error{Code: "40P01"}, true},
		{"pq unique", &pq.Error{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := retryableCode(tc.err); ok != tc.retryable {
				t.Fatalf("retryable=%v, want %v", ok, tc.retryable)
			}
		})
	}
}
