package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parking_reservation/internal/metrics"
	"parking_reservation/internal/repository"
	"parking_reservation/internal/retry"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every repository works
// in autocommit mode and inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repos struct {
	users        repository.UserRepository
	lots         repository.ParkingLotRepository
	spots        repository.ParkingSpotRepository
	reservations repository.ReservationRepository
}

func newRepos(db DBTX) *repos {
	return &repos{
		users:        NewPgUserRepository(db),
		lots:         NewPgParkingLotRepository(db),
		spots:        NewPgParkingSpotRepository(db),
		reservations: NewPgReservationRepository(db),
	}
}

func (r *repos) Users() repository.UserRepository               { return r.users }
func (r *repos) Lots() repository.ParkingLotRepository          { return r.lots }
func (r *repos) Spots() repository.ParkingSpotRepository        { return r.spots }
func (r *repos) Reservations() repository.ReservationRepository { return r.reservations }

type Store struct {
	*repos
	db     *sql.DB
	retry  retry.Config
	logger *slog.Logger
}

func NewStore(db *sql.DB, maxAttempts int, logger *slog.Logger) *Store {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.Retryable = func(err error) bool {
		_, ok := retryableCode(err)
		return ok
	}
	cfg.OnRetry = func(_ int, err error) {
		code, _ := retryableCode(err)
		metrics.ObserveTxRetry(code)
	}
	return &Store{repos: newRepos(db), db: db, retry: *cfg, logger: logger}
}

// WithTx runs fn inside one transaction. Serialization failures
// and deadlocks replay fn from scratch; any other error rolls back and is
// returned as is.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	cfg := s.retry
	_, err := retry.Do(ctx, &cfg, s.logger, "postgres.tx", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.runTx(ctx, fn)
	})
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	// Server default isolation (READ COMMITTED); row locks do the rest.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Store.WithTx (begin): %w", err)
	}
	if err := fn(newRepos(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Store.WithTx (commit): %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
