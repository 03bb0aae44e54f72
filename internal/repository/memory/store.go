// Package memory is an in-process implementation of repository.Store.
//
// Committed state is immutable: a transaction works on a private clone and
// swaps it in on commit, so readers never observe partial writes. Writers
// (WithTx and autocommit writes) are serialized. Code running inside WithTx
// must use the Tx it was handed; calling the Store's own write methods from
// there blocks forever.
package memory

import (
	"context"
	"sync"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type state struct {
	users        map[int]domain.User
	lots         map[int]domain.ParkingLot
	spots        map[int]domain.ParkingSpot
	reservations map[int]domain.Reservation

	nextUserID        int
	nextLotID         int
	nextSpotID        int
	nextReservationID int
}

func newState() *state {
	return &state{
		users:        map[int]domain.User{},
		lots:         map[int]domain.ParkingLot{},
		spots:        map[int]domain.ParkingSpot{},
		reservations: map[int]domain.Reservation{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:             make(map[int]domain.User, len(s.users)),
		lots:              make(map[int]domain.ParkingLot, len(s.lots)),
		spots:             make(map[int]domain.ParkingSpot, len(s.spots)),
		reservations:      make(map[int]domain.Reservation, len(s.reservations)),
		nextUserID:        s.nextUserID,
		nextLotID:         s.nextLotID,
		nextSpotID:        s.nextSpotID,
		nextReservationID: s.nextReservationID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.spots {
		c.spots[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	return c
}

// executor runs a repository call against some state. Inside a transaction
// both modes hit the transaction's clone.
type executor interface {
	read(fn func(st *state) error) error
	write(ctx context.Context, fn func(st *state) error) error
}

type Store struct {
	repoSet
	sem chan struct{}
	mu  sync.RWMutex
	cur *state
	now func() time.Time
}

func NewStore() *Store {
	s := &Store{
		sem: make(chan struct{}, 1),
		cur: newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
	s.repoSet = newRepoSet(s, s.stamp)
	return s
}

func (s *Store) stamp() time.Time { return s.now() }

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.sem }

func (s *Store) read(fn func(st *state) error) error {
	return fn(s.snapshot())
}

// write is an autocommit single-call transaction.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithTx(ctx, func(tx repository.Tx) error {
		return fn(tx.(*txView).st)
	})
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	view := &txView{st: s.snapshot().clone()}
	view.repoSet = newRepoSet(view, s.stamp)
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = view.st
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// txView is the Tx handed to WithTx callbacks.
type txView struct {
	repoSet
	st *state
}

func (v *txView) read(fn func(st *state) error) error { return fn(v.st) }

func (v *txView) write(_ context.Context, fn func(st *state) error) error { return fn(v.st) }

type repoSet struct {
	users        *userRepo
	lots         *lotRepo
	spots        *spotRepo
	reservations *reservationRepo
}

func newRepoSet(ex executor, now func() time.Time) repoSet {
	return repoSet{
		users:        &userRepo{ex: ex, now: now},
		lots:         &lotRepo{ex: ex, now: now},
		spots:        &spotRepo{ex: ex, now: now},
		reservations: &reservationRepo{ex: ex, now: now},
	}
}

func (r repoSet) Users() repository.UserRepository               { return r.users }
func (r repoSet) Lots() repository.ParkingLotRepository          { return r.lots }
func (r repoSet) Spots() repository.ParkingSpotRepository        { return r.spots }
func (r repoSet) Reservations() repository.ReservationRepository { return r.reservations }
