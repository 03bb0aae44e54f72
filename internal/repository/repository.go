package repository

import (
	"context"
	"parking_reservation/internal/domain"
)

var ErrNotFound = domain.ErrNotFound
var ErrDuplicateEntry = domain.ErrDuplicate

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) (*domain.User, error)
	Delete(ctx context.Context, id int) error
	// Search matches name or email case-insensitively; empty query lists everyone.
	Search(ctx context.Context, query string) ([]domain.User, error)
}

type ParkingLotRepository interface {
	Create(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error)
	FindByID(ctx context.Context, id int) (*domain.ParkingLot, error)
	FindAll(ctx context.Context) ([]domain.ParkingLot, error)
	Update(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error)
	Delete(ctx context.Context, id int) error
	Availability(ctx context.Context) ([]domain.LotAvailability, error)
}

type ParkingSpotRepository interface {
	Create(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error)
	FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id int) (*domain.ParkingSpot, error)
	// FindByLotID returns spots ordered by ascending id.
	FindByLotID(ctx context.Context, lotID int) ([]domain.ParkingSpot, error)
	FindByLotIDForUpdate(ctx context.Context, lotID int) ([]domain.ParkingSpot, error)
	// FindFirstAvailableByLotID locks and returns the lowest-id available spot,
	// skipping rows another transaction already holds.
	FindFirstAvailableByLotID(ctx context.Context, lotID int) (*domain.ParkingSpot, error)
	CountByLotID(ctx context.Context, lotID int) (int, error)
	UpdateStatus(ctx context.Context, id int, status domain.SpotStatus) error
	DeleteByLotID(ctx context.Context, lotID int) error
}

type ReservationRepository interface {
	Create(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error)
	FindByID(ctx context.Context, id int) (*domain.Reservation, error)
	FindByIDForUpdate(ctx context.Context, id int) (*domain.Reservation, error)
	FindOpenByUserID(ctx context.Context, userID int) (*domain.Reservation, error)
	FindOpenBySpotID(ctx context.Context, spotID int) (*domain.Reservation, error)
	FindOpenByLotID(ctx context.Context, lotID int) ([]domain.Reservation, error)
	// Close persists exit time, cost, payment fields and the force-released
	// flag in one statement.
	Close(ctx context.Context, r *domain.Reservation) error
	Find(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error)
	DeleteByLotID(ctx context.Context, lotID int) error
	DeleteByUserID(ctx context.Context, userID int) error
}

// Tx is the set of repositories bound to one unit of work.
type Tx interface {
	Users() UserRepository
	Lots() ParkingLotRepository
	Spots() ParkingSpotRepository
	Reservations() ReservationRepository
}

// Store gives autocommit access through the embedded Tx and atomic access
// through WithTx. fn's writes commit together when it returns nil and are
// discarded otherwise.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
