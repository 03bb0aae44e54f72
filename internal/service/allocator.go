package service

import (
	"context"
	"errors"
	"fmt"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"

	"gopkg.in/guregu/null.v4"
)

// Allocator picks the spot a booking will occupy. It only reads, through
// the caller's transaction, and leaves the returned row locked so the
// caller's status flip cannot race another booking.
type Allocator struct{}

func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) Allocate(ctx context.Context, tx repository.Tx, lotID int, spotID null.Int) (*domain.ParkingSpot, error) {
	if spotID.Valid {
		spot, err := tx.Spots().FindByIDForUpdate(ctx, int(spotID.Int64))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: spot %d does not exist", domain.ErrSpotUnavailable, spotID.Int64)
			}
			return nil, err
		}
		if spot.LotID != lotID {
			return nil, fmt.Errorf("%w: spot %d is not in lot %d", domain.ErrSpotUnavailable, spot.ID, lotID)
		}
		if spot.Status != domain.SpotAvailable {
			return nil, fmt.Errorf("%w: spot %d is %s", domain.ErrSpotUnavailable, spot.ID, spot.Status)
		}
		return spot, nil
	}

	spot, err := tx.Spots().FindFirstAvailableByLotID(ctx, lotID)
	if err == nil {
		return spot, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// A reconcile or lot delete holds every row of the lot while it runs, so
	// the skip-locked scan can come back empty for a lot that has room. Wait
	// for those locks and look again before calling the lot full.
	spots, err := tx.Spots().FindByLotIDForUpdate(ctx, lotID)
	if err != nil {
		return nil, err
	}
	for i := range spots {
		if spots[i].Status == domain.SpotAvailable {
			return &spots[i], nil
		}
	}
	return nil, fmt.Errorf("%w: lot %d", domain.ErrLotFull, lotID)
}
