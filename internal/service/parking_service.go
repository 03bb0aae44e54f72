package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/metrics"
	"parking_reservation/internal/repository"
)

// AvailabilityCache holds the lot listing summary between spot changes. Get
// hands back a version that Set must echo; a Set whose version was
// superseded by an Invalidate in between is never served.
type AvailabilityCache interface {
	Get(ctx context.Context) ([]domain.LotAvailability, int64, bool)
	Set(ctx context.Context, version int64, lots []domain.LotAvailability)
	Invalidate(ctx context.Context)
}

type nopCache struct{}

func (nopCache) Get(context.Context) ([]domain.LotAvailability, int64, bool) { return nil, -1, false }
func (nopCache) Set(context.Context, int64, []domain.LotAvailability)        {}
func (nopCache) Invalidate(context.Context)                                  {}

type ParkingService struct {
	store  repository.Store
	cache  AvailabilityCache
	logger *slog.Logger
}

func NewParkingService(store repository.Store, cache AvailabilityCache, logger *slog.Logger) *ParkingService {
	if cache == nil {
		cache = nopCache{}
	}
	return &ParkingService{store: store, cache: cache, logger: logger}
}

func normalizeLotDTO(dto domain.ParkingLotDTO) (domain.ParkingLotDTO, error) {
	dto.Name = strings.TrimSpace(dto.Name)
	dto.Address = strings.TrimSpace(dto.Address)
	dto.PostalCode = strings.TrimSpace(dto.PostalCode)
	if dto.Name == "" || dto.Address == "" || dto.PostalCode == "" {
		return dto, fmt.Errorf("%w: name, address and postal code are required", domain.ErrInvalidInput)
	}
	if dto.HourlyRate <= 0 {
		return dto, fmt.Errorf("%w: hourly rate must be positive", domain.ErrInvalidInput)
	}
	if dto.Capacity < 1 {
		return dto, fmt.Errorf("%w: capacity must be at least 1", domain.ErrInvalidInput)
	}
	return dto, nil
}

// --- ParkingLot ---

// CreateParkingLot stores the lot together with Capacity available spots.
func (s *ParkingService) CreateParkingLot(ctx context.Context, dto domain.ParkingLotDTO) (*domain.ParkingLot, error) {
	dto, err := normalizeLotDTO(dto)
	if err != nil {
		return nil, err
	}

	var lot *domain.ParkingLot
	err = inTx(ctx, s.store, "create_lot", func(tx repository.Tx) error {
		var err error
		lot, err = tx.Lots().Create(ctx, &domain.ParkingLot{
			Name:       dto.Name,
			Address:    dto.Address,
			PostalCode: dto.PostalCode,
			HourlyRate: dto.HourlyRate,
			Capacity:   dto.Capacity,
		})
		if err != nil {
			return err
		}
		return addSpots(ctx, tx, lot.ID, dto.Capacity)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx)
	s.logger.Info("parking lot created", slog.Int("lot_id", lot.ID), slog.Int("capacity", lot.Capacity))
	return lot, nil
}

func addSpots(ctx context.Context, tx repository.Tx, lotID, n int) error {
	for i := 0; i < n; i++ {
		if _, err := tx.Spots().Create(ctx, &domain.ParkingSpot{LotID: lotID, Status: domain.SpotAvailable}); err != nil {
			return err
		}
	}
	return nil
}

func (s *ParkingService) GetParkingLotByID(ctx context.Context, id int) (*domain.ParkingLot, error) {
	lot, err := s.store.Lots().FindByID(ctx, id)
	return lot, storeErr("get_lot", err)
}

func (s *ParkingService) GetAllParkingLots(ctx context.Context) ([]domain.ParkingLot, error) {
	lots, err := s.store.Lots().FindAll(ctx)
	return lots, storeErr("list_lots", err)
}

// ListAvailability returns every lot with its spot counts, served from the
// cache when it is warm.
func (s *ParkingService) ListAvailability(ctx context.Context) ([]domain.LotAvailability, error) {
	cached, version, ok := s.cache.Get(ctx)
	if ok {
		metrics.ObserveCacheLookup("hit")
		return cached, nil
	}
	metrics.ObserveCacheLookup("miss")
	lots, err := s.store.Lots().Availability(ctx)
	if err != nil {
		return nil, storeErr("lot_availability", err)
	}
	if lots == nil {
		lots = []domain.LotAvailability{}
	}
	s.cache.Set(ctx, version, lots)
	return lots, nil
}

// UpdateParkingLot edits a lot. Capacity may only grow; new spots are
// appended as available.
func (s *ParkingService) UpdateParkingLot(ctx context.Context, id int, dto domain.ParkingLotDTO) (*domain.ParkingLot, error) {
	dto, err := normalizeLotDTO(dto)
	if err != nil {
		return nil, err
	}

	var updated *domain.ParkingLot
	err = inTx(ctx, s.store, "update_lot", func(tx repository.Tx) error {
		lot, err := tx.Lots().FindByID(ctx, id)
		if err != nil {
			return err
		}
		existing, err := tx.Spots().CountByLotID(ctx, id)
		if err != nil {
			return err
		}
		if dto.Capacity < lot.Capacity || dto.Capacity < existing {
			return fmt.Errorf("%w: lot %d has capacity %d, requested %d", domain.ErrCapacityShrink, id, lot.Capacity, dto.Capacity)
		}

		lot.Name = dto.Name
		lot.Address = dto.Address
		lot.PostalCode = dto.PostalCode
		lot.HourlyRate = dto.HourlyRate
		lot.Capacity = dto.Capacity
		if updated, err = tx.Lots().Update(ctx, lot); err != nil {
			return err
		}
		return addSpots(ctx, tx, id, dto.Capacity-existing)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx)
	return updated, nil
}

// DeleteParkingLot removes a lot with its spots and reservation history,
// refusing while any spot is occupied or any reservation is open.
func (s *ParkingService) DeleteParkingLot(ctx context.Context, id int) error {
	err := inTx(ctx, s.store, "delete_lot", func(tx repository.Tx) error {
		if _, err := tx.Lots().FindByID(ctx, id); err != nil {
			return err
		}
		spots, err := tx.Spots().FindByLotIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		for _, sp := range spots {
			if sp.Status == domain.SpotOccupied {
				return fmt.Errorf("%w: spot %d is occupied", domain.ErrLotOccupied, sp.ID)
			}
		}
		open, err := tx.Reservations().FindOpenByLotID(ctx, id)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: %d open reservation(s)", domain.ErrLotOccupied, len(open))
		}

		if err := tx.Reservations().DeleteByLotID(ctx, id); err != nil {
			return err
		}
		if err := tx.Spots().DeleteByLotID(ctx, id); err != nil {
			return err
		}
		return tx.Lots().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.logger.Info("parking lot deleted", slog.Int("lot_id", id))
	return nil
}

// --- ParkingSpot ---

func (s *ParkingService) GetSpotsByLotID(ctx context.Context, lotID int) ([]domain.ParkingSpot, error) {
	if _, err := s.store.Lots().FindByID(ctx, lotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, lotID)
		}
		return nil, storeErr("list_spots", err)
	}
	spots, err := s.store.Spots().FindByLotID(ctx, lotID)
	if err != nil {
		return nil, storeErr("list_spots", err)
	}
	if spots == nil {
		spots = []domain.ParkingSpot{}
	}
	return spots, nil
}

func (s *ParkingService) GetParkingSpotByID(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	spot, err := s.store.Spots().FindByID(ctx, id)
	return spot, storeErr("get_spot", err)
}
