package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
	"time"
)

type pgParkingLotRepository struct {
	db DBTX
}

func NewPgParkingLotRepository(db DBTX) repository.ParkingLotRepository {
	return &pgParkingLotRepository{db: db}
}

const lotColumns = `id, name, address, postal_code, hourly_rate, capacity, created_at, updated_at`

func (r *pgParkingLotRepository) Create(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	query := `INSERT INTO parking_lots (name, address, postal_code, hourly_rate, capacity, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, lot.Name, lot.Address, lot.PostalCode, lot.HourlyRate, lot.Capacity).
		Scan(&lot.ID, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: hourly rate and capacity must be positive", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("ParkingLotRepository.Create: %w", err)
	}
	lot.CreatedAt = lot.CreatedAt.In(time.UTC)
	lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
	return lot, nil
}

func (r *pgParkingLotRepository) FindByID(ctx context.Context, id int) (*domain.ParkingLot, error) {
	lot := &domain.ParkingLot{}
	query := `SELECT ` + lotColumns + ` FROM parking_lots WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&lot.ID, &lot.Name, &lot.Address, &lot.PostalCode,
		&lot.HourlyRate, &lot.Capacity, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingLotRepository.FindByID: %w", err)
	}
	lot.CreatedAt = lot.CreatedAt.In(time.UTC)
	lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
	return lot, nil
}

func (r *pgParkingLotRepository) FindAll(ctx context.Context) ([]domain.ParkingLot, error) {
	query := `SELECT ` + lotColumns + ` FROM parking_lots ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingLotRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var lots []domain.ParkingLot
	for rows.Next() {
		var lot domain.ParkingLot
		if err := rows.Scan(&lot.ID, &lot.Name, &lot.Address, &lot.PostalCode,
			&lot.HourlyRate, &lot.Capacity, &lot.CreatedAt, &lot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ParkingLotRepository.FindAll (scanning row): %w", err)
		}
		lot.CreatedAt = lot.CreatedAt.In(time.UTC)
		lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingLotRepository.FindAll (rows error): %w", err)
	}
	return lots, nil
}

func (r *pgParkingLotRepository) Update(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	query := `UPDATE parking_lots SET name = $1, address = $2, postal_code = $3, hourly_rate = $4, capacity = $5,
	           updated_at = CURRENT_TIMESTAMP WHERE id = $6 RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, lot.Name, lot.Address, lot.PostalCode, lot.HourlyRate, lot.Capacity, lot.ID).
		Scan(&lot.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: hourly rate and capacity must be positive", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("ParkingLotRepository.Update: %w", err)
	}
	lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
	return lot, nil
}

func (r *pgParkingLotRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM parking_lots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ParkingLotRepository.Delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingLotRepository.Delete (getting rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgParkingLotRepository) Availability(ctx context.Context) ([]domain.LotAvailability, error) {
	query := `SELECT l.id, l.name, l.address, l.postal_code, l.hourly_rate, l.capacity, l.created_at, l.updated_at,
	                 COUNT(s.id),
	                 COUNT(s.id) FILTER (WHERE s.status = 'available'),
	                 COUNT(s.id) FILTER (WHERE s.status = 'occupied')
	           FROM parking_lots l
	           LEFT JOIN parking_spots s ON s.lot_id = l.id
	           GROUP BY l.id
	           ORDER BY l.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingLotRepository.Availability: %w", err)
	}
	defer rows.Close()

	var out []domain.LotAvailability
	for rows.Next() {
		var a domain.LotAvailability
		if err := rows.Scan(&a.ID, &a.Name, &a.Address, &a.PostalCode, &a.HourlyRate, &a.Capacity,
			&a.CreatedAt, &a.UpdatedAt, &a.TotalSpots, &a.AvailableSpots, &a.OccupiedSpots); err != nil {
			return nil, fmt.Errorf("ParkingLotRepository.Availability (scanning row): %w", err)
		}
		a.CreatedAt = a.CreatedAt.In(time.UTC)
		a.UpdatedAt = a.UpdatedAt.In(time.UTC)
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingLotRepository.Availability (rows error): %w", err)
	}
	return out, nil
}
