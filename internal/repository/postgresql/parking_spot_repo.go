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

type pgParkingSpotRepository struct {
	db DBTX
}

func NewPgParkingSpotRepository(db DBTX) repository.ParkingSpotRepository {
	return &pgParkingSpotRepository{db: db}
}

const spotColumns = `id, lot_id, status, created_at, updated_at`

func scanSpot(row interface{ Scan(...any) error }, spot *domain.ParkingSpot) error {
	if err := row.Scan(&spot.ID, &spot.LotID, &spot.Status, &spot.CreatedAt, &spot.UpdatedAt); err != nil {
		return err
	}
	spot.CreatedAt = spot.CreatedAt.In(time.UTC)
	spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
	return nil
}

func (r *pgParkingSpotRepository) Create(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error) {
	if spot.Status == "" {
		spot.Status = domain.SpotAvailable
	}
	query := `INSERT INTO parking_spots (lot_id, status, created_at, updated_at)
	           VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, spot.LotID, spot.Status).Scan(&spot.ID, &spot.CreatedAt, &spot.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, spot.LotID)
		}
		return nil, fmt.Errorf("ParkingSpotRepository.Create: %w", err)
	}
	spot.CreatedAt = spot.CreatedAt.In(time.UTC)
	spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
	return spot, nil
}

func (r *pgParkingSpotRepository) findOne(ctx context.Context, op, query string, args ...any) (*domain.ParkingSpot, error) {
	spot := &domain.ParkingSpot{}
	if err := scanSpot(r.db.QueryRowContext(ctx, query, args...), spot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSpotRepository.%s: %w", op, err)
	}
	return spot, nil
}

func (r *pgParkingSpotRepository) findMany(ctx context.Context, op, query string, args ...any) ([]domain.ParkingSpot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var spots []domain.ParkingSpot
	for rows.Next() {
		var spot domain.ParkingSpot
		if err := scanSpot(rows, &spot); err != nil {
			return nil, fmt.Errorf("ParkingSpotRepository.%s (scanning row): %w", op, err)
		}
		spots = append(spots, spot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.%s (rows error): %w", op, err)
	}
	return spots, nil
}

func (r *pgParkingSpotRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	return r.findOne(ctx, "FindByID", `SELECT `+spotColumns+` FROM parking_spots WHERE id = $1`, id)
}

func (r *pgParkingSpotRepository) FindByIDForUpdate(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	return r.findOne(ctx, "FindByIDForUpdate", `SELECT `+spotColumns+` FROM parking_spots WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgParkingSpotRepository) FindByLotID(ctx context.Context, lotID int) ([]domain.ParkingSpot, error) {
	return r.findMany(ctx, "FindByLotID", `SELECT `+spotColumns+` FROM parking_spots WHERE lot_id = $1 ORDER BY id`, lotID)
}

func (r *pgParkingSpotRepository) FindByLotIDForUpdate(ctx context.Context, lotID int) ([]domain.ParkingSpot, error) {
	return r.findMany(ctx, "FindByLotIDForUpdate",
		`SELECT `+spotColumns+` FROM parking_spots WHERE lot_id = $1 ORDER BY id FOR UPDATE`, lotID)
}

func (r *pgParkingSpotRepository) FindFirstAvailableByLotID(ctx context.Context, lotID int) (*domain.ParkingSpot, error) {
	query := `SELECT ` + spotColumns + ` FROM parking_spots
	           WHERE lot_id = $1 AND status = 'available'
	           ORDER BY id
	           LIMIT 1
	           FOR UPDATE SKIP LOCKED`
	return r.findOne(ctx, "FindFirstAvailableByLotID", query, lotID)
}

func (r *pgParkingSpotRepository) CountByLotID(ctx context.Context, lotID int) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parking_spots WHERE lot_id = $1`, lotID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ParkingSpotRepository.CountByLotID: %w", err)
	}
	return n, nil
}

func (r *pgParkingSpotRepository) UpdateStatus(ctx context.Context, id int, status domain.SpotStatus) error {
	query := `UPDATE parking_spots SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus (getting rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgParkingSpotRepository) DeleteByLotID(ctx context.Context, lotID int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM parking_spots WHERE lot_id = $1`, lotID); err != nil {
		return fmt.Errorf("ParkingSpotRepository.DeleteByLotID: %w", err)
	}
	return nil
}
