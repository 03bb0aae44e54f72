package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
	"strings"
	"time"
)

type pgReservationRepository struct {
	db DBTX
}

func NewPgReservationRepository(db DBTX) repository.ReservationRepository {
	return &pgReservationRepository{db: db}
}

const reservationColumns = `id, user_id, spot_id, lot_id, vehicle_number, entry_time, exit_time, cost,
	payment_method, payment_status, paid_at, force_released, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }, res *domain.Reservation) error {
	err := row.Scan(&res.ID, &res.UserID, &res.SpotID, &res.LotID, &res.VehicleNumber,
		&res.EntryTime, &res.ExitTime, &res.Cost, &res.PaymentMethod, &res.PaymentStatus,
		&res.PaidAt, &res.ForceReleased, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return err
	}
	res.EntryTime = res.EntryTime.In(time.UTC)
	if res.ExitTime.Valid {
		res.ExitTime.Time = res.ExitTime.Time.In(time.UTC)
	}
	if res.PaidAt.Valid {
		res.PaidAt.Time = res.PaidAt.Time.In(time.UTC)
	}
	res.CreatedAt = res.CreatedAt.In(time.UTC)
	res.UpdatedAt = res.UpdatedAt.In(time.UTC)
	return nil
}

func (r *pgReservationRepository) Create(ctx context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	query := `INSERT INTO reservations (user_id, spot_id, lot_id, vehicle_number, entry_time, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, res.UserID, res.SpotID, res.LotID, res.VehicleNumber, res.EntryTime).
		Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "reservations_open_spot_uidx"):
			return nil, fmt.Errorf("%w: spot %d already has an open reservation", domain.ErrSpotUnavailable, res.SpotID)
		case isUniqueViolation(err, "reservations_open_user_uidx"):
			return nil, fmt.Errorf("%w: user %d", domain.ErrAlreadyBooked, res.UserID)
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("%w: reservation references a missing user, spot or lot", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("ReservationRepository.Create: %w", err)
	}
	res.CreatedAt = res.CreatedAt.In(time.UTC)
	res.UpdatedAt = res.UpdatedAt.In(time.UTC)
	return res, nil
}

func (r *pgReservationRepository) findOne(ctx context.Context, op, query string, args ...any) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	if err := scanReservation(r.db.QueryRowContext(ctx, query, args...), res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ReservationRepository.%s: %w", op, err)
	}
	return res, nil
}

func (r *pgReservationRepository) findMany(ctx context.Context, op, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := scanReservation(rows, &res); err != nil {
			return nil, fmt.Errorf("ReservationRepository.%s (scanning row): %w", op, err)
		}
		out = append(out, res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ReservationRepository.%s (rows error): %w", op, err)
	}
	return out, nil
}

func (r *pgReservationRepository) FindByID(ctx context.Context, id int) (*domain.Reservation, error) {
	return r.findOne(ctx, "FindByID", `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

func (r *pgReservationRepository) FindByIDForUpdate(ctx context.Context, id int) (*domain.Reservation, error) {
	return r.findOne(ctx, "FindByIDForUpdate", `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgReservationRepository) FindOpenByUserID(ctx context.Context, userID int) (*domain.Reservation, error) {
	return r.findOne(ctx, "FindOpenByUserID",
		`SELECT `+reservationColumns+` FROM reservations WHERE user_id = $1 AND exit_time IS NULL`, userID)
}

func (r *pgReservationRepository) FindOpenBySpotID(ctx context.Context, spotID int) (*domain.Reservation, error) {
	return r.findOne(ctx, "FindOpenBySpotID",
		`SELECT `+reservationColumns+` FROM reservations WHERE spot_id = $1 AND exit_time IS NULL`, spotID)
}

func (r *pgReservationRepository) FindOpenByLotID(ctx context.Context, lotID int) ([]domain.Reservation, error) {
	return r.findMany(ctx, "FindOpenByLotID",
		`SELECT `+reservationColumns+` FROM reservations WHERE lot_id = $1 AND exit_time IS NULL ORDER BY spot_id`, lotID)
}

func (r *pgReservationRepository) Close(ctx context.Context, res *domain.Reservation) error {
	query := `UPDATE reservations
	           SET exit_time = $1, cost = $2, payment_method = $3, payment_status = $4, paid_at = $5,
	               force_released = $6, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $7 AND exit_time IS NULL
	           RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		res.ExitTime, res.Cost, res.PaymentMethod, res.PaymentStatus, res.PaidAt, res.ForceReleased, res.ID,
	).Scan(&res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: reservation %d", domain.ErrAlreadyClosed, res.ID)
		}
		return fmt.Errorf("ReservationRepository.Close: %w", err)
	}
	res.UpdatedAt = res.UpdatedAt.In(time.UTC)
	return nil
}

func (r *pgReservationRepository) Find(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.LotID != nil {
		add("lot_id = $%d", *filter.LotID)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.SpotID != nil {
		add("spot_id = $%d", *filter.SpotID)
	}
	if filter.From != nil {
		add("entry_time >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		// "to" is an inclusive calendar day.
		add("entry_time < $%d", filter.To.UTC().Add(24*time.Hour))
	}
	if filter.Open != nil {
		if *filter.Open {
			conds = append(conds, "exit_time IS NULL")
		} else {
			conds = append(conds, "exit_time IS NOT NULL")
		}
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY entry_time DESC, id DESC`
	return r.findMany(ctx, "Find", query, args...)
}

func (r *pgReservationRepository) DeleteByLotID(ctx context.Context, lotID int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE lot_id = $1`, lotID); err != nil {
		return fmt.Errorf("ReservationRepository.DeleteByLotID: %w", err)
	}
	return nil
}

func (r *pgReservationRepository) DeleteByUserID(ctx context.Context, userID int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("ReservationRepository.DeleteByUserID: %w", err)
	}
	return nil
}
