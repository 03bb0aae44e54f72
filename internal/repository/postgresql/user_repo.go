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

type pgUserRepository struct {
	db DBTX
}

func NewPgUserRepository(db DBTX) repository.UserRepository {
	return &pgUserRepository{db: db}
}

const userColumns = `id, name, email, address, postal_code, password_hash, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }, user *domain.User) error {
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Address, &user.PostalCode,
		&user.Password, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return err
	}
	user.CreatedAt = user.CreatedAt.In(time.UTC)
	user.UpdatedAt = user.UpdatedAt.In(time.UTC)
	return nil
}

func (r *pgUserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `INSERT INTO users (name, email, address, postal_code, password_hash, role, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		user.Name, user.Email, user.Address, user.PostalCode, user.Password, user.Role,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return nil, fmt.Errorf("%w: email '%s' is already registered", repository.ErrDuplicateEntry, user.Email)
		}
		return nil, fmt.Errorf("UserRepository.Create: %w", err)
	}
	user.CreatedAt = user.CreatedAt.In(time.UTC)
	user.UpdatedAt = user.UpdatedAt.In(time.UTC)
	return user, nil
}

func (r *pgUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user := &domain.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	if err := scanUser(r.db.QueryRowContext(ctx, query, email), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("UserRepository.FindByEmail: %w", err)
	}
	return user, nil
}

func (r *pgUserRepository) FindByID(ctx context.Context, id int) (*domain.User, error) {
	user := &domain.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := scanUser(r.db.QueryRowContext(ctx, query, id), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("UserRepository.FindByID: %w", err)
	}
	return user, nil
}

func (r *pgUserRepository) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `UPDATE users SET name = $1, address = $2, postal_code = $3, role = $4, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $5 RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, user.Name, user.Address, user.PostalCode, user.Role, user.ID).Scan(&user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("UserRepository.Update: %w", err)
	}
	user.UpdatedAt = user.UpdatedAt.In(time.UTC)
	return user, nil
}

func (r *pgUserRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("UserRepository.Delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("UserRepository.Delete (getting rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgUserRepository) Search(ctx context.Context, q string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
	           WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
	           ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, q)
	if err != nil {
		return nil, fmt.Errorf("UserRepository.Search: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("UserRepository.Search (scanning row): %w", err)
		}
		users = append(users, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("UserRepository.Search (rows error): %w", err)
	}
	return users, nil
}
