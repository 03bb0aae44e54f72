package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type UserService struct {
	store  repository.Store
	logger *slog.Logger
}

func NewUserService(store repository.Store, logger *slog.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

func (s *UserService) GetProfile(ctx context.Context, userID int) (*domain.User, error) {
	u, err := s.store.Users().FindByID(ctx, userID)
	return u, storeErr("get_profile", err)
}

// UpdateProfile edits the fields a user may change about themselves.
func (s *UserService) UpdateProfile(ctx context.Context, userID int, dto domain.UpdateProfileDTO) (*domain.User, error) {
	name := strings.TrimSpace(dto.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}

	var updated *domain.User
	err := inTx(ctx, s.store, "update_profile", func(tx repository.Tx) error {
		u, err := tx.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		u.Name = name
		u.Address = strings.TrimSpace(dto.Address)
		u.PostalCode = strings.TrimSpace(dto.PostalCode)
		updated, err = tx.Users().Update(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *UserService) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	users, err := s.store.Users().Search(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, storeErr("search_users", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// DeleteUser removes a user and their reservation history. A user holding an
// open reservation must vacate or be force released first.
func (s *UserService) DeleteUser(ctx context.Context, userID int) error {
	err := inTx(ctx, s.store, "delete_user", func(tx repository.Tx) error {
		if _, err := tx.Users().FindByID(ctx, userID); err != nil {
			return err
		}
		open, err := tx.Reservations().FindOpenByUserID(ctx, userID)
		if err == nil {
			return fmt.Errorf("%w: reservation %d", domain.ErrUserHasActiveReservation, open.ID)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := tx.Reservations().DeleteByUserID(ctx, userID); err != nil {
			return err
		}
		return tx.Users().Delete(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("user deleted", slog.Int("user_id", userID))
	return nil
}
