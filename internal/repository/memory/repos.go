package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

type userRepo struct {
	ex  executor
	now func() time.Time
}

func (r *userRepo) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	err := r.ex.write(ctx, func(st *state) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, user.Email) {
				return fmt.Errorf("%w: email '%s' is already registered", repository.ErrDuplicateEntry, user.Email)
			}
		}
		st.nextUserID++
		user.ID = st.nextUserID
		user.CreatedAt = r.now()
		user.UpdatedAt = user.CreatedAt
		st.users[user.ID] = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	var out *domain.User
	err := r.ex.read(func(st *state) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				out = &u
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *userRepo) FindByID(_ context.Context, id int) (*domain.User, error) {
	var out *domain.User
	err := r.ex.read(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *userRepo) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	err := r.ex.write(ctx, func(st *state) error {
		cur, ok := st.users[user.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Name, cur.Address, cur.PostalCode, cur.Role = user.Name, user.Address, user.PostalCode, user.Role
		cur.UpdatedAt = r.now()
		st.users[user.ID] = cur
		user.UpdatedAt = cur.UpdatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepo) Delete(ctx context.Context, id int) error {
	return r.ex.write(ctx, func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.users, id)
		for rid, res := range st.reservations {
			if res.UserID == id {
				delete(st.reservations, rid)
			}
		}
		return nil
	})
}

func (r *userRepo) Search(_ context.Context, q string) ([]domain.User, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	var out []domain.User
	err := r.ex.read(func(st *state) error {
		for _, u := range st.users {
			if q == "" || strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
				out = append(out, u)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type lotRepo struct {
	ex  executor
	now func() time.Time
}

func validLot(lot *domain.ParkingLot) error {
	if lot.HourlyRate <= 0 || lot.Capacity <= 0 {
		return fmt.Errorf("%w: hourly rate and capacity must be positive", domain.ErrInvalidInput)
	}
	return nil
}

func (r *lotRepo) Create(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	if err := validLot(lot); err != nil {
		return nil, err
	}
	err := r.ex.write(ctx, func(st *state) error {
		st.nextLotID++
		lot.ID = st.nextLotID
		lot.CreatedAt = r.now()
		lot.UpdatedAt = lot.CreatedAt
		st.lots[lot.ID] = *lot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

func (r *lotRepo) FindByID(_ context.Context, id int) (*domain.ParkingLot, error) {
	var out *domain.ParkingLot
	err := r.ex.read(func(st *state) error {
		l, ok := st.lots[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &l
		return nil
	})
	return out, err
}

func (r *lotRepo) FindAll(_ context.Context) ([]domain.ParkingLot, error) {
	var out []domain.ParkingLot
	err := r.ex.read(func(st *state) error {
		for _, l := range st.lots {
			out = append(out, l)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *lotRepo) Update(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	if err := validLot(lot); err != nil {
		return nil, err
	}
	err := r.ex.write(ctx, func(st *state) error {
		cur, ok := st.lots[lot.ID]
		if !ok {
			return repository.ErrNotFound
		}
		lot.CreatedAt = cur.CreatedAt
		lot.UpdatedAt = r.now()
		st.lots[lot.ID] = *lot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

func (r *lotRepo) Delete(ctx context.Context, id int) error {
	return r.ex.write(ctx, func(st *state) error {
		if _, ok := st.lots[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.lots, id)
		for sid, s := range st.spots {
			if s.LotID == id {
				delete(st.spots, sid)
			}
		}
		for rid, res := range st.reservations {
			if res.LotID == id {
				delete(st.reservations, rid)
			}
		}
		return nil
	})
}

func (r *lotRepo) Availability(_ context.Context) ([]domain.LotAvailability, error) {
	var out []domain.LotAvailability
	err := r.ex.read(func(st *state) error {
		byLot := make(map[int]*domain.LotAvailability, len(st.lots))
		for id, l := range st.lots {
			byLot[id] = &domain.LotAvailability{ParkingLot: l}
		}
		for _, s := range st.spots {
			a, ok := byLot[s.LotID]
			if !ok {
				continue
			}
			a.TotalSpots++
			switch s.Status {
			case domain.SpotAvailable:
				a.AvailableSpots++
			case domain.SpotOccupied:
				a.OccupiedSpots++
			}
		}
		for _, a := range byLot {
			out = append(out, *a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type spotRepo struct {
	ex  executor
	now func() time.Time
}

func (r *spotRepo) Create(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error) {
	if spot.Status == "" {
		spot.Status = domain.SpotAvailable
	}
	err := r.ex.write(ctx, func(st *state) error {
		if _, ok := st.lots[spot.LotID]; !ok {
			return fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, spot.LotID)
		}
		st.nextSpotID++
		spot.ID = st.nextSpotID
		spot.CreatedAt = r.now()
		spot.UpdatedAt = spot.CreatedAt
		st.spots[spot.ID] = *spot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spot, nil
}

func (r *spotRepo) FindByID(_ context.Context, id int) (*domain.ParkingSpot, error) {
	var out *domain.ParkingSpot
	err := r.ex.read(func(st *state) error {
		s, ok := st.spots[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

// Writers are serialized, so the locking variants are plain reads.
func (r *spotRepo) FindByIDForUpdate(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	return r.FindByID(ctx, id)
}

func (r *spotRepo) FindByLotID(_ context.Context, lotID int) ([]domain.ParkingSpot, error) {
	var out []domain.ParkingSpot
	err := r.ex.read(func(st *state) error {
		for _, s := range st.spots {
			if s.LotID == lotID {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *spotRepo) FindByLotIDForUpdate(ctx context.Context, lotID int) ([]domain.ParkingSpot, error) {
	return r.FindByLotID(ctx, lotID)
}

func (r *spotRepo) FindFirstAvailableByLotID(ctx context.Context, lotID int) (*domain.ParkingSpot, error) {
	spots, err := r.FindByLotID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	for i := range spots {
		if spots[i].Status == domain.SpotAvailable {
			return &spots[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *spotRepo) CountByLotID(ctx context.Context, lotID int) (int, error) {
	spots, err := r.FindByLotID(ctx, lotID)
	return len(spots), err
}

func (r *spotRepo) UpdateStatus(ctx context.Context, id int, status domain.SpotStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: spot status %q", domain.ErrInvalidInput, status)
	}
	return r.ex.write(ctx, func(st *state) error {
		s, ok := st.spots[id]
		if !ok {
			return repository.ErrNotFound
		}
		s.Status = status
		s.UpdatedAt = r.now()
		st.spots[id] = s
		return nil
	})
}

func (r *spotRepo) DeleteByLotID(ctx context.Context, lotID int) error {
	return r.ex.write(ctx, func(st *state) error {
		for sid, s := range st.spots {
			if s.LotID != lotID {
				continue
			}
			delete(st.spots, sid)
			for rid, res := range st.reservations {
				if res.SpotID == sid {
					delete(st.reservations, rid)
				}
			}
		}
		return nil
	})
}

type reservationRepo struct {
	ex  executor
	now func() time.Time
}

func (r *reservationRepo) Create(ctx context.Context, res *domain.Reservation) (*domain.Reservation, error) {
	err := r.ex.write(ctx, func(st *state) error {
		_, userOK := st.users[res.UserID]
		_, spotOK := st.spots[res.SpotID]
		_, lotOK := st.lots[res.LotID]
		if !userOK || !spotOK || !lotOK {
			return fmt.Errorf("%w: reservation references a missing user, spot or lot", domain.ErrInvalidInput)
		}
		for _, other := range st.reservations {
			if !other.IsOpen() {
				continue
			}
			if other.SpotID == res.SpotID {
				return fmt.Errorf("%w: spot %d already has an open reservation", domain.ErrSpotUnavailable, res.SpotID)
			}
			if other.UserID == res.UserID {
				return fmt.Errorf("%w: user %d", domain.ErrAlreadyBooked, res.UserID)
			}
		}
		st.nextReservationID++
		res.ID = st.nextReservationID
		res.CreatedAt = r.now()
		res.UpdatedAt = res.CreatedAt
		st.reservations[res.ID] = *res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *reservationRepo) FindByID(_ context.Context, id int) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := r.ex.read(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &res
		return nil
	})
	return out, err
}

func (r *reservationRepo) FindByIDForUpdate(ctx context.Context, id int) (*domain.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r *reservationRepo) findOpen(match func(domain.Reservation) bool) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := r.ex.read(func(st *state) error {
		for _, res := range st.reservations {
			if res.IsOpen() && match(res) {
				out = &res
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *reservationRepo) FindOpenByUserID(_ context.Context, userID int) (*domain.Reservation, error) {
	return r.findOpen(func(res domain.Reservation) bool { return res.UserID == userID })
}

func (r *reservationRepo) FindOpenBySpotID(_ context.Context, spotID int) (*domain.Reservation, error) {
	return r.findOpen(func(res domain.Reservation) bool { return res.SpotID == spotID })
}

func (r *reservationRepo) FindOpenByLotID(ctx context.Context, lotID int) ([]domain.Reservation, error) {
	open := true
	out, err := r.Find(ctx, domain.ReservationFilter{LotID: &lotID, Open: &open})
	sort.Slice(out, func(i, j int) bool { return out[i].SpotID < out[j].SpotID })
	return out, err
}

func (r *reservationRepo) Close(ctx context.Context, res *domain.Reservation) error {
	return r.ex.write(ctx, func(st *state) error {
		cur, ok := st.reservations[res.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if !cur.IsOpen() {
			return fmt.Errorf("%w: reservation %d", domain.ErrAlreadyClosed, res.ID)
		}
		cur.ExitTime = res.ExitTime
		cur.Cost = res.Cost
		cur.PaymentMethod = res.PaymentMethod
		cur.PaymentStatus = res.PaymentStatus
		cur.PaidAt = res.PaidAt
		cur.ForceReleased = res.ForceReleased
		cur.UpdatedAt = r.now()
		st.reservations[res.ID] = cur
		res.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

func (r *reservationRepo) Find(_ context.Context, f domain.ReservationFilter) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := r.ex.read(func(st *state) error {
		for _, res := range st.reservations {
			if matches(res, f) {
				out = append(out, res)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.After(out[j].EntryTime)
		}
		return out[i].ID > out[j].ID
	})
	return out, err
}

func matches(res domain.Reservation, f domain.ReservationFilter) bool {
	switch {
	case f.LotID != nil && res.LotID != *f.LotID:
		return false
	case f.UserID != nil && res.UserID != *f.UserID:
		return false
	case f.SpotID != nil && res.SpotID != *f.SpotID:
		return false
	case f.From != nil && res.EntryTime.Before(f.From.UTC()):
		return false
	case f.To != nil && !res.EntryTime.Before(f.To.UTC().Add(24*time.Hour)):
		return false
	case f.Open != nil && res.IsOpen() != *f.Open:
		return false
	}
	return true
}

func (r *reservationRepo) DeleteByLotID(ctx context.Context, lotID int) error {
	return r.ex.write(ctx, func(st *state) error {
		for rid, res := range st.reservations {
			if res.LotID == lotID {
				delete(st.reservations, rid)
			}
		}
		return nil
	})
}

func (r *reservationRepo) DeleteByUserID(ctx context.Context, userID int) error {
	return r.ex.write(ctx, func(st *state) error {
		for rid, res := range st.reservations {
			if res.UserID == userID {
				delete(st.reservations, rid)
			}
		}
		return nil
	})
}
