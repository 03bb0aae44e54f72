package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/metrics"
	"parking_reservation/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/guregu/null.v4"
)

type ReservationService struct {
	store     repository.Store
	allocator *Allocator
	clock     Clock
	notifier  Notifier
	events    EventPublisher
	logger    *slog.Logger
}

func NewReservationService(
	store repository.Store,
	clock Clock,
	notifier Notifier,
	events EventPublisher,
	logger *slog.Logger,
) *ReservationService {
	if notifier == nil {
		notifier = Notifiers{}
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &ReservationService{
		store:     store,
		allocator: NewAllocator(),
		clock:     clock,
		notifier:  notifier,
		events:    events,
		logger:    logger,
	}
}

// Book opens a reservation for req.UserID in req.LotID and occupies the
// allocated spot, both in one transaction.
func (s *ReservationService) Book(ctx context.Context, req domain.BookRequest) (*domain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "ReservationService.Book", trace.WithAttributes(
		attribute.Int("user.id", req.UserID),
		attribute.Int("lot.id", req.LotID),
	))
	defer span.End()

	vehicle := strings.ToUpper(strings.TrimSpace(req.VehicleNumber))
	if vehicle == "" {
		metrics.ObserveBooking(resultLabel(domain.ErrInvalidInput))
		return nil, fmt.Errorf("%w: vehicle number is required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(vehicle) > domain.MaxVehicleNumberLen {
		metrics.ObserveBooking(resultLabel(domain.ErrInvalidInput))
		return nil, fmt.Errorf("%w: vehicle number exceeds %d characters", domain.ErrInvalidInput, domain.MaxVehicleNumberLen)
	}

	var created *domain.Reservation
	err := inTx(ctx, s.store, "book", func(tx repository.Tx) error {
		user, err := tx.Users().FindByID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !user.ProfileComplete() {
			return domain.ErrProfileIncomplete
		}

		if open, err := tx.Reservations().FindOpenByUserID(ctx, user.ID); err == nil {
			return fmt.Errorf("%w: reservation %d is still open", domain.ErrAlreadyBooked, open.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		lot, err := tx.Lots().FindByID(ctx, req.LotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, req.LotID)
			}
			return err
		}

		spot, err := s.allocator.Allocate(ctx, tx, lot.ID, req.SpotID)
		if err != nil {
			return err
		}

		created, err = tx.Reservations().Create(ctx, &domain.Reservation{
			UserID:        user.ID,
			SpotID:        spot.ID,
			LotID:         lot.ID,
			VehicleNumber: vehicle,
			EntryTime:     s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Spots().UpdateStatus(ctx, spot.ID, domain.SpotOccupied)
	})
	metrics.ObserveBooking(resultLabel(err))
	if err != nil {
		s.traceFailure(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("reservation.id", created.ID), attribute.Int("spot.id", created.SpotID))
	s.logger.Info("reservation opened",
		slog.Int("reservation_id", created.ID),
		slog.Int("user_id", created.UserID),
		slog.Int("lot_id", created.LotID),
		slog.Int("spot_id", created.SpotID),
	)
	s.notifier.SpotStatusChanged(ctx, domain.SpotStatusNotification{
		LotID:         created.LotID,
		SpotID:        created.SpotID,
		Status:        domain.SpotOccupied,
		ReservationID: created.ID,
		Source:        domain.SourceBooking,
		ChangedAt:     created.EntryTime,
	})
	s.publish(ctx, domain.EventReservationBooked, created)
	return created, nil
}

// Vacate closes a reservation on behalf of its owner, or of an admin.
func (s *ReservationService) Vacate(ctx context.Context, req domain.VacateRequest) (*domain.CloseResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationService.Vacate", trace.WithAttributes(
		attribute.Int("reservation.id", req.ReservationID),
		attribute.Int("actor.id", req.ActorID),
	))
	defer span.End()

	locate := func(ctx context.Context, tx repository.Tx) (*domain.Reservation, error) {
		res, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
		if err != nil {
			return nil, err
		}
		if !req.IsAdmin && res.UserID != req.ActorID {
			return nil, domain.ErrForbidden
		}
		return res, nil
	}
	return s.close(ctx, span, "vacate", locate, false, req.PaymentMethod)
}

// ForceRelease closes any open reservation without an ownership check.
// Callers gate it on the admin role.
func (s *ReservationService) ForceRelease(ctx context.Context, reservationID int) (*domain.CloseResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationService.ForceRelease", trace.WithAttributes(
		attribute.Int("reservation.id", reservationID),
	))
	defer span.End()

	locate := func(ctx context.Context, tx repository.Tx) (*domain.Reservation, error) {
		return tx.Reservations().FindByIDForUpdate(ctx, reservationID)
	}
	return s.close(ctx, span, "force_release", locate, true, null.String{})
}

// ForceReleaseSpot force releases whatever reservation currently holds spotID.
func (s *ReservationService) ForceReleaseSpot(ctx context.Context, spotID int) (*domain.CloseResult, error) {
	ctx, span := tracer.Start(ctx, "ReservationService.ForceReleaseSpot", trace.WithAttributes(
		attribute.Int("spot.id", spotID),
	))
	defer span.End()

	locate := func(ctx context.Context, tx repository.Tx) (*domain.Reservation, error) {
		if _, err := tx.Spots().FindByIDForUpdate(ctx, spotID); err != nil {
			return nil, err
		}
		open, err := tx.Reservations().FindOpenBySpotID(ctx, spotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: spot %d has no open reservation", domain.ErrNotFound, spotID)
			}
			return nil, err
		}
		return tx.Reservations().FindByIDForUpdate(ctx, open.ID)
	}
	return s.close(ctx, span, "force_release", locate, true, null.String{})
}

type locateFunc func(ctx context.Context, tx repository.Tx) (*domain.Reservation, error)

// close is the single write path that ends a reservation: exit time, cost,
// payment and spot release commit together.
func (s *ReservationService) close(
	ctx context.Context,
	span trace.Span,
	kind string,
	locate locateFunc,
	force bool,
	paymentMethod null.String,
) (*domain.CloseResult, error) {
	var result *domain.CloseResult
	err := inTx(ctx, s.store, kind, func(tx repository.Tx) error {
		result = nil
		res, err := locate(ctx, tx)
		if err != nil {
			return err
		}
		if !res.IsOpen() {
			return fmt.Errorf("%w: reservation %d", domain.ErrAlreadyClosed, res.ID)
		}

		lot, err := tx.Lots().FindByID(ctx, res.LotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: reservation %d points at missing lot %d", domain.ErrDataIntegrity, res.ID, res.LotID)
			}
			return err
		}

		exit := s.clock.Now().UTC()
		cost, err := Cost(res.EntryTime, exit, lot.HourlyRate)
		if err != nil {
			return fmt.Errorf("lot %d: %w", lot.ID, err)
		}

		res.ExitTime = null.TimeFrom(exit)
		res.Cost = null.FloatFrom(cost)
		res.ForceReleased = force
		if method := strings.TrimSpace(paymentMethod.String); paymentMethod.Valid && method != "" {
			res.PaymentMethod = null.StringFrom(method)
			res.PaymentStatus = null.StringFrom(domain.PaymentPaid)
			res.PaidAt = null.TimeFrom(exit)
		}
		if err := tx.Reservations().Close(ctx, res); err != nil {
			return err
		}
		if err := tx.Spots().UpdateStatus(ctx, res.SpotID, domain.SpotAvailable); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: reservation %d points at missing spot %d", domain.ErrDataIntegrity, res.ID, res.SpotID)
			}
			return err
		}

		parked := exit.Sub(res.EntryTime)
		if parked < 0 {
			parked = 0
		}
		result = &domain.CloseResult{Reservation: res, Cost: cost, Duration: parked}
		return nil
	})

	metricKind := "vacate"
	if force {
		metricKind = "force"
	}
	if err != nil {
		metrics.ObserveClose(metricKind, resultLabel(err), 0, 0)
		s.traceFailure(span, err)
		return nil, err
	}
	metrics.ObserveClose(metricKind, "ok", result.Cost, result.Duration)

	res := result.Reservation
	span.SetAttributes(attribute.Int("reservation.id", res.ID), attribute.Float64("reservation.cost", result.Cost))
	s.logger.Info("reservation closed",
		slog.Int("reservation_id", res.ID),
		slog.Int("spot_id", res.SpotID),
		slog.Float64("cost", result.Cost),
		slog.Duration("parked", result.Duration),
		slog.Bool("force_released", res.ForceReleased),
	)

	source, event := domain.SourceVacate, domain.EventReservationClosed
	if force {
		source, event = domain.SourceForceRelease, domain.EventReservationForceReleased
	}
	s.notifier.SpotStatusChanged(ctx, domain.SpotStatusNotification{
		LotID:         res.LotID,
		SpotID:        res.SpotID,
		Status:        domain.SpotAvailable,
		ReservationID: res.ID,
		Source:        source,
		ChangedAt:     res.ExitTime.Time,
	})
	s.publish(ctx, event, res)
	return result, nil
}

// AvailableSpots lists a lot's available spot ids in ascending order.
func (s *ReservationService) AvailableSpots(ctx context.Context, lotID int) (int, []int, error) {
	if _, err := s.store.Lots().FindByID(ctx, lotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil, fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, lotID)
		}
		return 0, nil, storeErr("available_spots", err)
	}
	spots, err := s.store.Spots().FindByLotID(ctx, lotID)
	if err != nil {
		return 0, nil, storeErr("available_spots", err)
	}
	ids := make([]int, 0, len(spots))
	for _, sp := range spots {
		if sp.Status == domain.SpotAvailable {
			ids = append(ids, sp.ID)
		}
	}
	return len(ids), ids, nil
}

// OccupiedSpots pairs each occupied spot of a lot with its open reservation.
// A spot flagged occupied with no open reservation is reported with a zero
// reservation; reconciliation will fix it.
func (s *ReservationService) OccupiedSpots(ctx context.Context, lotID int) ([]domain.OccupiedSpot, error) {
	if _, err := s.store.Lots().FindByID(ctx, lotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: lot %d", domain.ErrInvalidLot, lotID)
		}
		return nil, storeErr("occupied_spots", err)
	}
	spots, err := s.store.Spots().FindByLotID(ctx, lotID)
	if err != nil {
		return nil, storeErr("occupied_spots", err)
	}
	open, err := s.store.Reservations().FindOpenByLotID(ctx, lotID)
	if err != nil {
		return nil, storeErr("occupied_spots", err)
	}
	bySpot := make(map[int]domain.Reservation, len(open))
	for _, r := range open {
		bySpot[r.SpotID] = r
	}

	out := make([]domain.OccupiedSpot, 0, len(open))
	for _, sp := range spots {
		if sp.Status != domain.SpotOccupied {
			continue
		}
		out = append(out, domain.OccupiedSpot{Spot: sp, Reservation: bySpot[sp.ID]})
	}
	return out, nil
}

func (s *ReservationService) GetReservation(ctx context.Context, id, actorID int, isAdmin bool) (*domain.Reservation, error) {
	res, err := s.store.Reservations().FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("get_reservation", err)
	}
	if !isAdmin && res.UserID != actorID {
		return nil, domain.ErrForbidden
	}
	return res, nil
}

func (s *ReservationService) ActiveReservation(ctx context.Context, userID int) (*domain.Reservation, error) {
	res, err := s.store.Reservations().FindOpenByUserID(ctx, userID)
	return res, storeErr("active_reservation", err)
}

func (s *ReservationService) UserReservations(ctx context.Context, userID int) ([]domain.Reservation, error) {
	out, err := s.store.Reservations().Find(ctx, domain.ReservationFilter{UserID: &userID})
	return out, storeErr("user_reservations", err)
}

func (s *ReservationService) SearchReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", domain.ErrInvalidInput)
	}
	out, err := s.store.Reservations().Find(ctx, filter)
	return out, storeErr("search_reservations", err)
}

func (s *ReservationService) publish(ctx context.Context, eventType string, res *domain.Reservation) {
	evt := domain.ReservationEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Reservation: *res,
		OccurredAt:  s.clock.Now().UTC(),
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish reservation event",
			slog.String("type", eventType),
			slog.Int("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ReservationService) traceFailure(span trace.Span, err error) {
	span.RecordError(err)
	if domain.IsDomainError(err) {
		return
	}
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("reservation store failure", slog.String("error", err.Error()))
}
