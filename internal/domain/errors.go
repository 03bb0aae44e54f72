package domain

import (
	"errors"
	"fmt"
)

// Booking and closing failures. Every one of these leaves the store untouched.
var (
	ErrProfileIncomplete = errors.New("profile incomplete: address and postal code are required to book")
	ErrAlreadyBooked     = errors.New("user already holds an open reservation")
	ErrInvalidLot        = errors.New("parking lot does not exist")
	ErrSpotUnavailable   = errors.New("parking spot is not available")
	ErrLotFull           = errors.New("parking lot has no available spot")
	ErrNotFound          = errors.New("record not found")
	ErrForbidden         = errors.New("not allowed to act on this reservation")
	ErrAlreadyClosed     = errors.New("reservation is already closed")
	ErrDataIntegrity     = errors.New("data integrity violation")

	ErrCapacityShrink           = errors.New("lot capacity cannot be reduced")
	ErrLotOccupied              = errors.New("lot still has occupied spots")
	ErrUserHasActiveReservation = errors.New("user still holds an open reservation")
	ErrDuplicate                = errors.New("record already exists")
	ErrInvalidInput             = errors.New("invalid input")
)

var domainErrors = []error{
	ErrProfileIncomplete, ErrAlreadyBooked, ErrInvalidLot, ErrSpotUnavailable,
	ErrLotFull, ErrNotFound, ErrForbidden, ErrAlreadyClosed, ErrDataIntegrity,
	ErrCapacityShrink, ErrLotOccupied, ErrUserHasActiveReservation, ErrDuplicate,
	ErrInvalidInput,
}

// IsDomainError reports whether err is an expected business outcome rather
// than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode is the stable machine-readable code sent to API clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrProfileIncomplete):
		return "profile_incomplete"
	case errors.Is(err, ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrInvalidLot):
		return "invalid_lot"
	case errors.Is(err, ErrSpotUnavailable):
		return "spot_unavailable"
	case errors.Is(err, ErrLotFull):
		return "lot_full"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrCapacityShrink):
		return "capacity_shrink"
	case errors.Is(err, ErrLotOccupied):
		return "lot_occupied"
	case errors.Is(err, ErrUserHasActiveReservation):
		return "user_has_active_reservation"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}

// StoreError wraps an infrastructure failure caught at a transaction
// boundary. The transaction has already been rolled back when it surfaces.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure in %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
