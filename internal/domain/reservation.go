package domain

import (
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"
)

type ReservationState string

const (
	ReservationOpen   ReservationState = "open"
	ReservationClosed ReservationState = "closed"
)

const PaymentPaid = "paid"

// MaxVehicleNumberLen matches the reservations.vehicle_number column width.
const MaxVehicleNumberLen = 20

type Reservation struct {
	ID            int         `json:"id"`
	UserID        int         `json:"user_id"`
	SpotID        int         `json:"spot_id"`
	LotID         int         `json:"lot_id"`
	VehicleNumber string      `json:"vehicle_number"`
	EntryTime     time.Time   `json:"entry_time"`
	ExitTime      null.Time   `json:"exit_time"`
	Cost          null.Float  `json:"cost"`
	PaymentMethod null.String `json:"payment_method"`
	PaymentStatus null.String `json:"payment_status"`
	PaidAt        null.Time   `json:"paid_at"`
	ForceReleased bool        `json:"force_released"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// State is derived from the exit timestamp; there is no stored status column.
func (r *Reservation) State() ReservationState {
	if r.ExitTime.Valid {
		return ReservationClosed
	}
	return ReservationOpen
}

func (r *Reservation) IsOpen() bool {
	return !r.ExitTime.Valid
}

func (r *Reservation) Paid() bool {
	return r.PaymentStatus.Valid && r.PaymentStatus.String == PaymentPaid
}

type BookRequest struct {
	UserID        int
	LotID         int
	VehicleNumber string
	SpotID        null.Int
}

type VacateRequest struct {
	ReservationID int
	ActorID       int
	IsAdmin       bool
	PaymentMethod null.String
}

// CloseResult is returned by every path that closes a reservation.
type CloseResult struct {
	Reservation *Reservation  `json:"reservation"`
	Cost        float64       `json:"cost"`
	Duration    time.Duration `json:"-"`
}

// DurationLabel renders the parked time as "1h 30m".
func (r *CloseResult) DurationLabel() string {
	d := r.Duration
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}

type ReservationFilter struct {
	LotID  *int       `form:"lot_id"`
	UserID *int       `form:"user_id"`
	SpotID *int       `form:"spot_id"`
	From   *time.Time `form:"from" time_format:"2006-01-02"`
	To     *time.Time `form:"to" time_format:"2006-01-02"`
	Open   *bool      `form:"open"`
}

type BookReservationDTO struct {
	VehicleNumber string `json:"vehicle_number" binding:"required,max=20"`
	SpotID        *int   `json:"spot_id"`
}

type VacateReservationDTO struct {
	PaymentMethod string `json:"payment_method" binding:"omitempty,oneof=cash card upi online"`
}

type CloseResponseDTO struct {
	Reservation *Reservation `json:"reservation"`
	Cost        float64      `json:"cost"`
	Duration    string       `json:"duration"`
	DurationSec int64        `json:"duration_seconds"`
}

func NewCloseResponse(r *CloseResult) CloseResponseDTO {
	return CloseResponseDTO{
		Reservation: r.Reservation,
		Cost:        r.Cost,
		Duration:    r.DurationLabel(),
		DurationSec: int64(r.Duration / time.Second),
	}
}

const (
	EventReservationBooked        = "reservation.booked"
	EventReservationClosed        = "reservation.closed"
	EventReservationForceReleased = "reservation.force_released"
)

// ReservationEvent is published to the message broker after a lifecycle
// change commits.
type ReservationEvent struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Reservation Reservation `json:"reservation"`
	OccurredAt  time.Time   `json:"occurred_at"`
}
