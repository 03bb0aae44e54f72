package domain

import "time"

type SpotStatus string

const (
	SpotAvailable SpotStatus = "available"
	SpotOccupied  SpotStatus = "occupied"
)

func (s SpotStatus) Valid() bool {
	return s == SpotAvailable || s == SpotOccupied
}

type ParkingSpot struct {
	ID        int        `json:"id"`
	LotID     int        `json:"lot_id"`
	Status    SpotStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SpotCorrection records one status rewrite made by reconciliation.
type SpotCorrection struct {
	SpotID int        `json:"spot_id"`
	LotID  int        `json:"lot_id"`
	From   SpotStatus `json:"from"`
	To     SpotStatus `json:"to"`
}

// OccupiedSpot pairs an occupied spot with the reservation holding it.
type OccupiedSpot struct {
	Spot        ParkingSpot `json:"spot"`
	Reservation Reservation `json:"reservation"`
}

// SpotStatusNotification is pushed to live listeners whenever a spot flips.
type SpotStatusNotification struct {
	LotID         int        `json:"lot_id"`
	SpotID        int        `json:"spot_id"`
	Status        SpotStatus `json:"status"`
	ReservationID int        `json:"reservation_id,omitempty"`
	Source        string     `json:"source"`
	ChangedAt     time.Time  `json:"changed_at"`
}

// Sources recorded on SpotStatusNotification.
const (
	SourceBooking      = "booking"
	SourceVacate       = "vacate"
	SourceForceRelease = "force_release"
	SourceReconcile    = "reconcile"
)
