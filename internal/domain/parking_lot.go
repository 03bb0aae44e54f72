package domain

import "time"

type ParkingLot struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	PostalCode string    `json:"postal_code"`
	HourlyRate float64   `json:"hourly_rate"`
	Capacity   int       `json:"capacity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ParkingLotDTO struct {
	Name       string  `json:"name" binding:"required"`
	Address    string  `json:"address" binding:"required"`
	PostalCode string  `json:"postal_code" binding:"required"`
	HourlyRate float64 `json:"hourly_rate" binding:"required,gt=0"`
	Capacity   int     `json:"capacity" binding:"required,min=1"`
}

// LotAvailability is the per-lot summary shown on the lot listing.
type LotAvailability struct {
	ParkingLot
	TotalSpots     int `json:"total_spots"`
	AvailableSpots int `json:"available_spots"`
	OccupiedSpots  int `json:"occupied_spots"`
}
