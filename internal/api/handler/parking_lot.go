package handler

import (
	"log/slog"
	"net/http"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

type ParkingLotHandler struct {
	parkingService     *service.ParkingService
	reservationService *service.ReservationService
	auditor            *service.Auditor
	logger             *slog.Logger
}

func NewParkingLotHandler(ps *service.ParkingService, rs *service.ReservationService, auditor *service.Auditor, logger *slog.Logger) *ParkingLotHandler {
	return &ParkingLotHandler{parkingService: ps, reservationService: rs, auditor: auditor, logger: logger}
}

// POST /parking-lots
func (h *ParkingLotHandler) CreateParkingLot(c *gin.Context) {
	var dto domain.ParkingLotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err.Error())
		return
	}

	lot, err := h.parkingService.CreateParkingLot(c.Request.Context(), dto)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

// GET /parking-lots/:id
func (h *ParkingLotHandler) GetParkingLotByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	lot, err := h.parkingService.GetParkingLotByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// GET /parking-lots lists every lot with its spot counts.
func (h *ParkingLotHandler) GetAllParkingLots(c *gin.Context) {
	lots, err := h.parkingService.ListAvailability(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, lots)
}

// PUT /parking-lots/:id
func (h *ParkingLotHandler) UpdateParkingLot(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var dto domain.ParkingLotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err.Error())
		return
	}

	lot, err := h.parkingService.UpdateParkingLot(c.Request.Context(), id, dto)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// DELETE /parking-lots/:id
func (h *ParkingLotHandler) DeleteParkingLot(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.parkingService.DeleteParkingLot(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /parking-lots/:id/available-spots
func (h *ParkingLotHandler) AvailableSpots(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	count, ids, err := h.reservationService.AvailableSpots(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lot_id": id, "count": count, "spot_ids": ids})
}

// GET /parking-lots/:id/occupied-spots
func (h *ParkingLotHandler) OccupiedSpots(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	spots, err := h.reservationService.OccupiedSpots(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, spots)
}

// POST /parking-lots/:id/reconcile
func (h *ParkingLotHandler) Reconcile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	fixed, err := h.auditor.Reconcile(service.WithTrigger(c.Request.Context(), "api"), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if fixed == nil {
		fixed = []domain.SpotCorrection{}
	}
	c.JSON(http.StatusOK, gin.H{"lot_id": id, "corrections": fixed})
}
