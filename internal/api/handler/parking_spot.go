package handler

import (
	"log/slog"
	"net/http"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

type ParkingSpotHandler struct {
	parkingService     *service.ParkingService
	reservationService *service.ReservationService
	logger             *slog.Logger
}

func NewParkingSpotHandler(ps *service.ParkingService, rs *service.ReservationService, logger *slog.Logger) *ParkingSpotHandler {
	return &ParkingSpotHandler{parkingService: ps, reservationService: rs, logger: logger}
}

// GET /parking-lots/:id/spots
func (h *ParkingSpotHandler) GetSpotsByLotID(c *gin.Context) {
	lotID, ok := pathID(c, "id")
	if !ok {
		return
	}

	spots, err := h.parkingService.GetSpotsByLotID(c.Request.Context(), lotID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, spots)
}

// GET /parking-spots/:id
func (h *ParkingSpotHandler) GetParkingSpotByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	spot, err := h.parkingService.GetParkingSpotByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, spot)
}

// POST /parking-spots/:id/force-release ends whatever reservation holds the spot.
func (h *ParkingSpotHandler) ForceRelease(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.reservationService.ForceReleaseSpot(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, domain.NewCloseResponse(result))
}
