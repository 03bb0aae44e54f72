package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
	"gopkg.in/guregu/null.v4"
)

type ReservationHandler struct {
	reservationService *service.ReservationService
	parkingService     *service.ParkingService
	userService        *service.UserService
	receipts           *service.ReceiptService
	logger             *slog.Logger
}

func NewReservationHandler(
	rs *service.ReservationService,
	ps *service.ParkingService,
	us *service.UserService,
	receipts *service.ReceiptService,
	logger *slog.Logger,
) *ReservationHandler {
	return &ReservationHandler{
		reservationService: rs,
		parkingService:     ps,
		userService:        us,
		receipts:           receipts,
		logger:             logger,
	}
}

// POST /parking-lots/:id/reservations
func (h *ReservationHandler) Book(c *gin.Context) {
	lotID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var dto domain.BookReservationDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, _ := middleware.CurrentUser(c)
	req := domain.BookRequest{
		UserID:        userID,
		LotID:         lotID,
		VehicleNumber: dto.VehicleNumber,
	}
	if dto.SpotID != nil {
		req.SpotID = null.IntFrom(int64(*dto.SpotID))
	}

	res, err := h.reservationService.Book(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// POST /reservations/:id/vacate. The body is optional.
func (h *ReservationHandler) Vacate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var dto domain.VacateReservationDTO
	if err := c.ShouldBindJSON(&dto); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	actorID, isAdmin := middleware.CurrentUser(c)
	result, err := h.reservationService.Vacate(c.Request.Context(), domain.VacateRequest{
		ReservationID: id,
		ActorID:       actorID,
		IsAdmin:       isAdmin,
		PaymentMethod: null.NewString(dto.PaymentMethod, dto.PaymentMethod != ""),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, domain.NewCloseResponse(result))
}

// POST /reservations/:id/force-release
func (h *ReservationHandler) ForceRelease(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.reservationService.ForceRelease(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, domain.NewCloseResponse(result))
}

// GET /reservations/:id
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	actorID, isAdmin := middleware.CurrentUser(c)
	res, err := h.reservationService.GetReservation(c.Request.Context(), id, actorID, isAdmin)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /reservations/:id/receipt renders the PDF receipt of a closed reservation.
func (h *ReservationHandler) Receipt(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	actorID, isAdmin := middleware.CurrentUser(c)
	res, err := h.reservationService.GetReservation(ctx, id, actorID, isAdmin)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	lot, err := h.parkingService.GetParkingLotByID(ctx, res.LotID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	owner, err := h.userService.GetProfile(ctx, res.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	pdf, err := h.receipts.Render(res, lot, owner)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="receipt-%d.pdf"`, res.ID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// GET /reservations?lot_id=&user_id=&spot_id=&from=&to=&open=
func (h *ReservationHandler) Search(c *gin.Context) {
	var filter domain.ReservationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err.Error())
		return
	}

	out, err := h.reservationService.SearchReservations(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if out == nil {
		out = []domain.Reservation{}
	}
	c.JSON(http.StatusOK, out)
}
