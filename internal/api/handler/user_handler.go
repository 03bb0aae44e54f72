package handler

import (
	"log/slog"
	"net/http"

	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService        *service.UserService
	reservationService *service.ReservationService
	logger             *slog.Logger
}

func NewUserHandler(us *service.UserService, rs *service.ReservationService, logger *slog.Logger) *UserHandler {
	return &UserHandler{userService: us, reservationService: rs, logger: logger}
}

// GET /me
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	user, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// PUT /me
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var dto domain.UpdateProfileDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, _ := middleware.CurrentUser(c)
	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, dto)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GET /me/reservations, newest first.
func (h *UserHandler) MyReservations(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	out, err := h.reservationService.UserReservations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if out == nil {
		out = []domain.Reservation{}
	}
	c.JSON(http.StatusOK, out)
}

// GET /me/active-reservation answers 404 when nothing is open.
func (h *UserHandler) ActiveReservation(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	res, err := h.reservationService.ActiveReservation(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /users?q=
func (h *UserHandler) SearchUsers(c *gin.Context) {
	users, err := h.userService.SearchUsers(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// DELETE /users/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.userService.DeleteUser(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
