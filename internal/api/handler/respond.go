package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidLot):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProfileIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyBooked),
		errors.Is(err, domain.ErrSpotUnavailable),
		errors.Is(err, domain.ErrLotFull),
		errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrCapacityShrink),
		errors.Is(err, domain.ErrLotOccupied),
		errors.Is(err, domain.ErrUserHasActiveReservation),
		errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for err. Business outcomes carry
// their message and code; everything else is logged with the request id and
// reported as an opaque internal error.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		attrs := []any{slog.String("path", c.FullPath()), slog.String("error", err.Error())}
		var se *domain.StoreError
		if errors.As(err, &se) {
			attrs = append(attrs, slog.String("op", se.Op))
		}
		middleware.Logger(c, logger).Error("request failed", attrs...)
		c.JSON(status, gin.H{
			"error":      "internal error",
			"code":       domain.ErrorCode(err),
			"request_id": c.GetString(middleware.RequestIDKey),
		})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": domain.ErrorCode(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": domain.ErrorCode(domain.ErrInvalidInput)})
}

// pathID parses a positive integer path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id < 1 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// authError maps the auth service's own sentinels before falling back to
// the domain mapping.
func authError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "invalid_credentials"})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": domain.ErrorCode(domain.ErrDuplicate)})
	default:
		respondError(c, logger, err)
	}
}
