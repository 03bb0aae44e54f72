package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

const maxImageBytes = 5 << 20

type LPRHandler struct {
	lprService *service.LPRService
	logger     *slog.Logger
}

func NewLPRHandler(lprService *service.LPRService, logger *slog.Logger) *LPRHandler {
	return &LPRHandler{lprService: lprService, logger: logger}
}

// POST /lpr/plate reads the registration off a photo so the booking form can
// be prefilled.
func (h *LPRHandler) RecognizePlate(c *gin.Context) {
	var req domain.PlateRecognitionDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	imageBytes, err := decodeImage(req.ImageBase64)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	plate, confidence, err := h.lprService.RecognizePlate(c.Request.Context(), imageBytes)
	switch {
	case errors.Is(err, service.ErrLPRDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "lpr_disabled"})
		return
	case errors.Is(err, service.ErrPlateNotFound):
		c.JSON(http.StatusOK, domain.PlateRecognitionResponseDTO{Message: err.Error()})
		return
	case err != nil:
		middleware.Logger(c, h.logger).Error("plate recognition failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "plate recognition failed", "code": "lpr_failed"})
		return
	}

	c.JSON(http.StatusOK, domain.PlateRecognitionResponseDTO{VehicleNumber: plate, Confidence: confidence})
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	imageBytes, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("image is not valid base64")
	}
	if len(imageBytes) == 0 {
		return nil, errors.New("image is empty")
	}
	if len(imageBytes) > maxImageBytes {
		return nil, errors.New("image is larger than 5 MiB")
	}
	return imageBytes, nil
}
