package handler

import (
	"log/slog"
	"net/http"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService *service.AuthService
	logger      *slog.Logger
}

func NewAuthHandler(as *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{authService: as, logger: logger}
}

// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var dto domain.RegisterUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := h.authService.Register(c.Request.Context(), dto)
	if err != nil {
		authError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var dto domain.LoginUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err.Error())
		return
	}

	authResponse, err := h.authService.Login(c.Request.Context(), dto)
	if err != nil {
		authError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, authResponse)
}
