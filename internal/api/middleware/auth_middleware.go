package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	AuthorizationHeaderKey  = "Authorization"
	AuthorizationTypeBearer = "Bearer"
	UserIDKey               = "userID"
	UserRoleKey             = "userRole"
	UserEmailKey            = "userEmail"
)

type AuthMiddleware struct {
	authService *service.AuthService
	logger      *slog.Logger
}

func NewAuthMiddleware(authService *service.AuthService, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{authService: authService, logger: logger}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthorized"})
}

// Authenticate validates the bearer token and stores the caller's id (int),
// role and email on the gin context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeaderKey)
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		fields := strings.Fields(authHeader)
		if len(fields) < 2 || !strings.EqualFold(fields[0], AuthorizationTypeBearer) {
			unauthorized(c, "invalid authorization header format")
			return
		}

		_, claims, err := m.authService.ValidateToken(fields[1])
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		sub, okSub := claims["sub"].(string)
		role, okRole := claims["role"].(string)
		email, _ := claims["email"].(string)
		userID, err := strconv.Atoi(sub)
		if !okSub || !okRole || err != nil || userID < 1 {
			unauthorized(c, "token carries no valid user")
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(UserRoleKey, role)
		c.Set(UserEmailKey, email)
		c.Next()
	}
}

// AuthorizeRole lets the request through only when the authenticated role is
// one of requiredRoles. It must run after Authenticate.
func (m *AuthMiddleware) AuthorizeRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(UserRoleKey)
		for _, reqRole := range requiredRoles {
			if role == reqRole {
				c.Next()
				return
			}
		}
		m.logger.Warn("role not authorized",
			slog.String("role", role),
			slog.Any("required", requiredRoles),
			slog.String("path", c.FullPath()),
		)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "insufficient role for this operation",
			"code":  domain.ErrorCode(domain.ErrForbidden),
		})
	}
}

// CurrentUser returns the id and admin flag Authenticate stored.
func CurrentUser(c *gin.Context) (int, bool) {
	return c.GetInt(UserIDKey), c.GetString(UserRoleKey) == domain.RoleAdmin
}
