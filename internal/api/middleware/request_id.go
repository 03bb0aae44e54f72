package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "requestID"
	loggerKey       = "logger"
)

// RequestID tags each request with an id, echoed in the response header and
// attached to a request-scoped logger.
func RequestID(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Set(loggerKey, base.With(slog.String("request_id", id)))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logger returns the request-scoped logger, or fallback outside RequestID.
func Logger(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := c.Get(loggerKey); ok {
		if logger, ok := l.(*slog.Logger); ok {
			return logger
		}
	}
	return fallback
}

// AccessLog writes one line per request once the handler chain returns.
func AccessLog(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		Logger(c, base).Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int("user_id", c.GetInt(UserIDKey)),
		)
	}
}
