package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"parking_reservation/internal/api/handler"
	"parking_reservation/internal/api/middleware"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/metrics"
	"parking_reservation/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	AuthService        *service.AuthService
	ParkingService     *service.ParkingService
	ReservationService *service.ReservationService
	UserService        *service.UserService
	Auditor            *service.Auditor
	LPRService         *service.LPRService
	Receipts           *service.ReceiptService
	WSManager          *handler.WebSocketManager
	Store              Pinger
	BookingRatePerMin  int
	Logger             *slog.Logger
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(d.Logger))
	r.Use(middleware.AccessLog(d.Logger))
	r.Use(metrics.GinMiddleware())

	authMw := middleware.NewAuthMiddleware(d.AuthService, d.Logger)
	admin := authMw.AuthorizeRole(domain.RoleAdmin)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if d.WSManager != nil {
		wsHandler := handler.NewWebSocketHandler(d.WSManager)
		r.GET("/ws", wsHandler.HandleWebSocket)
	}

	authHandler := handler.NewAuthHandler(d.AuthService, d.Logger)
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	lotH := handler.NewParkingLotHandler(d.ParkingService, d.ReservationService, d.Auditor, d.Logger)
	spotH := handler.NewParkingSpotHandler(d.ParkingService, d.ReservationService, d.Logger)
	resH := handler.NewReservationHandler(d.ReservationService, d.ParkingService, d.UserService, d.Receipts, d.Logger)
	userH := handler.NewUserHandler(d.UserService, d.ReservationService, d.Logger)
	bookingLimiter := middleware.NewRateLimiter(d.BookingRatePerMin)

	v1 := r.Group("/api/v1")
	v1.Use(authMw.Authenticate())
	{
		me := v1.Group("/me")
		{
			me.GET("", userH.GetProfile)
			me.PUT("", userH.UpdateProfile)
			me.GET("/reservations", userH.MyReservations)
			me.GET("/active-reservation", userH.ActiveReservation)
		}

		lotRoutes := v1.Group("/parking-lots")
		{
			lotRoutes.GET("", lotH.GetAllParkingLots)
			lotRoutes.GET("/:id", lotH.GetParkingLotByID)
			lotRoutes.GET("/:id/spots", spotH.GetSpotsByLotID)
			lotRoutes.GET("/:id/available-spots", lotH.AvailableSpots)
			lotRoutes.POST("/:id/reservations", bookingLimiter.Limit(), resH.Book)

			lotRoutes.POST("", admin, lotH.CreateParkingLot)
			lotRoutes.PUT("/:id", admin, lotH.UpdateParkingLot)
			lotRoutes.DELETE("/:id", admin, lotH.DeleteParkingLot)
			lotRoutes.POST("/:id/reconcile", admin, lotH.Reconcile)
			lotRoutes.GET("/:id/occupied-spots", admin, lotH.OccupiedSpots)
		}

		spotRoutes := v1.Group("/parking-spots")
		{
			spotRoutes.GET("/:id", spotH.GetParkingSpotByID)
			spotRoutes.POST("/:id/force-release", admin, spotH.ForceRelease)
		}

		resRoutes := v1.Group("/reservations")
		{
			resRoutes.GET("", admin, resH.Search)
			resRoutes.GET("/:id", resH.GetReservation)
			resRoutes.GET("/:id/receipt", resH.Receipt)
			resRoutes.POST("/:id/vacate", resH.Vacate)
			resRoutes.POST("/:id/force-release", admin, resH.ForceRelease)
		}

		userRoutes := v1.Group("/users")
		userRoutes.Use(admin)
		{
			userRoutes.GET("", userH.SearchUsers)
			userRoutes.DELETE("/:id", userH.DeleteUser)
		}

		lprH := handler.NewLPRHandler(d.LPRService, d.Logger)
		v1.POST("/lpr/plate", lprH.RecognizePlate)
	}
	return r
}
