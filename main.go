package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"parking_reservation/internal/api"
	"parking_reservation/internal/api/handler"
	"parking_reservation/internal/cache"
	"parking_reservation/internal/config"
	"parking_reservation/internal/iot"
	"parking_reservation/internal/mq"
	"parking_reservation/internal/repository"
	"parking_reservation/internal/repository/memory"
	"parking_reservation/internal/repository/postgresql"
	"parking_reservation/internal/service"
	"parking_reservation/internal/tracing"
	"parking_reservation/internal/worker"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsgo_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	}

	db, err := postgresql.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := postgresql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database connected", slog.String("driver", cfg.DBDriver), slog.String("host", cfg.DBHost))
	return postgresql.NewStore(db, cfg.TxMaxAttempts, logger), nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(rootCtx, logger, "parking-reservation", cfg.Environment)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	runBackground := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(bgCtx)
			logger.Info("background task stopped", slog.String("task", name))
		}()
	}
	var stopOnce sync.Once
	stopBackground := func() {
		stopOnce.Do(func() {
			cancelBackground()
			done := make(chan struct{})
			go func() {
				defer close(done)
				wg.Wait()
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				logger.Warn("background tasks did not stop in time")
			}
		})
	}
	// deferred after the store so workers stop before it closes
	defer stopBackground()

	// spot status sinks
	webSocketManager := handler.NewWebSocketManager(logger)
	runBackground("websocket", webSocketManager.Start)
	notifiers := service.Notifiers{webSocketManager}

	var availabilityCache service.AvailabilityCache
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Error("redis unavailable, lot listing is uncached", slog.String("error", err.Error()))
		} else {
			defer rdb.Close()
			c := cache.NewAvailability(rdb, cfg.AvailabilityCacheTTL, logger)
			availabilityCache = c
			notifiers = append(notifiers, c)
		}
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub, err := mq.Dial(rootCtx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("rabbitmq unavailable, reservation events are not published", slog.String("error", err.Error()))
		} else {
			// Run flushes the queue and closes the publisher when bgCtx ends
			runBackground("rabbitmq", pub.Run)
			events = pub
		}
	}

	var (
		lprService *service.LPRService
		sqsClient  *sqs.Client
	)

	if cfg.AWSEnabled() {
		awsSDKCfg, err := awsgo_config.LoadDefaultConfig(rootCtx, awsgo_config.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}

		if cfg.IoTMQTTEndpoint != "" {
			iotDataPlaneClient := iotdataplane.NewFromConfig(awsSDKCfg, func(o *iotdataplane.Options) {
				endpointWithSchema := cfg.IoTMQTTEndpoint
				if !strings.HasPrefix(endpointWithSchema, "https://") && !strings.HasPrefix(endpointWithSchema, "http://") {
					endpointWithSchema = "https://" + endpointWithSchema
				}
				o.BaseEndpoint = aws.String(endpointWithSchema)
			})
			signage := iot.NewSignage(iotDataPlaneClient, cfg.IoTTopicPrefix, logger)
			runBackground("signage", signage.Run)
			notifiers = append(notifiers, signage)
		}
		if cfg.LPREnabled {
			lprService = service.NewLPRService(rekognition.NewFromConfig(awsSDKCfg), logger)
		}
		if cfg.SQSAuditQueueURL != "" {
			sqsClient = sqs.NewFromConfig(awsSDKCfg)
		}
	}

	clock := service.SystemClock{}
	auditor := service.NewAuditor(store, clock, notifiers, logger)
	authService := service.NewAuthService(store.Users(), cfg.JWTSecret, cfg.JWTExpirationHours, clock, logger)
	parkingService := service.NewParkingService(store, availabilityCache, logger)
	reservationService := service.NewReservationService(store, clock, notifiers, events, logger)
	userService := service.NewUserService(store, logger)
	receipts := service.NewReceiptService(cfg.ReceiptSigningKey)

	if err := authService.EnsureAdmin(rootCtx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	runBackground("reconciler", worker.NewReconciler(auditor, logger, cfg.ReconcileInterval).Start)
	if sqsClient != nil {
		runBackground("sqs_consumer", iot.NewSQSConsumer(sqsClient, cfg, auditor, logger).Start)
	} else {
		logger.Info("SQS_AUDIT_QUEUE_URL not set, queue-triggered reconciliation disabled")
	}

	router := api.SetupRouter(api.Deps{
		AuthService:        authService,
		ParkingService:     parkingService,
		ReservationService: reservationService,
		UserService:        userService,
		Auditor:            auditor,
		LPRService:         lprService,
		Receipts:           receipts,
		WSManager:          webSocketManager,
		Store:              store,
		BookingRatePerMin:  cfg.BookingRatePerMinute,
		Logger:             logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           otelhttp.NewHandler(corsHandler.Handler(router), "parking-reservation"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-rootCtx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("listen: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", slog.String("error", err.Error()))
	}
	stopBackground()
	logger.Info("server stopped")
	return runErr
}
