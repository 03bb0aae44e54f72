package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Environment string
	ServerPort  string
	LogLevel    string

	StoreDriver       string // "postgres" or "memory"
	DBDriver          string // database/sql driver name: "pgx" or "postgres" (lib/pq)
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSslMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	TxMaxAttempts     int

	JWTSecret          string
	JWTExpirationHours time.Duration

	CORSAllowedOrigins   []string
	BookingRatePerMinute int
	ReconcileInterval    time.Duration
	RedisURL             string
	AvailabilityCacheTTL time.Duration
	AMQPURL              string
	AMQPExchange         string
	ReceiptSigningKey    string
	AdminEmail           string
	AdminPassword        string

	AWSRegion        string
	SQSAuditQueueURL string
	IoTMQTTEndpoint  string
	IoTTopicPrefix   string
	LPREnabled       bool
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", slog.String("error", err.Error()))
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver:       getEnv("STORE_DRIVER", StoreDriverPostgres),
		DBDriver:          getEnv("DB_DRIVER", "pgx"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "parking"),
		DBPassword:        getEnv("DB_PASSWORD", "parking"),
		DBName:            getEnv("DB_NAME", "parking_db"),
		DBSslMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		TxMaxAttempts:     getEnvInt("TX_MAX_ATTEMPTS", 3),

		JWTSecret:          getEnv("JWT_SECRET", "change-me-parking-jwt-secret"),
		JWTExpirationHours: time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,

		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		BookingRatePerMinute: getEnvInt("BOOKING_RATE_PER_MINUTE", 10),
		ReconcileInterval:    time.Duration(getEnvInt("RECONCILE_INTERVAL_MINUTES", 10)) * time.Minute,
		RedisURL:             getEnv("REDIS_URL", ""),
		AvailabilityCacheTTL: time.Duration(getEnvInt("AVAILABILITY_CACHE_TTL_SECONDS", 30)) * time.Second,
		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "parking.events"),
		ReceiptSigningKey:    getEnv("RECEIPT_SIGNING_KEY", "change-me-receipt-key"),
		AdminEmail:           getEnv("ADMIN_EMAIL", ""),
		AdminPassword:        getEnv("ADMIN_PASSWORD", ""),

		AWSRegion:        getEnv("AWS_REGION", "ap-south-1"),
		SQSAuditQueueURL: getEnv("SQS_AUDIT_QUEUE_URL", ""),
		IoTMQTTEndpoint:  getEnv("IOT_MQTT_ENDPOINT", ""),
		IoTTopicPrefix:   getEnv("IOT_TOPIC_PREFIX", "parking/lots"),
		LPREnabled:       getEnvBool("LPR_ENABLED", false),
	}
}

// AWSEnabled reports whether any AWS-backed integration is configured.
func (c *Config) AWSEnabled() bool {
	return c.SQSAuditQueueURL != "" || c.IoTMQTTEndpoint != "" || c.LPREnabled
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	slog.Debug("environment variable not set, using default", slog.String("key", key), slog.String("default", fallback))
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, strconv.Itoa(fallback))
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("invalid integer in environment, using default",
			slog.String("key", key), slog.String("value", raw), slog.Int("default", fallback))
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := getEnv(key, strconv.FormatBool(fallback))
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
