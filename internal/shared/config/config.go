package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	EventStore    EventStoreConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Engine        EngineConfig
	LegacyBilling LegacyBillingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for the EventStoreDB audit sink.
type EventStoreConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

// RedisConfig holds configuration for the reporting aggregate cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// TTL bounds how stale a cached dashboard aggregate can be.
	TTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// EngineConfig holds the commission engine tuning knobs.
type EngineConfig struct {
	// SerializableRetries bounds retries of a serializable unit of work on
	// serialization failure before the operation is surfaced as transient.
	SerializableRetries int
	RetryBackoff        time.Duration
	// HoldCheckInterval is how often matured PENDING commissions are promoted.
	HoldCheckInterval time.Duration
	// SuppressionFloor is the minimum conversion count a reporting slice needs
	// before exact figures are shown.
	SuppressionFloor int
	TouchRateRPS     int
	TouchRateBurst   int
}

// LegacyBillingConfig configures the legacy practice-management billing poller.
type LegacyBillingConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	Encrypt      bool
	PaymentTable string
	TenantID     string
	PollInterval time.Duration
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "platform"),
			Password: getEnv("DB_PASSWORD", "platform"),
			Database: getEnv("DB_NAME", "platform"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_REPORT_TTL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", "clinicaffil"),
		},
		Engine: EngineConfig{
			SerializableRetries: getEnvInt("ENGINE_SERIALIZABLE_RETRIES", 3),
			RetryBackoff:        getEnvDuration("ENGINE_RETRY_BACKOFF", 50*time.Millisecond),
			HoldCheckInterval:   getEnvDuration("ENGINE_HOLD_CHECK_INTERVAL", time.Minute),
			SuppressionFloor:    getEnvInt("REPORT_SUPPRESSION_FLOOR", 5),
			TouchRateRPS:        getEnvInt("TOUCH_RATE_RPS", 20),
			TouchRateBurst:      getEnvInt("TOUCH_RATE_BURST", 40),
		},
		LegacyBilling: LegacyBillingConfig{
			Enabled:      getEnvBool("LEGACY_BILLING_ENABLED", false),
			Host:         getEnv("LEGACY_BILLING_HOST", "localhost"),
			Port:         getEnvInt("LEGACY_BILLING_PORT", 1433),
			Database:     getEnv("LEGACY_BILLING_DB", "billing"),
			User:         getEnv("LEGACY_BILLING_USER", ""),
			Password:     getEnv("LEGACY_BILLING_PASSWORD", ""),
			Encrypt:      getEnvBool("LEGACY_BILLING_ENCRYPT", false),
			PaymentTable: getEnv("LEGACY_BILLING_PAYMENT_TABLE", "dbo.SettledPayments"),
			TenantID:     getEnv("LEGACY_BILLING_TENANT_ID", ""),
			PollInterval: getEnvDuration("LEGACY_BILLING_POLL_INTERVAL", 30*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
