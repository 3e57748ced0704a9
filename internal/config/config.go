package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe  StripeConfig
	Billing BillingConfig

	RateLimit RateLimitConfig
}

// StripeConfig carries provider credentials and connected-account routing.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	// DestinationAccounts maps a payee country code to the connected
	// account charges for that corridor settle into.
	DestinationAccounts map[string]string
	DefaultDestination  string
}

// BillingConfig carries the capture/arrears policy knobs. Everything here is
// overridable from the environment without a code change.
type BillingConfig struct {
	MaxCaptureAttempts      int
	ArrearsGraceHours       int
	ArrearsDisableThreshold int64
	ReviewWindowHours       int
	SweepInterval           time.Duration
	SweepBatchSize          int
	WebhookPollInterval     time.Duration
	WebhookBatchSize        int
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WebhookRate   float64
	WebhookBurst  int
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AppName:     getenv("APP_SERVICE", "paygate"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paygate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		Stripe: StripeConfig{
			APIKey:              strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
			WebhookSecret:       strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			DestinationAccounts: parseDestinations(getenv("STRIPE_DESTINATION_ACCOUNTS", "")),
			DefaultDestination:  strings.TrimSpace(getenv("STRIPE_DEFAULT_DESTINATION", "")),
		},
		Billing: BillingConfig{
			MaxCaptureAttempts:      getenvInt("MAX_CAPTURE_ATTEMPTS", 3),
			ArrearsGraceHours:       getenvInt("ARREARS_GRACE_HOURS", 72),
			ArrearsDisableThreshold: getenvInt64("ARREARS_DISABLE_THRESHOLD", 50000),
			ReviewWindowHours:       getenvInt("REVIEW_WINDOW_HOURS", 72),
			SweepInterval:           getenvDuration("SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:          getenvInt("SWEEP_BATCH_SIZE", 50),
			WebhookPollInterval:     getenvDuration("WEBHOOK_POLL_INTERVAL", 2*time.Second),
			WebhookBatchSize:        getenvInt("WEBHOOK_BATCH_SIZE", 20),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			WebhookRate:   getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 50),
			WebhookBurst:  getenvInt("RATE_LIMIT_WEBHOOK_BURST", 100),
		},
	}
}

// parseDestinations parses "JP=acct_xxx,US=acct_yyy" style pairs.
func parseDestinations(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		country := strings.ToUpper(strings.TrimSpace(parts[0]))
		account := strings.TrimSpace(parts[1])
		if country == "" || account == "" {
			continue
		}
		out[country] = account
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
