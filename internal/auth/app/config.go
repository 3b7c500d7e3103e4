package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseFile string // Optional: path to SQLite database file (default: ./tillauth.db)
	PepperFile   string // Optional: path to the secret-hashing pepper (default: ./pepper)
	PolicyFile   string // Optional: YAML roles + bootstrap data; bootstrap is skipped when empty

	RedisAddr     string // Required: host:port of the TTL store
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string // Optional: key prefix (default: tillauth:)

	RPID   string // WebAuthn relying party id, e.g. till.example.com
	RPName string
	Origin string // Expected clientDataJSON origin; enforced only when Env is prod

	TokenPrefix     string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RotationGrace   time.Duration
	ChallengeTTL    time.Duration
	SessionTTL      time.Duration
	SessionMaxAge   time.Duration
	StoreTimeout    time.Duration
	AuditQueueSize  int
	MetricsRequired bool // Require an ops:metrics bearer token on /metrics

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // Ops HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

// LoadEnvFile loads variables from path without overriding ones already
// set. A missing default file is not an error.
func LoadEnvFile(path string, required bool) error {
	if err := godotenv.Load(path); err != nil {
		if !required && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func LoadConfig() Config {
	cfg := Config{
		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "tillauth.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		PolicyFile:   os.Getenv("AUTH_POLICY_FILE"),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),
		RedisPrefix:   getEnvOrDefault("REDIS_PREFIX", "tillauth:"),

		RPID:   getEnvOrDefault("WEBAUTHN_RP_ID", "localhost"),
		RPName: getEnvOrDefault("WEBAUTHN_RP_NAME", "Till"),
		Origin: getEnvOrDefault("WEBAUTHN_ORIGIN", "http://localhost:8080"),

		TokenPrefix:     getEnvOrDefault("AUTH_TOKEN_PREFIX", "till_"),
		AccessTTL:       time.Duration(getEnvIntOrDefault("AUTH_ACCESS_TTL_MINUTES", 60)) * time.Minute,
		RefreshTTL:      time.Duration(getEnvIntOrDefault("AUTH_REFRESH_TTL_DAYS", 30)) * 24 * time.Hour,
		RotationGrace:   time.Duration(getEnvIntOrDefault("AUTH_ROTATION_GRACE_SECONDS", 300)) * time.Second,
		ChallengeTTL:    time.Duration(getEnvIntOrDefault("AUTH_CHALLENGE_TTL_MINUTES", 5)) * time.Minute,
		SessionTTL:      getEnvDurationOrDefault("AUTH_SESSION_TTL", 30*24*time.Hour),
		SessionMaxAge:   getEnvDurationOrDefault("AUTH_SESSION_MAX_LIFETIME", 180*24*time.Hour),
		StoreTimeout:    getEnvDurationOrDefault("AUTH_STORE_TIMEOUT", 3*time.Second),
		AuditQueueSize:  getEnvIntOrDefault("AUDIT_QUEUE_SIZE", 1024),
		MetricsRequired: getEnvBoolOrDefault("METRICS_REQUIRE_TOKEN", false),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

// Production reports whether strict checks such as WebAuthn origin
// matching apply.
func (c Config) Production() bool {
	return c.Env == "prod" || c.Env == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
