package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "BrightBiteWallet"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	// defaultMaxTransaction is the single-transaction ceiling: PHP 50,000 in centavos.
	defaultMaxTransaction int64 = 5_000_000
	// defaultMinTopUp is the smallest accepted top-up: PHP 50 in centavos.
	defaultMinTopUp int64 = 5_000
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	SandboxMode    bool
	SandboxPIN     string
	MaxTransaction int64
	MinTopUp       int64
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		SandboxPIN:     os.Getenv("SANDBOX_PIN"),
		MaxTransaction: defaultMaxTransaction,
		MinTopUp:       defaultMinTopUp,
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
	}

	if v := os.Getenv("SANDBOX_MODE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SANDBOX_MODE: %w", err)
		}
		cfg.SandboxMode = enabled
	}

	if v := os.Getenv("MAX_TRANSACTION_CENTAVOS"); v != "" {
		ceiling, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ceiling <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_TRANSACTION_CENTAVOS: %q", v)
		}
		cfg.MaxTransaction = ceiling
	}

	if v := os.Getenv("MIN_TOPUP_CENTAVOS"); v != "" {
		minimum, err := strconv.ParseInt(v, 10, 64)
		if err != nil || minimum <= 0 {
			return Config{}, fmt.Errorf("invalid MIN_TOPUP_CENTAVOS: %q", v)
		}
		cfg.MinTopUp = minimum
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
		}
		cfg.IdempotencyTTL = d
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "dev-secret"
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.SandboxMode && cfg.SandboxPIN == "" {
		return Config{}, fmt.Errorf("SANDBOX_PIN must be set when SANDBOX_MODE is enabled")
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
