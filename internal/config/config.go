// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/scheduler.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Push backends
// --------------------------------------------------------------------------

// Valid values for PUSH_BACKEND. "log" writes every send to the logger and is
// the default for development and tests; "fcm" is the real push channel.
const (
	PushBackendLog = "log"
	PushBackendFCM = "fcm"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Scheduler
	SchedulerInterval time.Duration
	SchedulerWorkers  int
	TripTimeout       time.Duration

	// Delivery
	PushBackend        string
	FCMCredentialsFile string
	SMTPAddr           string
	SMTPFrom           string
}

// Load reads configuration from environment variables with sensible defaults.
// Misconfiguration that would silently disable safety alerting (no database,
// unknown push backend) is rejected here rather than discovered at pass time.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	pushBackend := envOr("PUSH_BACKEND", PushBackendLog)
	switch pushBackend {
	case PushBackendLog, PushBackendFCM:
	default:
		return nil, fmt.Errorf("unknown PUSH_BACKEND %q (want %q or %q)",
			pushBackend, PushBackendLog, PushBackendFCM)
	}
	if pushBackend == PushBackendFCM && envOr("FIREBASE_CREDENTIALS_FILE", "") == "" {
		return nil, fmt.Errorf("PUSH_BACKEND=fcm requires FIREBASE_CREDENTIALS_FILE")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		SchedulerInterval: time.Duration(envInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
		SchedulerWorkers:  envInt("SCHEDULER_WORKERS", 4),
		TripTimeout:       time.Duration(envInt("SCHEDULER_TRIP_TIMEOUT_SECONDS", 30)) * time.Second,

		PushBackend:        pushBackend,
		FCMCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),
		SMTPAddr:           envOr("SMTP_ADDR", ""),
		SMTPFrom:           envOr("SMTP_FROM", "alerts@tripwatch.app"),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
