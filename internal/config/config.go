package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Booking lock modes. "auto" picks redis when REDIS_URL is set and the store
// does not isolate bookings on its own, the in-process lock otherwise.
const (
	LockAuto  = "auto"
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Port          string        `mapstructure:"PORT"`
	Env           string        `mapstructure:"ENV"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	StoreDriver   string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL      string        `mapstructure:"REDIS_URL"`
	BookingLock   string        `mapstructure:"BOOKING_LOCK"`
	LockTTL       time.Duration `mapstructure:"BOOKING_LOCK_TTL"`

	CalendarURL      string        `mapstructure:"EXTERNAL_CALENDAR_URL"`
	CalendarTimeout  time.Duration `mapstructure:"EXTERNAL_CALENDAR_TIMEOUT"`
	CalendarCacheTTL time.Duration `mapstructure:"EXTERNAL_CALENDAR_CACHE_TTL"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "REDIS_URL", "BOOKING_LOCK", "BOOKING_LOCK_TTL",
	"EXTERNAL_CALENDAR_URL", "EXTERNAL_CALENDAR_TIMEOUT", "EXTERNAL_CALENDAR_CACHE_TTL",
	"REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ORIGINS",
	"AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

// Load reads the configuration from the environment and an optional .env
// file, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("BOOKING_LOCK", LockAuto)
	v.SetDefault("BOOKING_LOCK_TTL", "10s")
	v.SetDefault("EXTERNAL_CALENDAR_TIMEOUT", "3s")
	v.SetDefault("EXTERNAL_CALENDAR_CACHE_TTL", "60s")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.BookingLock = strings.ToLower(strings.TrimSpace(cfg.BookingLock))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects inconsistent combinations before anything is started.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q is not allowed in production", DriverMemory)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}

	switch c.BookingLock {
	case LockAuto, LockNone, LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BOOKING_LOCK is %q", LockRedis)
		}
	default:
		return fmt.Errorf("BOOKING_LOCK must be one of auto, none, local, redis, got %q", c.BookingLock)
	}
	if c.BookingLock == LockNone && c.StoreDriver == DriverMemory {
		return fmt.Errorf("BOOKING_LOCK %q requires STORE_DRIVER %q", LockNone, DriverPostgres)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("BOOKING_LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.CalendarURL != "" && c.CalendarTimeout <= 0 {
		return fmt.Errorf("EXTERNAL_CALENDAR_TIMEOUT must be positive when EXTERNAL_CALENDAR_URL is set")
	}
	if c.IsProduction() && c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	return nil
}

// UseRedisLock reports whether bookings should be serialized through Redis.
func (c *Config) UseRedisLock() bool {
	switch c.BookingLock {
	case LockRedis:
		return true
	case LockAuto:
		return c.RedisURL != "" && c.StoreDriver != DriverPostgres
	}
	return false
}
