package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduler/internal/config"
	"github.com/clinicore/scheduler/internal/domain/clinic"
	"github.com/clinicore/scheduler/internal/domain/scheduling"
	"github.com/clinicore/scheduler/internal/platform/auth"
	"github.com/clinicore/scheduler/internal/platform/db"
	"github.com/clinicore/scheduler/internal/platform/extcal"
	"github.com/clinicore/scheduler/internal/platform/lock"
	"github.com/clinicore/scheduler/internal/platform/middleware"
)

const version = "0.1.0"

// app holds the wired components shared by the server and the CLI.
type app struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	rules    *clinic.RuleProvider
	store    scheduling.Store
	detector *scheduling.ConflictDetector
	slots    *scheduling.SlotFinder
	booking  *scheduling.BookingCoordinator
	calCache *extcal.Cached
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// fixtureFile seeds the memory store driver.
type fixtureFile struct {
	Clinics map[string]json.RawMessage `json:"clinics"`
	Events  map[string][]extcal.Event  `json:"events"`
}

func loadFixtures(path string, src *clinic.MemorySource, cal *extcal.Static) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	var f fixtureFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for key, settings := range f.Clinics {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("fixtures: invalid clinic id %q", key)
		}
		src.PutRaw(id, settings)
	}
	for key, events := range f.Events {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("fixtures: invalid professional id %q", key)
		}
		cal.Add(id, events...)
	}
	return nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, fixtures string) (*app, error) {
	a := &app{}
	var src clinic.ConfigSource
	var static *extcal.Static

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		src = clinic.NewConfigSourcePG(pool)
		a.store = scheduling.NewStorePG(pool)
		logger.Info().Msg("connected to database")
	case config.DriverMemory:
		mem := clinic.NewMemorySource()
		static = extcal.NewStatic()
		if fixtures != "" {
			if err := loadFixtures(fixtures, mem, static); err != nil {
				return nil, err
			}
		}
		src = mem
		a.store = scheduling.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable at startup")
		}
	}

	var calendar, commitCalendar scheduling.ExternalCalendar
	switch {
	case cfg.CalendarURL != "":
		feed := extcal.NewHTTPFeed(cfg.CalendarURL, cfg.CalendarTimeout, logger)
		calendar = scheduling.NewExternalCalendar(feed)
		if a.redis != nil && cfg.CalendarCacheTTL > 0 {
			// Slot searches read through the cache; commits always hit the feed.
			a.calCache = extcal.NewCached(feed, a.redis, cfg.CalendarCacheTTL, logger)
			commitCalendar = calendar
			calendar = scheduling.NewExternalCalendar(a.calCache)
		}
	case static != nil:
		calendar = scheduling.NewExternalCalendar(static)
	}

	a.rules = clinic.NewRuleProvider(src, logger)
	a.detector = scheduling.NewConflictDetector(a.rules, a.store, calendar, logger)
	a.slots = scheduling.NewSlotFinder(a.rules, a.detector, logger)

	var opts []scheduling.BookingOption
	if commitCalendar != nil {
		opts = append(opts, scheduling.WithCommitCalendar(commitCalendar))
	}
	switch {
	case cfg.UseRedisLock() && a.redis != nil:
		opts = append(opts, scheduling.WithLocker(lock.NewRedis(a.redis, cfg.LockTTL, logger)))
	case cfg.BookingLock == config.LockLocal:
		opts = append(opts, scheduling.WithLocker(lock.NewKeyed()))
	case cfg.BookingLock == config.LockNone:
		opts = append(opts, scheduling.WithLocker(lock.Noop{}))
	}
	a.booking = scheduling.NewBookingCoordinator(a.rules, a.store, a.detector, logger, opts...)
	return a, nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() && cfg.AuthJWTSecret == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthJWTSecret),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if a.pool != nil {
		e.GET("/health/db", db.PoolHealthHandler(a.pool))
	}

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	api := e.Group("/api/v1", middleware.RateLimit(rl), auth.RequireClinicAccess())
	clinic.NewHandler(a.rules).RegisterRoutes(api)
	scheduling.NewHandler(a.slots, a.detector, a.booking).RegisterRoutes(api)
	if a.calCache != nil {
		extcal.NewHandler(a.calCache, logger).RegisterRoutes(api)
	}
	return e
}
