package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/obhistory/internal/config"
	"github.com/ehr/obhistory/internal/domain/obstetrics"
	"github.com/ehr/obhistory/internal/platform/auth"
	"github.com/ehr/obhistory/internal/platform/db"
	"github.com/ehr/obhistory/internal/platform/middleware"
	"github.com/ehr/obhistory/internal/platform/settings"
	"github.com/ehr/obhistory/internal/platform/telemetry"
	"github.com/ehr/obhistory/internal/platform/validation"
	"github.com/ehr/obhistory/migrations"
)

// backend bundles the record store implementation selected by STORE_BACKEND.
type backend struct {
	cases   obstetrics.CaseRepository
	records obstetrics.PregnancyRecordRepository
	locker  obstetrics.CaseLocker
	pool    *pgxpool.Pool
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func memoryBackend() *backend {
	return &backend{
		cases:   obstetrics.NewCaseRepoMemory(),
		records: obstetrics.NewRecordRepoMemory(),
		locker:  obstetrics.NewMemoryCaseLocker(),
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn().Msg("using in-memory record store; data is lost on restart")
		return memoryBackend(), nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("schema", cfg.DBSchema).Int("applied", count).Msg("connected to database")

	return &backend{
		cases:   obstetrics.NewCaseRepoPG(pool),
		records: obstetrics.NewRecordRepoPG(pool),
		locker:  obstetrics.NewCaseLockerPG(pool),
		pool:    pool,
	}, nil
}

func openSettingsStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (settings.Store, func(), error) {
	if cfg.RedisURL == "" {
		return settings.NewMemoryStore(), func() {}, nil
	}
	client, err := settings.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to redis settings store")
	return settings.NewRedisStore(client), func() { client.Close() }, nil
}

type serverDeps struct {
	cfg       *config.Config
	logger    zerolog.Logger
	backend   *backend
	settings  settings.Store
	telemetry *telemetry.Provider
	now       func() time.Time
}

// newServer assembles the echo instance: global middleware, health and
// metrics endpoints, and the versioned API.
func newServer(d serverDeps) *echo.Echo {
	cfg := d.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(d.telemetry.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if d.backend.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.backend.pool))
		d.telemetry.RegisterPool(d.backend.pool)
	}
	e.GET("/metrics", d.telemetry.Handler())

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg), authMW)

	opts := []obstetrics.Option{
		obstetrics.WithLogger(d.logger.With().Str("component", "obstetrics").Logger()),
		obstetrics.WithRecorder(d.telemetry.Recorder()),
		obstetrics.WithGTPALOptions(obstetrics.GTPALOptions{MissingWeeksAsZero: cfg.GTPALMissingWeeksAsZero}),
	}
	if d.now != nil {
		opts = append(opts, obstetrics.WithClock(d.now))
	}
	svc := obstetrics.NewService(d.backend.cases, d.backend.records, d.backend.locker, opts...)
	obstetrics.NewHandler(svc).RegisterRoutes(apiV1)

	settings.NewHandler(settings.NewHistorySectionService(d.settings)).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	store, closeStore, err := openSettingsStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	e := newServer(serverDeps{
		cfg:       cfg,
		logger:    logger,
		backend:   be,
		settings:  store,
		telemetry: metrics,
	})

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
