package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/ledger/internal/config"
	"github.com/clinic/ledger/internal/domain/appointment"
	"github.com/clinic/ledger/internal/domain/audit"
	"github.com/clinic/ledger/internal/domain/billingcode"
	"github.com/clinic/ledger/internal/domain/invoice"
	"github.com/clinic/ledger/internal/domain/payment"
	"github.com/clinic/ledger/internal/platform/auth"
	"github.com/clinic/ledger/internal/platform/db"
	"github.com/clinic/ledger/internal/platform/middleware"
	"github.com/clinic/ledger/internal/platform/render"
	"github.com/clinic/ledger/internal/platform/writerlock"
)

const (
	version    = "0.1.0"
	clinicName = "Clinic"
	authIssuer = "clinic-ledger"
)

// app holds the wired ledger components.
type app struct {
	codes        *billingcode.Service
	invoices     *invoice.Service
	payments     *payment.Service
	tracker      *appointment.Tracker
	converter    *appointment.Converter
	healthChecks []db.Check
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	tx := db.NewTxRunner(pool, cfg.TxTimeout)
	trail := audit.NewTrail(audit.NewStorePG(pool), logger)
	taxRate := cfg.TaxRateDecimal()

	codes := billingcode.NewService(billingcode.NewRepoPG(pool), tx, trail, taxRate)

	numbers, err := invoice.NewNumberGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("invoice numbers: %w", err)
	}
	host := invoice.NewHostDirectoryPG(pool)
	invoices := invoice.NewService(invoice.NewRepoPG(pool), codes, tx, trail, numbers, taxRate, logger)
	invoices.SetPatientDirectory(host)
	invoices.SetExpenseSource(host)
	invoices.SetRenderer(render.NewWorkbook(clinicName))

	payments := payment.NewService(payment.NewRepoPG(pool), invoices, tx, trail, logger)

	items := appointment.NewRepoPG(pool)
	appts := appointment.NewDirectoryPG(pool)
	tracker := appointment.NewTracker(items, appts, codes, tx, trail)
	converter := appointment.NewConverter(items, appts, codes, invoices, tx, trail, cfg.PaymentTermsDays, logger)

	return &app{
		codes:     codes,
		invoices:  invoices,
		payments:  payments,
		tracker:   tracker,
		converter: converter,
	}, nil
}

// acquireLease takes the writer lease when REDIS_URL is set. Without Redis
// the process-wide writer mutex is the only write guard.
func acquireLease(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*writerlock.Lease, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, running without a writer lease")
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	lease, err := writerlock.Acquire(ctx, redis.NewClient(opts), cfg.WriterLockKey, cfg.WriterLockTTL, logger)
	if errors.Is(err, writerlock.ErrHeld) {
		return nil, fmt.Errorf("another ledger process is the writer (%s): %w", cfg.WriterLockKey, err)
	}
	if err != nil {
		return nil, err
	}
	logger.Info().Str("key", cfg.WriterLockKey).Msg("writer lease acquired")
	return lease, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSecret == "" {
		return auth.DevAuthMiddleware(auth.AuthSkipper)
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     authIssuer,
		SigningKey: []byte(cfg.AuthSecret),
		Skipper:    auth.AuthSkipper,
	})
}

func newServer(cfg *config.Config, a *app, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, payment.IdempotencyKeyHeader, auth.ActorHeader},
		ExposeHeaders: []string{"Content-Disposition", middleware.RequestIDHeader},
	}))
	e.Use(authMiddleware(cfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, a.healthChecks...))

	api := e.Group("/api/v1")
	billingcode.NewHandler(a.codes).RegisterRoutes(api)
	invoice.NewHandler(a.invoices).RegisterRoutes(api)
	payment.NewHandler(a.payments).RegisterRoutes(api)
	appointment.NewHandler(a.tracker, a.converter).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.TxTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := buildApp(cfg, pool, logger)
	if err != nil {
		return err
	}

	lease, err := acquireLease(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if lease != nil {
		a.healthChecks = append(a.healthChecks, lease.Check)
		defer lease.Release(context.Background())
		leaseCtx, release := holdLease(ctx, lease, logger)
		defer release()
		go func() {
			<-leaseCtx.Done()
			// Another process may write once the lease is gone.
			if leaseLost(leaseCtx) != nil {
				stop()
			}
		}()
	}

	e := newServer(cfg, a, pool, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
