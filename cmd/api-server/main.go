package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthhub/telehealth-billing/internal/api"
	"github.com/healthhub/telehealth-billing/internal/appointment"
	"github.com/healthhub/telehealth-billing/internal/billing"
	"github.com/healthhub/telehealth-billing/internal/config"
	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/organization"
	redisclient "github.com/healthhub/telehealth-billing/internal/redis"
	"github.com/healthhub/telehealth-billing/internal/user"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

const version = "0.3.0"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	logger.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.Connect(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	txr := db.NewPgTxRunner(pgPool)
	locker := redisclient.NewRedisBillingLocker(rdb, cfg.LockTTL)

	walletRepo := wallet.NewPgRepository(pgPool)
	wallets := wallet.NewService(walletRepo, txr, cfg.EarningHold, cfg.Currency, logger)

	orgRepo := organization.NewPgRepository(pgPool)
	orgs := organization.NewService(orgRepo, txr, wallets)

	billingRepo := billing.NewPgRepository(pgPool)
	calc := billing.NewFeeCalculator(billingRepo, cfg.PlatformFeePercent)
	billings := billing.NewService(billingRepo, calc, orgs, wallets, txr, locker, cfg.Currency, logger)

	apptRepo := appointment.NewPgRepository(pgPool)
	appts := appointment.NewService(apptRepo, billings, cfg, logger)

	userRepo := user.NewPgRepository(pgPool)
	users := user.NewService(userRepo, walletRepo, orgRepo, txr, cfg.Currency)

	router := api.NewRouter(api.RouterConfig{
		Appointments:  appts,
		Billing:       billings,
		Wallets:       wallets,
		Organizations: orgs,
		Users:         users,
		PgPool:        pgPool,
		Redis:         rdb,
		Logger:        logger,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}
