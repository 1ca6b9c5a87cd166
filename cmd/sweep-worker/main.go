package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthhub/telehealth-billing/internal/appointment"
	"github.com/healthhub/telehealth-billing/internal/billing"
	"github.com/healthhub/telehealth-billing/internal/config"
	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/organization"
	redisclient "github.com/healthhub/telehealth-billing/internal/redis"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

// sweep-worker runs the two periodic jobs: the status sweep that conducts
// appointments whose window elapsed, and the maturation sweep that releases
// pending earnings whose hold expired.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "sweep-worker").Logger()
	logger.Info().Msg("sweep-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Dur("status_interval", cfg.StatusSweepInterval).
		Dur("maturation_interval", cfg.MaturationSweepInterval).
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

	// Run both once at startup so a restarted worker catches up immediately.
	runStatusSweep(rootCtx, appts, logger)
	runMaturationSweep(rootCtx, wallets, logger)

	statusTicker := time.NewTicker(cfg.StatusSweepInterval)
	defer statusTicker.Stop()

	maturationTicker := time.NewTicker(cfg.MaturationSweepInterval)
	defer maturationTicker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping sweep worker")
			return
		case <-statusTicker.C:
			runStatusSweep(rootCtx, appts, logger)
		case <-maturationTicker.C:
			runMaturationSweep(rootCtx, wallets, logger)
		}
	}
}

func runStatusSweep(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	n, err := svc.StatusSweep(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("status sweep error")
		return
	}
	logger.Info().
		Int("updated", n).
		Dur("took", time.Since(start)).
		Msg("status sweep complete")
}

func runMaturationSweep(ctx context.Context, svc *wallet.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	n, err := svc.MaturationSweep(runCtx, time.Now(), false)
	if err != nil {
		logger.Error().Err(err).Msg("maturation sweep error")
		return
	}
	logger.Info().
		Int("processed", n).
		Dur("took", time.Since(start)).
		Msg("maturation sweep complete")
}
