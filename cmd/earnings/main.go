package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthhub/telehealth-billing/internal/config"
	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

// earnings is the operational override for the maturation sweep: it promotes
// pending earnings to the available balance on demand instead of waiting for
// the worker's next tick.
func main() {
	processAll := flag.Bool("process-all", false, "ignore available_at and mature every pending earning")
	dryRun := flag.Bool("dry-run", false, "list the entries that would be processed without touching them")
	verbose := flag.Bool("verbose", false, "log every candidate entry")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "earnings").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	txr := db.NewPgTxRunner(pgPool)
	repo := wallet.NewPgRepository(pgPool)
	wallets := wallet.NewService(repo, txr, cfg.EarningHold, cfg.Currency, logger)

	now := time.Now()

	entries, err := repo.FindPendingEarnings(ctx, now, *processAll)
	if err != nil {
		logger.Fatal().Err(err).Msg("list pending earnings")
	}

	if *verbose || *dryRun {
		for _, e := range entries {
			logger.Info().
				Str("entry_id", e.ID.String()).
				Str("wallet_id", e.WalletID.String()).
				Str("amount", e.Amount.String()).
				Interface("available_at", e.AvailableAt).
				Msg("maturation candidate")
		}
	}

	if *dryRun {
		logger.Info().Int("candidates", len(entries)).Msg("dry run, nothing processed")
		return
	}

	processed, err := wallets.MaturationSweep(ctx, now, *processAll)
	if err != nil {
		logger.Fatal().Err(err).Msg("maturation sweep failed")
	}

	logger.Info().
		Int("candidates", len(entries)).
		Int("processed", processed).
		Bool("process_all", *processAll).
		Msg("maturation sweep complete")
}
