package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/healthhub/telehealth-billing/internal/appointment"
	"github.com/healthhub/telehealth-billing/internal/billing"
	"github.com/healthhub/telehealth-billing/internal/config"
	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/organization"
	"github.com/healthhub/telehealth-billing/internal/user"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

const (
	doctorCount       = 40
	translatorCount   = 15
	patientCount      = 500
	organizationCount = 6
	appointmentCount  = 200
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	txr := db.NewPgTxRunner(pool)
	walletRepo := wallet.NewPgRepository(pool)
	orgRepo := organization.NewPgRepository(pool)
	userRepo := user.NewPgRepository(pool)
	billingRepo := billing.NewPgRepository(pool)
	apptRepo := appointment.NewPgRepository(pool)

	wallets := wallet.NewService(walletRepo, txr, cfg.EarningHold, cfg.Currency, logger)
	orgs := organization.NewService(orgRepo, txr, wallets)
	users := user.NewService(userRepo, walletRepo, orgRepo, txr, cfg.Currency)

	doctors, err := seedProviders(ctx, users, billingRepo, user.RoleDoctor, doctorCount, 40, 120, cfg.Currency, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}

	translators, err := seedProviders(ctx, users, billingRepo, user.RoleTranslator, translatorCount, 15, 40, cfg.Currency, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed translators")
	}

	patients, err := seedPatients(ctx, users, patientCount, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	if err := seedOrganizations(ctx, users, orgs, organizationCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed organizations")
	}

	if err := seedAppointments(ctx, apptRepo, patients, doctors, translators, appointmentCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedProviders(ctx context.Context, users *user.Service, fees *billing.PgRepository, role user.Role, count int, minRate, maxRate int, currency string, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Str("role", string(role)).Msg("seeding providers")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		u, err := users.Provision(ctx, role, gofakeit.Name(), fmt.Sprintf("%s-%d@%s", role, i, gofakeit.DomainName()))
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)

		// A per-minute base rate scaled by duration, rounded to cents.
		base := decimal.NewFromInt(int64(gofakeit.Number(minRate, maxRate)))
		for _, d := range appointment.AllowedDurations {
			amount := base.Mul(decimal.NewFromInt(int64(d))).Div(decimal.NewFromInt(60)).Round(2)
			fee := &billing.ServiceFee{
				UserID:          u.ID,
				DurationMinutes: d,
				Amount:          amount,
				Currency:        currency,
				Active:          true,
			}
			if err := fees.UpsertServiceFee(ctx, fee); err != nil {
				return nil, err
			}
		}
	}

	return ids, nil
}

func seedPatients(ctx context.Context, users *user.Service, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		u, err := users.Provision(ctx, user.RolePatient, gofakeit.Name(), fmt.Sprintf("patient-%d@%s", i, gofakeit.DomainName()))
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}

	return ids, nil
}

func seedOrganizations(ctx context.Context, users *user.Service, orgs *organization.Service, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding organizations")

	for i := 0; i < count; i++ {
		name := gofakeit.Company()
		u, err := users.Provision(ctx, user.RoleOrganization, name, fmt.Sprintf("org-%d@%s", i, gofakeit.DomainName()))
		if err != nil {
			return err
		}

		// Locate the profile created alongside the user.
		profileID, err := findProfileID(ctx, orgs, u.ID)
		if err != nil {
			return err
		}

		credits := decimal.NewFromInt(int64(gofakeit.Number(5_000, 50_000)))
		if _, err := orgs.AddCredits(ctx, profileID, credits, organization.CreditPurchase, "", "Initial credit purchase", nil); err != nil {
			return err
		}
	}

	return nil
}

func findProfileID(ctx context.Context, orgs *organization.Service, userID uuid.UUID) (uuid.UUID, error) {
	p, err := orgs.GetByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func seedAppointments(ctx context.Context, repo *appointment.PgRepository, patients, doctors, translators []uuid.UUID, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding appointments")

	durations := appointment.AllowedDurations

	for i := 0; i < count; i++ {
		translatorRequired := gofakeit.Number(0, 3) == 0

		appt := &appointment.Appointment{
			PatientID:          patients[gofakeit.Number(0, len(patients)-1)],
			DoctorID:           doctors[gofakeit.Number(0, len(doctors)-1)],
			TranslatorRequired: translatorRequired,
			Status:             appointment.StatusConfirmed,
			ScheduledStart:     time.Now().Add(time.Duration(gofakeit.Number(-30, 7*24*60)) * time.Minute),
			DurationMinutes:    durations[gofakeit.Number(0, len(durations)-1)],
		}
		if translatorRequired {
			tid := translators[gofakeit.Number(0, len(translators)-1)]
			appt.TranslatorID = &tid
		}

		if err := repo.Create(ctx, appt); err != nil {
			return err
		}
	}

	return nil
}
