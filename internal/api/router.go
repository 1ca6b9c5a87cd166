package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/healthhub/telehealth-billing/internal/appointment"
	"github.com/healthhub/telehealth-billing/internal/billing"
	"github.com/healthhub/telehealth-billing/internal/organization"
	"github.com/healthhub/telehealth-billing/internal/user"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Billing       *billing.Service
	Wallets       *wallet.Service
	Organizations *organization.Service
	Users         *user.Service

	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/join", joinAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/translator", assignTranslatorHandler(cfg.Appointments))
		r.Get("/{id}/billing", getBillingHandler(cfg.Billing))
	})

	r.Route("/wallets", func(r chi.Router) {
		r.Get("/{userID}", getWalletHandler(cfg.Wallets))
		r.Get("/{userID}/ledger", getWalletLedgerHandler(cfg.Wallets))
		r.Post("/{userID}/payouts", createPayoutHandler(cfg.Wallets))
	})

	r.Route("/organizations", func(r chi.Router) {
		r.Get("/{id}", getOrganizationHandler(cfg.Organizations))
		r.Get("/{id}/ledger", getOrganizationLedgerHandler(cfg.Organizations))
		r.Post("/{id}/credits", addCreditsHandler(cfg.Organizations))
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", createUserHandler(cfg.Users))
		r.Get("/{id}", getUserHandler(cfg.Users))
		r.Post("/{id}/fees", upsertServiceFeeHandler(cfg.Billing))
		r.Get("/{id}/fees", listServiceFeesHandler(cfg.Billing))
	})

	r.Route("/admin/sweeps", func(r chi.Router) {
		r.Post("/status", statusSweepHandler(cfg.Appointments))
		r.Post("/maturation", maturationSweepHandler(cfg.Wallets))
	})

	return r
}
