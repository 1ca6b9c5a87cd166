package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/organization"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

type Service struct {
	repo     Repository
	wallets  wallet.Repository
	orgs     organization.Repository
	txr      db.TxRunner
	currency string
}

func NewService(repo Repository, wallets wallet.Repository, orgs organization.Repository, txr db.TxRunner, currency string) *Service {
	return &Service{
		repo:     repo,
		wallets:  wallets,
		orgs:     orgs,
		txr:      txr,
		currency: currency,
	}
}

// Provision registers a user. Earning roles get their wallet created in the
// same transaction, and organizations additionally get a credits profile, so
// a user can never exist half set up.
func (s *Service) Provision(ctx context.Context, role Role, name, email string) (*User, error) {
	switch role {
	case RolePatient, RoleDoctor, RoleTranslator, RoleOrganization, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, ErrMissingDetails
	}

	u := &User{
		ID:    uuid.New(),
		Role:  role,
		Name:  name,
		Email: email,
	}

	err := s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, u); err != nil {
			return err
		}

		if role.earns() {
			w := &wallet.Wallet{
				ID:                    uuid.New(),
				UserID:                u.ID,
				AvailableBalance:      decimal.Zero,
				PendingBalance:        decimal.Zero,
				TotalLifetimeEarnings: decimal.Zero,
				Currency:              s.currency,
			}
			if err := s.wallets.CreateWalletTx(ctx, tx, w); err != nil {
				return fmt.Errorf("provision wallet: %w", err)
			}
		}

		if role == RoleOrganization {
			p := &organization.Profile{
				ID:                    uuid.New(),
				UserID:                u.ID,
				Name:                  name,
				CurrentCreditsBalance: decimal.Zero,
				Currency:              s.currency,
			}
			if err := s.orgs.CreateTx(ctx, tx, p); err != nil {
				return fmt.Errorf("provision organization profile: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, role Role, limit, offset int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, role, limit, offset)
}
