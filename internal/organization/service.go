package organization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

var (
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrInvalidAmount          = errors.New("credit amount must be positive")
	ErrInvalidTransactionType = errors.New("invalid credit transaction type")
)

type Service struct {
	repo    Repository
	txr     db.TxRunner
	wallets *wallet.Service
}

func NewService(repo Repository, txr db.TxRunner, wallets *wallet.Service) *Service {
	return &Service{
		repo:    repo,
		txr:     txr,
		wallets: wallets,
	}
}

// Under read committed, a blocked SELECT FOR UPDATE re-evaluates only the
// row it waited on after the concurrent holder commits. If that organization
// was drained below the total, the statement comes back empty even though
// another organization qualifies, so an empty result is retried before
// reporting no funder.
const funderSelectAttempts = 3

// SelectFunderTx picks and row-locks the organization that will fund a
// billing of the given total. The caller owns the transaction and must keep
// it open until the matching credit deduction has been written.
func (s *Service) SelectFunderTx(ctx context.Context, tx pgx.Tx, total decimal.Decimal) (*Profile, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.repo.SelectFunderTx(ctx, tx, total)
		if errors.Is(err, ErrNoFunderAvailable) && attempt < funderSelectAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// LockTx re-locks a previously selected funder inside a new billing
// transaction.
func (s *Service) LockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Profile, error) {
	return s.repo.LockTx(ctx, tx, id)
}

// DeductForBillingTx writes one deduction entry matching an earning posting.
// Idempotent per (organization, billing, reference): a retried billing
// trigger sees the existing entry and skips. The profile passed in must be
// row-locked by the caller; its balance and version are updated in place but
// not persisted until the caller calls FlushTx once after all deductions.
func (s *Service) DeductForBillingTx(ctx context.Context, tx pgx.Tx, org *Profile, amount decimal.Decimal, appointmentID, billingID uuid.UUID, reference, description string) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}

	exists, err := s.repo.DeductionExistsTx(ctx, tx, org.ID, billingID, reference)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if org.CurrentCreditsBalance.LessThan(amount) {
		return false, ErrInsufficientCredits
	}

	before := org.CurrentCreditsBalance
	org.CurrentCreditsBalance = before.Sub(amount)
	org.Version++

	entry := &CreditEntry{
		ID:                   uuid.New(),
		OrganizationID:       org.ID,
		TransactionType:      CreditDeduction,
		Amount:               amount.Neg(),
		BalanceBefore:        before,
		BalanceAfter:         org.CurrentCreditsBalance,
		Description:          description,
		Reference:            reference,
		RelatedAppointmentID: &appointmentID,
		RelatedBillingID:     &billingID,
	}
	if err := s.repo.InsertCreditEntryTx(ctx, tx, entry); err != nil {
		return false, err
	}

	return true, nil
}

// MarkProcessed bumps the load-balancing counter. Called once per
// appointment when the organization first funds it, never on retries.
func (s *Service) MarkProcessed(org *Profile) {
	org.TotalAppointmentsProcessed++
}

// FlushTx persists in-memory balance/version/counter changes made by
// DeductForBillingTx and MarkProcessed.
func (s *Service) FlushTx(ctx context.Context, tx pgx.Tx, org *Profile) error {
	return s.repo.UpdateBalanceTx(ctx, tx, org)
}

// AddCredits tops up an organization's prepaid balance and mirrors the amount
// into the organization's wallet so later billing deductions against that
// wallet stay non-negative. Idempotent per (organization, transaction type,
// reference) when a reference is supplied: retrying with the same reference
// reuses the recorded entry instead of adding again, and replays a wallet
// mirror that a crash or failure left behind.
func (s *Service) AddCredits(ctx context.Context, orgID uuid.UUID, amount decimal.Decimal, tt CreditTransactionType, reference, description string, createdBy *uuid.UUID) (*CreditEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	switch tt {
	case CreditPurchase, CreditBonus, CreditRefund, CreditAdjustment:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransactionType, tt)
	}

	var (
		entry  *CreditEntry
		userID uuid.UUID
	)

	err := s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		org, err := s.repo.LockTx(ctx, tx, orgID)
		if err != nil {
			return err
		}
		userID = org.UserID

		if reference != "" {
			existing, err := s.repo.FindTopUpByReferenceTx(ctx, tx, orgID, tt, reference)
			if err != nil && !errors.Is(err, ErrCreditEntryNotFound) {
				return err
			}
			if existing != nil {
				entry = existing
				return nil
			}
		}

		before := org.CurrentCreditsBalance
		org.CurrentCreditsBalance = before.Add(amount)
		org.Version++

		entry = &CreditEntry{
			ID:              uuid.New(),
			OrganizationID:  org.ID,
			TransactionType: tt,
			Amount:          amount,
			BalanceBefore:   before,
			BalanceAfter:    org.CurrentCreditsBalance,
			Description:     description,
			Reference:       reference,
			CreatedBy:       createdBy,
		}
		if err := s.repo.InsertCreditEntryTx(ctx, tx, entry); err != nil {
			return err
		}

		return s.repo.UpdateBalanceTx(ctx, tx, org)
	})
	if err != nil {
		return nil, err
	}

	// The mirror posting is keyed on the credit entry ID, so it is written
	// at most once no matter how often the caller retries.
	if _, _, err := s.wallets.PostAdjustment(ctx, wallet.PostParams{
		UserID:      userID,
		Amount:      entry.Amount,
		Reference:   entry.ID.String(),
		Description: fmt.Sprintf("Credit %s %s", tt, entry.ID),
		CreatedBy:   createdBy,
	}); err != nil {
		return nil, fmt.Errorf("mirror credits into wallet: %w", err)
	}

	return entry, nil
}

// GetByID returns an organization profile.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByUser returns the profile owned by a user account.
func (s *Service) GetByUser(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// ListLedger returns an organization's credit ledger, newest first.
func (s *Service) ListLedger(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]CreditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListLedger(ctx, orgID, limit, offset)
}
