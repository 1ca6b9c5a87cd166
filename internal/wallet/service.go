package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/healthhub/telehealth-billing/internal/db"
)

var (
	ErrNegativeBalance    = errors.New("wallet balance cannot go negative")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient available balance")
	ErrBelowMinimumPayout = errors.New("payout amount below minimum")
)

// Payouts under this amount are rejected.
var minPayout = decimal.RequireFromString("10.00")

type Service struct {
	repo     Repository
	txr      db.TxRunner
	hold     time.Duration
	currency string
	log      zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewService(repo Repository, txr db.TxRunner, hold time.Duration, currency string, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		txr:      txr,
		hold:     hold,
		currency: currency,
		log:      log,
		now:      time.Now,
	}
}

// PostParams describes one ledger posting. When both related IDs are set the
// posting is idempotent on (wallet, appointment, billing, transaction_type,
// reference); without related IDs a non-empty Reference alone keys it.
type PostParams struct {
	UserID               uuid.UUID
	Amount               decimal.Decimal
	RelatedAppointmentID *uuid.UUID
	RelatedBillingID     *uuid.UUID
	Reference            string
	Description          string
	CreatedBy            *uuid.UUID
}

// PostEarning appends a pending earning to the user's wallet. The amount is
// added to the pending balance and to lifetime earnings, and matures to the
// available balance after the hold period. Returns posted=false when an entry
// with the same idempotency key already exists.
func (s *Service) PostEarning(ctx context.Context, p PostParams) (entry *LedgerEntry, posted bool, err error) {
	if !p.Amount.IsPositive() {
		return nil, false, ErrInvalidAmount
	}

	availableAt := s.now().Add(s.hold)

	err = s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		w, err := s.repo.LockWalletByUserTx(ctx, tx, p.UserID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		if exists, err := s.entryExists(ctx, tx, w.ID, p, TypeEarning); err != nil {
			return err
		} else if exists {
			return nil
		}

		before := w.PendingBalance
		after := before.Add(p.Amount)

		entry = &LedgerEntry{
			ID:                   uuid.New(),
			WalletID:             w.ID,
			TransactionType:      TypeEarning,
			Amount:               p.Amount,
			BalanceBefore:        before,
			BalanceAfter:         after,
			BalanceType:          BalancePending,
			Status:               EntryPending,
			RelatedAppointmentID: p.RelatedAppointmentID,
			RelatedBillingID:     p.RelatedBillingID,
			Reference:            p.Reference,
			Description:          p.Description,
			AvailableAt:          &availableAt,
			CreatedBy:            p.CreatedBy,
		}
		if err := s.repo.InsertEntryTx(ctx, tx, entry); err != nil {
			return err
		}

		w.PendingBalance = after
		w.TotalLifetimeEarnings = w.TotalLifetimeEarnings.Add(p.Amount)
		w.Version++
		if err := s.repo.UpdateWalletBalancesTx(ctx, tx, w); err != nil {
			return err
		}

		posted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return entry, posted, nil
}

// PostAdjustment appends a signed adjustment against the available balance.
// Negative amounts are deductions and are rejected if they would take the
// balance below zero.
func (s *Service) PostAdjustment(ctx context.Context, p PostParams) (entry *LedgerEntry, posted bool, err error) {
	if p.Amount.IsZero() {
		return nil, false, ErrInvalidAmount
	}

	err = s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		w, err := s.repo.LockWalletByUserTx(ctx, tx, p.UserID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		if exists, err := s.entryExists(ctx, tx, w.ID, p, TypeAdjustment); err != nil {
			return err
		} else if exists {
			return nil
		}

		before := w.AvailableBalance
		after := before.Add(p.Amount)
		if after.IsNegative() {
			return ErrNegativeBalance
		}

		entry = &LedgerEntry{
			ID:                   uuid.New(),
			WalletID:             w.ID,
			TransactionType:      TypeAdjustment,
			Amount:               p.Amount,
			BalanceBefore:        before,
			BalanceAfter:         after,
			BalanceType:          BalanceAvailable,
			Status:               EntryAvailable,
			RelatedAppointmentID: p.RelatedAppointmentID,
			RelatedBillingID:     p.RelatedBillingID,
			Reference:            p.Reference,
			Description:          p.Description,
			CreatedBy:            p.CreatedBy,
		}
		if err := s.repo.InsertEntryTx(ctx, tx, entry); err != nil {
			return err
		}

		w.AvailableBalance = after
		w.Version++
		if err := s.repo.UpdateWalletBalancesTx(ctx, tx, w); err != nil {
			return err
		}

		posted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return entry, posted, nil
}

func (s *Service) entryExists(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, p PostParams, tt TransactionType) (bool, error) {
	switch {
	case p.RelatedBillingID != nil && p.RelatedAppointmentID != nil:
		return s.repo.EntryExistsTx(ctx, tx, walletID, *p.RelatedAppointmentID, *p.RelatedBillingID, tt, p.Reference)
	case p.Reference != "":
		return s.repo.EntryExistsByReferenceTx(ctx, tx, walletID, tt, p.Reference)
	default:
		return false, nil
	}
}

// RequestPayout reserves part of the available balance for withdrawal: it
// creates the payout request and its withdrawal ledger entry under one wallet
// row lock.
func (s *Service) RequestPayout(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, bankDetails map[string]string) (*PayoutRequest, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(minPayout) {
		return nil, ErrBelowMinimumPayout
	}

	var payout *PayoutRequest

	err := s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		w, err := s.repo.LockWalletByUserTx(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		if w.AvailableBalance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		payout = &PayoutRequest{
			ID:          uuid.New(),
			WalletID:    w.ID,
			Amount:      amount,
			Currency:    w.Currency,
			Status:      PayoutPending,
			BankDetails: bankDetails,
		}
		if err := s.repo.CreatePayoutTx(ctx, tx, payout); err != nil {
			return err
		}

		before := w.AvailableBalance
		after := before.Sub(amount)

		entry := &LedgerEntry{
			ID:              uuid.New(),
			WalletID:        w.ID,
			TransactionType: TypeWithdrawal,
			Amount:          amount.Neg(),
			BalanceBefore:   before,
			BalanceAfter:    after,
			BalanceType:     BalanceAvailable,
			Status:          EntryWithdrawn,
			RelatedPayoutID: &payout.ID,
			Description:     fmt.Sprintf("Payout request %s", payout.ID),
		}
		if err := s.repo.InsertEntryTx(ctx, tx, entry); err != nil {
			return err
		}

		w.AvailableBalance = after
		w.Version++
		return s.repo.UpdateWalletBalancesTx(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	return payout, nil
}

// MaturationSweep promotes pending earnings whose hold has elapsed to the
// available balance. With processAll set the available_at deadline is ignored
// (the administrative override). Each entry is processed in its own
// transaction; a failure is logged and skipped so one bad entry cannot stall
// everyone else's funds.
func (s *Service) MaturationSweep(ctx context.Context, now time.Time, processAll bool) (int, error) {
	entries, err := s.repo.FindPendingEarnings(ctx, now, processAll)
	if err != nil {
		return 0, fmt.Errorf("find pending earnings: %w", err)
	}

	processed := 0
	for _, e := range entries {
		if err := s.matureOne(ctx, e.ID); err != nil {
			s.log.Error().Err(err).
				Str("entry_id", e.ID.String()).
				Str("wallet_id", e.WalletID.String()).
				Msg("maturation failed, skipping entry")
			continue
		}
		processed++
	}

	return processed, nil
}

func (s *Service) matureOne(ctx context.Context, entryID uuid.UUID) error {
	return s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		e, err := s.repo.LockEntryTx(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != EntryPending {
			// Already matured by a concurrent sweep.
			return nil
		}

		w, err := s.repo.LockWalletTx(ctx, tx, e.WalletID)
		if err != nil {
			return err
		}

		pending := w.PendingBalance.Sub(e.Amount)
		if pending.IsNegative() {
			return ErrNegativeBalance
		}

		w.PendingBalance = pending
		w.AvailableBalance = w.AvailableBalance.Add(e.Amount)
		w.Version++
		if err := s.repo.UpdateWalletBalancesTx(ctx, tx, w); err != nil {
			return err
		}

		return s.repo.MatureEntryTx(ctx, tx, e.ID)
	})
}

// GetByUser returns the wallet for a user.
func (s *Service) GetByUser(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return s.repo.GetWalletByUser(ctx, userID)
}

// ListLedger returns ledger entries for a user's wallet, newest first.
func (s *Service) ListLedger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	w, err := s.repo.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.repo.ListEntriesByWallet(ctx, w.ID, limit, offset)
}
