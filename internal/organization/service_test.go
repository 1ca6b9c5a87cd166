package organization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthhub/telehealth-billing/internal/wallet"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// funderMisses makes the next N funder selections come back empty, the way a
// read-committed re-check does after a concurrent deduction drains the row
// the statement blocked on.
type fakeOrgRepo struct {
	profiles     map[uuid.UUID]*Profile
	entries      []*CreditEntry
	funderMisses int
}

func newFakeOrgRepo() *fakeOrgRepo {
	return &fakeOrgRepo{profiles: make(map[uuid.UUID]*Profile)}
}

func (r *fakeOrgRepo) addProfile(balance string) *Profile {
	p := &Profile{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		Name:                  "Test Org",
		CurrentCreditsBalance: decimal.RequireFromString(balance),
		Currency:              "USD",
	}
	r.profiles[p.ID] = p
	return p
}

func (r *fakeOrgRepo) CreateTx(_ context.Context, _ pgx.Tx, p *Profile) error {
	cp := *p
	r.profiles[p.ID] = &cp
	return nil
}

func (r *fakeOrgRepo) GetByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeOrgRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Profile, error) {
	for _, p := range r.profiles {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrOrganizationNotFound
}

func (r *fakeOrgRepo) SelectFunderTx(_ context.Context, _ pgx.Tx, amount decimal.Decimal) (*Profile, error) {
	if r.funderMisses > 0 {
		r.funderMisses--
		return nil, ErrNoFunderAvailable
	}

	var best *Profile
	for _, p := range r.profiles {
		if p.CurrentCreditsBalance.LessThan(amount) {
			continue
		}
		if best == nil ||
			p.TotalAppointmentsProcessed < best.TotalAppointmentsProcessed ||
			(p.TotalAppointmentsProcessed == best.TotalAppointmentsProcessed &&
				p.CurrentCreditsBalance.GreaterThan(best.CurrentCreditsBalance)) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNoFunderAvailable
	}
	cp := *best
	return &cp, nil
}

func (r *fakeOrgRepo) LockTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*Profile, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeOrgRepo) UpdateBalanceTx(_ context.Context, _ pgx.Tx, p *Profile) error {
	stored, ok := r.profiles[p.ID]
	if !ok {
		return ErrOrganizationNotFound
	}
	*stored = *p
	return nil
}

func (r *fakeOrgRepo) InsertCreditEntryTx(_ context.Context, _ pgx.Tx, e *CreditEntry) error {
	cp := *e
	cp.CreatedAt = time.Now()
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeOrgRepo) DeductionExistsTx(_ context.Context, _ pgx.Tx, orgID, billingID uuid.UUID, reference string) (bool, error) {
	for _, e := range r.entries {
		if e.OrganizationID == orgID && e.TransactionType == CreditDeduction &&
			e.RelatedBillingID != nil && *e.RelatedBillingID == billingID &&
			e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOrgRepo) FindTopUpByReferenceTx(_ context.Context, _ pgx.Tx, orgID uuid.UUID, tt CreditTransactionType, reference string) (*CreditEntry, error) {
	for _, e := range r.entries {
		if e.OrganizationID == orgID && e.TransactionType == tt && e.Reference == reference {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrCreditEntryNotFound
}

func (r *fakeOrgRepo) ListLedger(_ context.Context, orgID uuid.UUID, limit, offset int) ([]CreditEntry, error) {
	var result []CreditEntry
	for _, e := range r.entries {
		if e.OrganizationID == orgID {
			result = append(result, *e)
		}
	}
	return result, nil
}

// Minimal wallet repository so AddCredits can mirror into the org's wallet.
// failInserts makes the next N postings fail, simulating a wallet outage
// between the credits commit and the mirror.
type miniWalletRepo struct {
	wallets     map[uuid.UUID]*wallet.Wallet
	entries     []*wallet.LedgerEntry
	failInserts int
}

func newMiniWalletRepo() *miniWalletRepo {
	return &miniWalletRepo{wallets: make(map[uuid.UUID]*wallet.Wallet)}
}

func (r *miniWalletRepo) addWallet(userID uuid.UUID) *wallet.Wallet {
	w := &wallet.Wallet{ID: uuid.New(), UserID: userID, Currency: "USD"}
	r.wallets[userID] = w
	return w
}

func (r *miniWalletRepo) CreateWalletTx(_ context.Context, _ pgx.Tx, w *wallet.Wallet) error {
	cp := *w
	r.wallets[w.UserID] = &cp
	return nil
}

func (r *miniWalletRepo) GetWalletByUser(_ context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	w, ok := r.wallets[userID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *miniWalletRepo) LockWalletByUserTx(ctx context.Context, _ pgx.Tx, userID uuid.UUID) (*wallet.Wallet, error) {
	return r.GetWalletByUser(ctx, userID)
}

func (r *miniWalletRepo) LockWalletTx(_ context.Context, _ pgx.Tx, walletID uuid.UUID) (*wallet.Wallet, error) {
	for _, w := range r.wallets {
		if w.ID == walletID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, wallet.ErrWalletNotFound
}

func (r *miniWalletRepo) LockEntryTx(_ context.Context, _ pgx.Tx, _ uuid.UUID) (*wallet.LedgerEntry, error) {
	return nil, wallet.ErrEntryNotFound
}

func (r *miniWalletRepo) EntryExistsTx(_ context.Context, _ pgx.Tx, _, _, _ uuid.UUID, _ wallet.TransactionType, _ string) (bool, error) {
	return false, nil
}

func (r *miniWalletRepo) EntryExistsByReferenceTx(_ context.Context, _ pgx.Tx, walletID uuid.UUID, tt wallet.TransactionType, reference string) (bool, error) {
	for _, e := range r.entries {
		if e.WalletID == walletID && e.TransactionType == tt && e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (r *miniWalletRepo) InsertEntryTx(_ context.Context, _ pgx.Tx, e *wallet.LedgerEntry) error {
	if r.failInserts > 0 {
		r.failInserts--
		return errors.New("wallet store unavailable")
	}
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *miniWalletRepo) UpdateWalletBalancesTx(_ context.Context, _ pgx.Tx, w *wallet.Wallet) error {
	stored, ok := r.wallets[w.UserID]
	if !ok {
		return wallet.ErrWalletNotFound
	}
	*stored = *w
	return nil
}

func (r *miniWalletRepo) MatureEntryTx(_ context.Context, _ pgx.Tx, _ uuid.UUID) error {
	return wallet.ErrEntryNotFound
}

func (r *miniWalletRepo) FindPendingEarnings(_ context.Context, _ time.Time, _ bool) ([]wallet.LedgerEntry, error) {
	return nil, nil
}

func (r *miniWalletRepo) ListEntriesByWallet(_ context.Context, _ uuid.UUID, _, _ int) ([]wallet.LedgerEntry, error) {
	return nil, nil
}

func (r *miniWalletRepo) CreatePayoutTx(_ context.Context, _ pgx.Tx, _ *wallet.PayoutRequest) error {
	return nil
}

func newTestService(orgRepo *fakeOrgRepo, walletRepo *miniWalletRepo) *Service {
	wallets := wallet.NewService(walletRepo, fakeTxRunner{}, 72*time.Hour, "USD", zerolog.Nop())
	return NewService(orgRepo, fakeTxRunner{}, wallets)
}

func TestAddCredits(t *testing.T) {
	orgRepo := newFakeOrgRepo()
	walletRepo := newMiniWalletRepo()
	svc := newTestService(orgRepo, walletRepo)

	org := orgRepo.addProfile("0.00")
	walletRepo.addWallet(org.UserID)

	t.Run("tops up the balance and mirrors into the wallet", func(t *testing.T) {
		entry, err := svc.AddCredits(context.Background(), org.ID, decimal.RequireFromString("500.00"), CreditPurchase, "", "Initial purchase", nil)
		require.NoError(t, err)

		assert.True(t, entry.BalanceBefore.IsZero())
		assert.True(t, entry.BalanceAfter.Equal(decimal.RequireFromString("500.00")))
		assert.True(t, entry.BalanceAfter.Equal(entry.BalanceBefore.Add(entry.Amount)))

		stored, err := svc.GetByID(context.Background(), org.ID)
		require.NoError(t, err)
		assert.True(t, stored.CurrentCreditsBalance.Equal(decimal.RequireFromString("500.00")))

		w, err := walletRepo.GetWalletByUser(context.Background(), org.UserID)
		require.NoError(t, err)
		assert.True(t, w.AvailableBalance.Equal(decimal.RequireFromString("500.00")), "wallet mirror must match the credit top-up")
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := svc.AddCredits(context.Background(), org.ID, decimal.Zero, CreditPurchase, "", "", nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects deduction as a top-up type", func(t *testing.T) {
		_, err := svc.AddCredits(context.Background(), org.ID, decimal.RequireFromString("10.00"), CreditDeduction, "", "", nil)
		assert.ErrorIs(t, err, ErrInvalidTransactionType)
	})

	t.Run("retried top-up with the same reference does not double-add", func(t *testing.T) {
		orgRepo := newFakeOrgRepo()
		walletRepo := newMiniWalletRepo()
		svc := newTestService(orgRepo, walletRepo)

		org := orgRepo.addProfile("0.00")
		walletRepo.addWallet(org.UserID)

		first, err := svc.AddCredits(context.Background(), org.ID, decimal.RequireFromString("200.00"), CreditPurchase, "pay-2025-001", "Purchase", nil)
		require.NoError(t, err)

		second, err := svc.AddCredits(context.Background(), org.ID, decimal.RequireFromString("200.00"), CreditPurchase, "pay-2025-001", "Purchase", nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "same reference reuses the recorded entry")

		stored, err := svc.GetByID(context.Background(), org.ID)
		require.NoError(t, err)
		assert.True(t, stored.CurrentCreditsBalance.Equal(decimal.RequireFromString("200.00")), "balance moves once")

		assert.Len(t, orgRepo.entries, 1)
		assert.Len(t, walletRepo.entries, 1, "mirror posts once")
	})

	t.Run("failed wallet mirror is healed by a retry", func(t *testing.T) {
		orgRepo := newFakeOrgRepo()
		walletRepo := newMiniWalletRepo()
		svc := newTestService(orgRepo, walletRepo)

		org := orgRepo.addProfile("0.00")
		walletRepo.addWallet(org.UserID)
		walletRepo.failInserts = 1

		_, err := svc.AddCredits(context.Background(), org.ID, decimal.RequireFromString("300.00"), CreditPurchase, "pay-2025-002", "Purchase", nil)
		require.Error(t, err, "mirror failure surfaces to the caller")

		stored, err := svc.GetByID(context.Background(), org.ID)
		require.NoError(t, err)
		assert.True(t, stored.CurrentCreditsBalance.Equal(decimal.RequireFromString("300.00")), "credits committed before the mirror failed")
		assert.Empty(t, walletRepo.entries)

		_, err = svc.AddCredits(context.Background(), org.ID, decimal.RequireFromString("300.00"), CreditPurchase, "pay-2025-002", "Purchase", nil)
		require.NoError(t, err)

		stored, err = svc.GetByID(context.Background(), org.ID)
		require.NoError(t, err)
		assert.True(t, stored.CurrentCreditsBalance.Equal(decimal.RequireFromString("300.00")), "retry must not double-add")

		w, err := walletRepo.GetWalletByUser(context.Background(), org.UserID)
		require.NoError(t, err)
		assert.True(t, w.AvailableBalance.Equal(decimal.RequireFromString("300.00")), "retry replays the missing mirror")
		assert.Len(t, walletRepo.entries, 1)
	})
}

func TestSelectFunder(t *testing.T) {
	t.Run("transient empty selection is retried", func(t *testing.T) {
		orgRepo := newFakeOrgRepo()
		svc := newTestService(orgRepo, newMiniWalletRepo())

		org := orgRepo.addProfile("500.00")
		orgRepo.funderMisses = 1

		selected, err := svc.SelectFunderTx(context.Background(), nil, decimal.RequireFromString("100.00"))
		require.NoError(t, err)
		assert.Equal(t, org.ID, selected.ID)
	})

	t.Run("no qualifying organization after retries", func(t *testing.T) {
		orgRepo := newFakeOrgRepo()
		svc := newTestService(orgRepo, newMiniWalletRepo())

		orgRepo.addProfile("50.00")

		_, err := svc.SelectFunderTx(context.Background(), nil, decimal.RequireFromString("100.00"))
		assert.ErrorIs(t, err, ErrNoFunderAvailable)
	})
}

func TestDeductForBilling(t *testing.T) {
	orgRepo := newFakeOrgRepo()
	walletRepo := newMiniWalletRepo()
	svc := newTestService(orgRepo, walletRepo)

	org := orgRepo.addProfile("100.00")
	apptID := uuid.New()
	billingID := uuid.New()

	t.Run("writes a balanced deduction entry", func(t *testing.T) {
		locked, err := orgRepo.LockTx(context.Background(), nil, org.ID)
		require.NoError(t, err)

		deducted, err := svc.DeductForBillingTx(context.Background(), nil, locked, decimal.RequireFromString("60.00"), apptID, billingID, "doctor_earning", "Doctor fee")
		require.NoError(t, err)
		require.True(t, deducted)

		assert.True(t, locked.CurrentCreditsBalance.Equal(decimal.RequireFromString("40.00")))

		require.Len(t, orgRepo.entries, 1)
		entry := orgRepo.entries[0]
		assert.Equal(t, CreditDeduction, entry.TransactionType)
		assert.True(t, entry.Amount.Equal(decimal.RequireFromString("-60.00")))
		assert.True(t, entry.BalanceAfter.Equal(entry.BalanceBefore.Add(entry.Amount)))

		require.NoError(t, svc.FlushTx(context.Background(), nil, locked))
		stored, err := svc.GetByID(context.Background(), org.ID)
		require.NoError(t, err)
		assert.True(t, stored.CurrentCreditsBalance.Equal(decimal.RequireFromString("40.00")))
	})

	t.Run("retried deduction with the same reference is skipped", func(t *testing.T) {
		locked, err := orgRepo.LockTx(context.Background(), nil, org.ID)
		require.NoError(t, err)

		deducted, err := svc.DeductForBillingTx(context.Background(), nil, locked, decimal.RequireFromString("60.00"), apptID, billingID, "doctor_earning", "Doctor fee")
		require.NoError(t, err)
		assert.False(t, deducted)
		assert.True(t, locked.CurrentCreditsBalance.Equal(decimal.RequireFromString("40.00")), "skipped deduction must not move the balance")
		assert.Len(t, orgRepo.entries, 1)
	})

	t.Run("different reference deducts a second wave", func(t *testing.T) {
		locked, err := orgRepo.LockTx(context.Background(), nil, org.ID)
		require.NoError(t, err)

		deducted, err := svc.DeductForBillingTx(context.Background(), nil, locked, decimal.RequireFromString("25.00"), apptID, billingID, "translator_earning", "Translator fee")
		require.NoError(t, err)
		assert.True(t, deducted)
		assert.True(t, locked.CurrentCreditsBalance.Equal(decimal.RequireFromString("15.00")))
	})

	t.Run("insufficient credits", func(t *testing.T) {
		locked, err := orgRepo.LockTx(context.Background(), nil, org.ID)
		require.NoError(t, err)

		_, err = svc.DeductForBillingTx(context.Background(), nil, locked, decimal.RequireFromString("999.00"), uuid.New(), uuid.New(), "doctor_earning", "")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})
}
