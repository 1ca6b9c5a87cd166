package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrEntryNotFound  = errors.New("ledger entry not found")
)

// Repository contains all DB interactions needed by the wallet service.
// Methods with a Tx suffix run inside a caller-owned transaction so that row
// locks span the whole posting.
type Repository interface {
	CreateWalletTx(ctx context.Context, tx pgx.Tx, w *Wallet) error
	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*Wallet, error)

	// Row-locked reads for posting and maturation
	LockWalletByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*Wallet, error)
	LockWalletTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*Wallet, error)
	LockEntryTx(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*LedgerEntry, error)

	// Idempotency key lookup: (wallet, appointment, billing, transaction_type,
	// reference). Reference is empty except where one billing legitimately
	// produces several entries of the same type against one wallet.
	EntryExistsTx(ctx context.Context, tx pgx.Tx, walletID, appointmentID, billingID uuid.UUID, tt TransactionType, reference string) (bool, error)

	// Reference-only idempotency lookup for postings without billing links,
	// such as credit top-up mirrors keyed on their credit entry ID.
	EntryExistsByReferenceTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, tt TransactionType, reference string) (bool, error)

	InsertEntryTx(ctx context.Context, tx pgx.Tx, e *LedgerEntry) error
	UpdateWalletBalancesTx(ctx context.Context, tx pgx.Tx, w *Wallet) error
	MatureEntryTx(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error

	// Maturation sweep candidates
	FindPendingEarnings(ctx context.Context, now time.Time, ignoreAvailableAt bool) ([]LedgerEntry, error)

	ListEntriesByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]LedgerEntry, error)

	CreatePayoutTx(ctx context.Context, tx pgx.Tx, p *PayoutRequest) error
}
