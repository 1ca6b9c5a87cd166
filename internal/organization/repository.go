package organization

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrNoFunderAvailable    = errors.New("no organization with sufficient credits")
	ErrCreditEntryNotFound  = errors.New("credit entry not found")
)

// Repository contains all DB interactions needed by the credit service.
type Repository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error)

	// SelectFunderTx picks the funding organization under a row lock:
	// sufficient balance, fewest appointments processed first, richest as the
	// secondary spread. Returns ErrNoFunderAvailable when none qualifies.
	SelectFunderTx(ctx context.Context, tx pgx.Tx, amount decimal.Decimal) (*Profile, error)

	LockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Profile, error)
	UpdateBalanceTx(ctx context.Context, tx pgx.Tx, p *Profile) error

	InsertCreditEntryTx(ctx context.Context, tx pgx.Tx, e *CreditEntry) error
	DeductionExistsTx(ctx context.Context, tx pgx.Tx, orgID, billingID uuid.UUID, reference string) (bool, error)

	// FindTopUpByReferenceTx returns the top-up previously recorded with this
	// reference, so a retried AddCredits reuses it instead of adding again.
	// Returns ErrCreditEntryNotFound when no such entry exists.
	FindTopUpByReferenceTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, tt CreditTransactionType, reference string) (*CreditEntry, error)

	ListLedger(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]CreditEntry, error)
}
