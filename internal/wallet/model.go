package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeEarning    TransactionType = "earning"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeRefund     TransactionType = "refund"
	TypeAdjustment TransactionType = "adjustment"
)

// BalanceType names the wallet sub-balance a ledger entry applies to.
type BalanceType string

const (
	BalancePending   BalanceType = "pending"
	BalanceAvailable BalanceType = "available"
)

// EntryStatus is the entry lifecycle tag, independent of BalanceType.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryAvailable EntryStatus = "available"
	EntryWithdrawn EntryStatus = "withdrawn"
	EntryRefunded  EntryStatus = "refunded"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Wallet holds a user's earnings balances. All mutation goes through ledger
// postings; the balance fields are a cache kept in the same transaction as
// the ledger insert.
type Wallet struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	AvailableBalance      decimal.Decimal
	PendingBalance        decimal.Decimal
	TotalLifetimeEarnings decimal.Decimal
	Currency              string
	Version               int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// LedgerEntry is an append-only, balanced record of one wallet change.
// Immutable after insert except for the maturation flip of Status and
// BalanceType from pending to available.
type LedgerEntry struct {
	ID                   uuid.UUID
	WalletID             uuid.UUID
	TransactionType      TransactionType
	Amount               decimal.Decimal
	BalanceBefore        decimal.Decimal
	BalanceAfter         decimal.Decimal
	BalanceType          BalanceType
	Status               EntryStatus
	RelatedAppointmentID *uuid.UUID
	RelatedBillingID     *uuid.UUID
	RelatedPayoutID      *uuid.UUID
	Reference            string
	Description          string
	AvailableAt          *time.Time
	CreatedBy            *uuid.UUID
	CreatedAt            time.Time
}

type PayoutRequest struct {
	ID          uuid.UUID
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Status      PayoutStatus
	BankDetails map[string]string
	RequestedAt time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
