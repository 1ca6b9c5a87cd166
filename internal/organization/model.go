package organization

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreditTransactionType string

const (
	CreditPurchase   CreditTransactionType = "purchase"
	CreditDeduction  CreditTransactionType = "deduction"
	CreditRefund     CreditTransactionType = "refund"
	CreditAdjustment CreditTransactionType = "adjustment"
	CreditBonus      CreditTransactionType = "bonus"
)

// Profile is a prepaid-credit-holding organization that funds doctor and
// translator payouts. TotalAppointmentsProcessed is a load-balancing
// tie-breaker for funder selection, not a business metric of record.
type Profile struct {
	ID                         uuid.UUID
	UserID                     uuid.UUID
	Name                       string
	CurrentCreditsBalance      decimal.Decimal
	Currency                   string
	Version                    int
	TotalAppointmentsProcessed int
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// CreditEntry is one balanced row in an organization's credits ledger.
// Reference keys deductions per billing so a retried billing trigger cannot
// deduct twice for the same earning.
type CreditEntry struct {
	ID                   uuid.UUID
	OrganizationID       uuid.UUID
	TransactionType      CreditTransactionType
	Amount               decimal.Decimal
	BalanceBefore        decimal.Decimal
	BalanceAfter         decimal.Decimal
	Description          string
	Reference            string
	RelatedAppointmentID *uuid.UUID
	RelatedBillingID     *uuid.UUID
	CreatedBy            *uuid.UUID
	CreatedAt            time.Time
}
