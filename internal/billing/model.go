package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RecordStatus string

const (
	StatusDraft     RecordStatus = "draft"
	StatusBilled    RecordStatus = "billed"
	StatusCancelled RecordStatus = "cancelled"
)

// Record is the one-per-appointment billing document. It is created as a
// draft on the first qualifying join and updated in place on later joins;
// once billed or cancelled it never changes again.
type Record struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	OrganizationID uuid.UUID
	DoctorID       uuid.UUID
	TranslatorID   *uuid.UUID

	DoctorFee             decimal.Decimal
	TranslatorFee         decimal.Decimal
	PlatformFee           decimal.Decimal
	PlatformFeePercentage decimal.Decimal
	TotalAmount           decimal.Decimal
	Currency              string

	Status   RecordStatus
	BilledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fee total invariant.
func (r *Record) Validate() error {
	sum := r.DoctorFee.Add(r.TranslatorFee).Add(r.PlatformFee)
	if !sum.Equal(r.TotalAmount) {
		return fmt.Errorf("billing %s: total %s does not match fee sum %s", r.ID, r.TotalAmount, sum)
	}
	if r.Status == StatusBilled && r.BilledAt == nil {
		return fmt.Errorf("billing %s: billed without billed_at", r.ID)
	}
	return nil
}

// ServiceFee is a provider's configured rate for one session duration.
// Only the active row per (user, duration) is consulted by the calculator.
type ServiceFee struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	DurationMinutes int
	Amount          decimal.Decimal
	Currency        string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
