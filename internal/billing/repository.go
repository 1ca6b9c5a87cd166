package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrBillingNotFound    = errors.New("billing record not found")
	ErrServiceFeeNotFound = errors.New("no active service fee configured")
)

// Repository contains all DB interactions needed by the billing service.
type Repository interface {
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error)

	// LockByAppointmentTx row-locks the billing record for the duration of
	// the billing transaction.
	LockByAppointmentTx(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID) (*Record, error)

	CreateTx(ctx context.Context, tx pgx.Tx, rec *Record) error
	UpdateDraftTx(ctx context.Context, tx pgx.Tx, rec *Record) error

	// MarkBilled finalizes a draft. Returns false when the record was not
	// in draft (already billed or cancelled).
	MarkBilled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// CancelDraft voids the draft attached to an appointment, if any.
	CancelDraft(ctx context.Context, appointmentID uuid.UUID, at time.Time) (bool, error)

	GetActiveServiceFee(ctx context.Context, userID uuid.UUID, durationMinutes int) (decimal.Decimal, error)
	UpsertServiceFee(ctx context.Context, fee *ServiceFee) error
	ListServiceFees(ctx context.Context, userID uuid.UUID) ([]ServiceFee, error)
}
