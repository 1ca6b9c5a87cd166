package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// MarkJoined sets the participant's join flag and timestamp exactly once.
	// Returns true when the flag was newly set, false when already joined.
	MarkJoined(ctx context.Context, id uuid.UUID, participant ParticipantType, at time.Time) (bool, error)

	// UpdateStatus performs a compare-and-swap status transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// SetConducted moves the appointment into conducted and stamps
	// conducted_at once. Returns false when already terminal.
	SetConducted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	AssignTranslator(ctx context.Context, id uuid.UUID, translatorID uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Appointment, error)

	// Status sweep candidates: confirmed and in_progress appointments.
	ListForStatusSweep(ctx context.Context) ([]Appointment, error)
}
