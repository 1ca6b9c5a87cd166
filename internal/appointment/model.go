package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingConfirmation    Status = "pending_confirmation"
	StatusConfirmed              Status = "confirmed"
	StatusReschedulingRequested  Status = "rescheduling_requested"
	StatusInProgress             Status = "in_progress"
	StatusConducted              Status = "conducted"
	StatusCancelled              Status = "cancelled"
)

type ParticipantType string

const (
	ParticipantPatient    ParticipantType = "patient"
	ParticipantDoctor     ParticipantType = "doctor"
	ParticipantTranslator ParticipantType = "translator"
)

// AllowedDurations are the bookable session lengths in minutes. Service fees
// are configured per duration.
var AllowedDurations = []int{15, 30, 45, 60}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	TranslatorID       *uuid.UUID
	TranslatorRequired bool
	Status             Status

	PatientJoined      bool
	PatientJoinedAt    *time.Time
	DoctorJoined       bool
	DoctorJoinedAt     *time.Time
	TranslatorJoined   bool
	TranslatorJoinedAt *time.Time

	ScheduledStart  time.Time
	DurationMinutes int

	ConductedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveEnd is the scheduled start plus the slot duration; the join state
// machine conducts the session at or after this instant.
func (a *Appointment) EffectiveEnd() time.Time {
	return a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// JoinEnabled reports whether now falls inside the advisory join window.
// Informational only; joins outside the window are still recorded.
func (a *Appointment) JoinEnabled(now time.Time, before, after time.Duration) bool {
	open := a.ScheduledStart.Add(-before)
	close := a.ScheduledStart.Add(after)
	return !now.Before(open) && !now.After(close)
}

func (a *Appointment) terminal() bool {
	return a.Status == StatusConducted || a.Status == StatusCancelled
}
