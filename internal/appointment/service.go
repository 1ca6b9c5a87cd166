package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthhub/telehealth-billing/internal/config"
)

var (
	ErrInvalidDuration         = errors.New("duration must be one of 15, 30, 45 or 60 minutes")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrAppointmentTerminal     = errors.New("appointment is already conducted or cancelled")
	ErrNotJoinable             = errors.New("appointment is not joinable in its current status")
	ErrTranslatorNotRequired   = errors.New("appointment does not require a translator")
	ErrTranslatorNotAssigned   = errors.New("no translator assigned to this appointment")
)

// BillingTrigger is what the join state machine needs from the billing
// layer. Implemented by billing.Service; an interface here keeps the
// dependency one-directional and lets tests stub it out.
type BillingTrigger interface {
	ProcessAppointment(ctx context.Context, appt *Appointment) error
	CancelAppointmentBilling(ctx context.Context, appointmentID uuid.UUID) error
}

type Service struct {
	repo    Repository
	billing BillingTrigger
	cfg     config.Config
	log     zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewService(repo Repository, billing BillingTrigger, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		billing: billing,
		cfg:     cfg,
		log:     log.With().Str("component", "appointment").Logger(),
		now:     time.Now,
	}
}

type CreateParams struct {
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	TranslatorID       *uuid.UUID
	TranslatorRequired bool
	ScheduledStart     time.Time
	DurationMinutes    int
}

// Create books a new appointment in pending_confirmation.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	valid := false
	for _, d := range AllowedDurations {
		if p.DurationMinutes == d {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidDuration
	}

	appt := &Appointment{
		PatientID:          p.PatientID,
		DoctorID:           p.DoctorID,
		TranslatorID:       p.TranslatorID,
		TranslatorRequired: p.TranslatorRequired,
		Status:             StatusPendingConfirmation,
		ScheduledStart:     p.ScheduledStart,
		DurationMinutes:    p.DurationMinutes,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	return appt, nil
}

// Confirm moves a pending_confirmation (or rescheduling_requested)
// appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch appt.Status {
	case StatusPendingConfirmation, StatusReschedulingRequested:
	default:
		if appt.terminal() {
			return nil, ErrAppointmentTerminal
		}
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost the compare-and-swap race.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	return updated, nil
}

// RequestReschedule flags a confirmed appointment for rescheduling. The
// actual re-slotting is done by the booking flow; this only parks the
// status so the join window stops applying.
func (s *Service) RequestReschedule(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := s.repo.UpdateStatus(ctx, id, StatusConfirmed, StatusReschedulingRequested)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidStatusTransition
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("request reschedule: %w", err)
	}

	return updated, nil
}

// JoinResult is returned by RecordJoin so the API can report both the
// idempotent join outcome and the post-join appointment state.
type JoinResult struct {
	Appointment *Appointment
	NewlyJoined bool
	JoinEnabled bool
}

// RecordJoin marks a participant as having joined the session, re-runs the
// status transition rules and, while the patient has joined, invokes the
// billing trigger. Billing failures (for example no organization able to
// fund the session) surface to the caller, but the join flags themselves
// are never rolled back: the participant did join, and a retried join will
// re-run billing against the already-recorded flags.
func (s *Service) RecordJoin(ctx context.Context, id uuid.UUID, participant ParticipantType) (*JoinResult, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.terminal() {
		return nil, ErrAppointmentTerminal
	}
	switch appt.Status {
	case StatusConfirmed, StatusInProgress:
	default:
		return nil, ErrNotJoinable
	}

	if participant == ParticipantTranslator {
		if !appt.TranslatorRequired {
			return nil, ErrTranslatorNotRequired
		}
		if appt.TranslatorID == nil {
			return nil, ErrTranslatorNotAssigned
		}
	}

	now := s.now()

	newly, err := s.repo.MarkJoined(ctx, id, participant, now)
	if err != nil {
		return nil, fmt.Errorf("record join: %w", err)
	}

	appt, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload appointment: %w", err)
	}

	appt, err = s.evaluate(ctx, appt, now)
	if err != nil {
		return nil, err
	}

	// Billing runs on every join while the patient is in the session, not
	// just the first one: a doctor or translator joining later is what
	// upgrades the draft into posted earnings.
	if appt.PatientJoined {
		if err := s.billing.ProcessAppointment(ctx, appt); err != nil {
			return nil, err
		}
	}

	return &JoinResult{
		Appointment: appt,
		NewlyJoined: newly,
		JoinEnabled: appt.JoinEnabled(now, s.cfg.JoinWindowBefore, s.cfg.JoinWindowAfter),
	}, nil
}

// evaluate applies the wall-clock transition rules to a non-terminal
// appointment and returns the (possibly reloaded) current state.
func (s *Service) evaluate(ctx context.Context, appt *Appointment, now time.Time) (*Appointment, error) {
	if appt.terminal() {
		return appt, nil
	}

	end := appt.EffectiveEnd()

	switch {
	case appt.PatientJoined && appt.DoctorJoined:
		// A required translator who never joins does not hold the session
		// open; the slot window alone decides in_progress vs conducted.
		if now.Before(end) {
			if appt.Status == StatusInProgress {
				return appt, nil
			}
			updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, StatusInProgress)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return s.repo.GetByID(ctx, appt.ID)
				}
				return nil, fmt.Errorf("transition to in_progress: %w", err)
			}
			return updated, nil
		}
		if _, err := s.repo.SetConducted(ctx, appt.ID, now); err != nil {
			return nil, fmt.Errorf("transition to conducted: %w", err)
		}
		return s.repo.GetByID(ctx, appt.ID)

	case (appt.PatientJoined || appt.DoctorJoined) && now.After(end):
		// Partial no-show: the window elapsed with only one side present.
		// Close the appointment out anyway.
		if _, err := s.repo.SetConducted(ctx, appt.ID, now); err != nil {
			return nil, fmt.Errorf("transition to conducted: %w", err)
		}
		return s.repo.GetByID(ctx, appt.ID)
	}

	return appt, nil
}

// AssignTranslator attaches a translator to an appointment. If a billing
// draft already exists it is refreshed so the translator fee is included.
func (s *Service) AssignTranslator(ctx context.Context, id uuid.UUID, translatorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.terminal() {
		return nil, ErrAppointmentTerminal
	}
	if !appt.TranslatorRequired {
		return nil, ErrTranslatorNotRequired
	}

	if err := s.repo.AssignTranslator(ctx, id, translatorID); err != nil {
		return nil, fmt.Errorf("assign translator: %w", err)
	}

	appt, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload appointment: %w", err)
	}

	if appt.PatientJoined {
		if err := s.billing.ProcessAppointment(ctx, appt); err != nil {
			return nil, err
		}
	}

	return appt, nil
}

// Cancel terminates a non-conducted appointment and voids any billing
// draft still attached to it.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.Cancel(ctx, id, reason, s.now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			if existing, getErr := s.repo.GetByID(ctx, id); getErr == nil && existing.terminal() {
				return nil, ErrAppointmentTerminal
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if err := s.billing.CancelAppointmentBilling(ctx, id); err != nil {
		return nil, fmt.Errorf("cancel billing draft: %w", err)
	}

	return appt, nil
}

// StatusSweep re-evaluates confirmed and in_progress appointments against
// the clock, catching sessions nobody re-triggered via a join. Sessions the
// sweep conducts get one more billing pass, so a draft held open for a
// translator who never showed up is finalized. Intended to be called
// periodically by the worker. Per-appointment failures are logged and
// skipped.
func (s *Service) StatusSweep(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListForStatusSweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sweep candidates: %w", err)
	}

	now := s.now()
	updated := 0

	for i := range candidates {
		appt := &candidates[i]

		after, err := s.evaluate(ctx, appt, now)
		if err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("status sweep: evaluate failed")
			continue
		}
		if after.Status != appt.Status {
			updated++
		}

		if after.Status == StatusConducted && after.PatientJoined {
			if err := s.billing.ProcessAppointment(ctx, after); err != nil {
				s.log.Error().Err(err).
					Str("appointment_id", appt.ID.String()).
					Msg("status sweep: billing trigger failed")
			}
		}
	}

	return updated, nil
}

// GetByID returns an appointment by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}
