package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthhub/telehealth-billing/internal/config"
)

type fakeRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (r *fakeRepo) Create(_ context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.appts[a.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) MarkJoined(_ context.Context, id uuid.UUID, participant ParticipantType, at time.Time) (bool, error) {
	a, ok := r.appts[id]
	if !ok {
		return false, ErrAppointmentNotFound
	}

	switch participant {
	case ParticipantPatient:
		if a.PatientJoined {
			return false, nil
		}
		a.PatientJoined = true
		a.PatientJoinedAt = &at
	case ParticipantDoctor:
		if a.DoctorJoined {
			return false, nil
		}
		a.DoctorJoined = true
		a.DoctorJoinedAt = &at
	case ParticipantTranslator:
		if a.TranslatorJoined {
			return false, nil
		}
		a.TranslatorJoined = true
		a.TranslatorJoinedAt = &at
	}
	return true, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) SetConducted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	a, ok := r.appts[id]
	if !ok {
		return false, ErrAppointmentNotFound
	}
	if a.Status == StatusConducted || a.Status == StatusCancelled {
		return false, nil
	}
	a.Status = StatusConducted
	if a.ConductedAt == nil {
		a.ConductedAt = &at
	}
	return true, nil
}

func (r *fakeRepo) AssignTranslator(_ context.Context, id uuid.UUID, translatorID uuid.UUID) error {
	a, ok := r.appts[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.TranslatorID = &translatorID
	return nil
}

func (r *fakeRepo) Cancel(_ context.Context, id uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	a, ok := r.appts[id]
	if !ok || a.Status == StatusConducted || a.Status == StatusCancelled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.CancelledAt = &at
	a.CancellationReason = reason
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListForStatusSweep(_ context.Context) ([]Appointment, error) {
	var result []Appointment
	for _, a := range r.appts {
		if a.Status == StatusConfirmed || a.Status == StatusInProgress {
			result = append(result, *a)
		}
	}
	return result, nil
}

type fakeBilling struct {
	processed []uuid.UUID
	cancelled []uuid.UUID
	err       error
}

func (b *fakeBilling) ProcessAppointment(_ context.Context, appt *Appointment) error {
	if b.err != nil {
		return b.err
	}
	b.processed = append(b.processed, appt.ID)
	return nil
}

func (b *fakeBilling) CancelAppointmentBilling(_ context.Context, appointmentID uuid.UUID) error {
	b.cancelled = append(b.cancelled, appointmentID)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JoinWindowBefore: 5 * time.Minute,
		JoinWindowAfter:  10 * time.Minute,
	}
}

func newTestService(repo *fakeRepo, billing *fakeBilling, now time.Time) *Service {
	svc := NewService(repo, billing, testConfig(), zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

// seedAppointment stores a confirmed 30-minute appointment starting at start.
func seedAppointment(repo *fakeRepo, start time.Time, translatorRequired bool) *Appointment {
	a := &Appointment{
		ID:                 uuid.New(),
		PatientID:          uuid.New(),
		DoctorID:           uuid.New(),
		TranslatorRequired: translatorRequired,
		Status:             StatusConfirmed,
		ScheduledStart:     start,
		DurationMinutes:    30,
	}
	if translatorRequired {
		id := uuid.New()
		a.TranslatorID = &id
	}
	repo.appts[a.ID] = a
	return a
}

func TestCreate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeBilling{}, time.Now())

	t.Run("books in pending_confirmation", func(t *testing.T) {
		appt, err := svc.Create(context.Background(), CreateParams{
			PatientID:       uuid.New(),
			DoctorID:        uuid.New(),
			ScheduledStart:  time.Now().Add(time.Hour),
			DurationMinutes: 45,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusPendingConfirmation, appt.Status)
		assert.NotEqual(t, uuid.Nil, appt.ID)
	})

	t.Run("rejects off-grid durations", func(t *testing.T) {
		_, err := svc.Create(context.Background(), CreateParams{
			PatientID:       uuid.New(),
			DoctorID:        uuid.New(),
			ScheduledStart:  time.Now().Add(time.Hour),
			DurationMinutes: 20,
		})
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})
}

func TestConfirm(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeBilling{}, time.Now())

	t.Run("pending to confirmed", func(t *testing.T) {
		appt, err := svc.Create(context.Background(), CreateParams{
			PatientID:       uuid.New(),
			DoctorID:        uuid.New(),
			ScheduledStart:  time.Now().Add(time.Hour),
			DurationMinutes: 30,
		})
		require.NoError(t, err)

		confirmed, err := svc.Confirm(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, confirmed.Status)
	})

	t.Run("rescheduling_requested to confirmed", func(t *testing.T) {
		a := seedAppointment(repo, time.Now().Add(time.Hour), false)
		a.Status = StatusReschedulingRequested

		confirmed, err := svc.Confirm(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, confirmed.Status)
	})

	t.Run("terminal appointment", func(t *testing.T) {
		a := seedAppointment(repo, time.Now(), false)
		a.Status = StatusCancelled

		_, err := svc.Confirm(context.Background(), a.ID)
		assert.ErrorIs(t, err, ErrAppointmentTerminal)
	})

	t.Run("in_progress cannot be re-confirmed", func(t *testing.T) {
		a := seedAppointment(repo, time.Now(), false)
		a.Status = StatusInProgress

		_, err := svc.Confirm(context.Background(), a.ID)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})
}

func TestRecordJoin(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	t.Run("doctor alone does not trigger billing", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now, false)

		res, err := svc.RecordJoin(context.Background(), a.ID, ParticipantDoctor)
		require.NoError(t, err)
		assert.True(t, res.NewlyJoined)
		assert.Equal(t, StatusConfirmed, res.Appointment.Status)
		assert.Empty(t, billing.processed)
	})

	t.Run("patient join triggers billing", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now, false)

		res, err := svc.RecordJoin(context.Background(), a.ID, ParticipantPatient)
		require.NoError(t, err)
		assert.True(t, res.NewlyJoined)
		assert.Equal(t, StatusConfirmed, res.Appointment.Status, "patient alone does not start the session")
		assert.Len(t, billing.processed, 1)
	})

	t.Run("both joined inside the window starts the session", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now, false)

		_, err := svc.RecordJoin(context.Background(), a.ID, ParticipantPatient)
		require.NoError(t, err)

		res, err := svc.RecordJoin(context.Background(), a.ID, ParticipantDoctor)
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, res.Appointment.Status)
		assert.Len(t, billing.processed, 2, "billing re-runs on the doctor's join")
	})

	t.Run("re-join is idempotent", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now, false)

		first, err := svc.RecordJoin(context.Background(), a.ID, ParticipantPatient)
		require.NoError(t, err)
		firstAt := first.Appointment.PatientJoinedAt
		require.NotNil(t, firstAt)

		svc.now = func() time.Time { return now.Add(2 * time.Minute) }
		second, err := svc.RecordJoin(context.Background(), a.ID, ParticipantPatient)
		require.NoError(t, err)
		assert.False(t, second.NewlyJoined)
		assert.Equal(t, firstAt, second.Appointment.PatientJoinedAt, "joined_at must not be reset")
		assert.Len(t, billing.processed, 2, "billing still re-runs on the retry")
	})

	t.Run("both joined after the slot end conducts immediately", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now.Add(-time.Hour), false)
		a.PatientJoined = true

		res, err := svc.RecordJoin(context.Background(), a.ID, ParticipantDoctor)
		require.NoError(t, err)
		assert.Equal(t, StatusConducted, res.Appointment.Status)
		require.NotNil(t, res.Appointment.ConductedAt)
		assert.Len(t, billing.processed, 1)
	})

	t.Run("partial no-show conducts after the window", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now.Add(-time.Hour), false)

		res, err := svc.RecordJoin(context.Background(), a.ID, ParticipantPatient)
		require.NoError(t, err)
		assert.Equal(t, StatusConducted, res.Appointment.Status, "one-sided session past its end is closed out")
	})

	t.Run("required translator not joining does not hold the session", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now.Add(-time.Hour), true)
		a.PatientJoined = true

		res, err := svc.RecordJoin(context.Background(), a.ID, ParticipantDoctor)
		require.NoError(t, err)
		assert.Equal(t, StatusConducted, res.Appointment.Status)
		assert.False(t, res.Appointment.TranslatorJoined)
	})

	t.Run("translator join guards", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(repo, &fakeBilling{}, now)

		noTranslator := seedAppointment(repo, now, false)
		_, err := svc.RecordJoin(context.Background(), noTranslator.ID, ParticipantTranslator)
		assert.ErrorIs(t, err, ErrTranslatorNotRequired)

		unassigned := seedAppointment(repo, now, true)
		unassigned.TranslatorID = nil
		_, err = svc.RecordJoin(context.Background(), unassigned.ID, ParticipantTranslator)
		assert.ErrorIs(t, err, ErrTranslatorNotAssigned)
	})

	t.Run("terminal and unjoinable statuses", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(repo, &fakeBilling{}, now)

		conducted := seedAppointment(repo, now, false)
		conducted.Status = StatusConducted
		_, err := svc.RecordJoin(context.Background(), conducted.ID, ParticipantPatient)
		assert.ErrorIs(t, err, ErrAppointmentTerminal)

		pending := seedAppointment(repo, now, false)
		pending.Status = StatusPendingConfirmation
		_, err = svc.RecordJoin(context.Background(), pending.ID, ParticipantPatient)
		assert.ErrorIs(t, err, ErrNotJoinable)
	})

	t.Run("billing failure surfaces but the join sticks", func(t *testing.T) {
		repo := newFakeRepo()
		billErr := errors.New("no funder")
		svc := newTestService(repo, &fakeBilling{err: billErr}, now)
		a := seedAppointment(repo, now, false)

		_, err := svc.RecordJoin(context.Background(), a.ID, ParticipantPatient)
		assert.ErrorIs(t, err, billErr)

		stored, err := repo.GetByID(context.Background(), a.ID)
		require.NoError(t, err)
		assert.True(t, stored.PatientJoined, "join flag is never rolled back")
	})
}

func TestAssignTranslator(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	t.Run("refreshes billing when the patient already joined", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now, true)
		a.TranslatorID = nil
		a.PatientJoined = true

		translatorID := uuid.New()
		updated, err := svc.AssignTranslator(context.Background(), a.ID, translatorID)
		require.NoError(t, err)
		require.NotNil(t, updated.TranslatorID)
		assert.Equal(t, translatorID, *updated.TranslatorID)
		assert.Len(t, billing.processed, 1)
	})

	t.Run("no billing refresh before the patient joins", func(t *testing.T) {
		repo := newFakeRepo()
		billing := &fakeBilling{}
		svc := newTestService(repo, billing, now)
		a := seedAppointment(repo, now, true)
		a.TranslatorID = nil

		_, err := svc.AssignTranslator(context.Background(), a.ID, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, billing.processed)
	})

	t.Run("rejected when no translator is required", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(repo, &fakeBilling{}, now)
		a := seedAppointment(repo, now, false)

		_, err := svc.AssignTranslator(context.Background(), a.ID, uuid.New())
		assert.ErrorIs(t, err, ErrTranslatorNotRequired)
	})
}

func TestCancel(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	billing := &fakeBilling{}
	svc := newTestService(repo, billing, now)

	a := seedAppointment(repo, now.Add(time.Hour), false)

	t.Run("cancels and voids the billing draft", func(t *testing.T) {
		cancelled, err := svc.Cancel(context.Background(), a.ID, "patient request")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
		assert.Equal(t, "patient request", cancelled.CancellationReason)
		require.NotNil(t, cancelled.CancelledAt)
		assert.Equal(t, []uuid.UUID{a.ID}, billing.cancelled)
	})

	t.Run("cancelling twice fails", func(t *testing.T) {
		_, err := svc.Cancel(context.Background(), a.ID, "again")
		assert.ErrorIs(t, err, ErrAppointmentTerminal)
		assert.Len(t, billing.cancelled, 1)
	})
}

func TestStatusSweep(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	billing := &fakeBilling{}
	svc := newTestService(repo, billing, now)

	// Past its end with both joined: conducted.
	done := seedAppointment(repo, now.Add(-time.Hour), false)
	done.Status = StatusInProgress
	done.PatientJoined = true
	done.DoctorJoined = true

	// Past its end with only the patient: forced conducted.
	partial := seedAppointment(repo, now.Add(-time.Hour), false)
	partial.PatientJoined = true

	// Still inside its slot: untouched.
	live := seedAppointment(repo, now.Add(-10*time.Minute), false)
	live.Status = StatusInProgress
	live.PatientJoined = true
	live.DoctorJoined = true

	// Nobody joined: left for the join window, not the sweep.
	idle := seedAppointment(repo, now.Add(-time.Hour), false)

	updated, err := svc.StatusSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	assert.ElementsMatch(t, []uuid.UUID{done.ID, partial.ID}, billing.processed,
		"conducted sessions with a joined patient get a final billing pass")

	for id, want := range map[uuid.UUID]Status{
		done.ID:    StatusConducted,
		partial.ID: StatusConducted,
		live.ID:    StatusInProgress,
		idle.ID:    StatusConfirmed,
	} {
		got, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "appointment %s", id)
	}
}
