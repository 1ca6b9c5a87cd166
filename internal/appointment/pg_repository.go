package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `id, patient_id, doctor_id, translator_id, translator_required, status,
	patient_joined, patient_joined_at, doctor_joined, doctor_joined_at, translator_joined, translator_joined_at,
	scheduled_start, duration_minutes, conducted_at, cancelled_at, cancellation_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.TranslatorID,
		&a.TranslatorRequired,
		&a.Status,
		&a.PatientJoined,
		&a.PatientJoinedAt,
		&a.DoctorJoined,
		&a.DoctorJoinedAt,
		&a.TranslatorJoined,
		&a.TranslatorJoinedAt,
		&a.ScheduledStart,
		&a.DurationMinutes,
		&a.ConductedAt,
		&a.CancelledAt,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, translator_id, translator_required, status,
			scheduled_start, duration_minutes, cancellation_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.DoctorID, a.TranslatorID, a.TranslatorRequired, a.Status, a.ScheduledStart, a.DurationMinutes)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created

	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) MarkJoined(ctx context.Context, id uuid.UUID, participant ParticipantType, at time.Time) (bool, error) {
	var column string
	switch participant {
	case ParticipantPatient:
		column = "patient"
	case ParticipantDoctor:
		column = "doctor"
	case ParticipantTranslator:
		column = "translator"
	default:
		return false, fmt.Errorf("unknown participant type %q", participant)
	}

	// The WHERE guard makes re-joins no-ops; the timestamp is never reset.
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE appointments
		SET %[1]s_joined = true,
		    %[1]s_joined_at = COALESCE(%[1]s_joined_at, $2),
		    updated_at = now()
		WHERE id = $1
		  AND %[1]s_joined = false
	`, column), id, at)
	if err != nil {
		return false, fmt.Errorf("mark %s joined: %w", participant, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) SetConducted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'conducted',
		    conducted_at = COALESCE(conducted_at, $2),
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('conducted', 'cancelled')
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("set conducted: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) AssignTranslator(ctx context.Context, id uuid.UUID, translatorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET translator_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, translatorID)
	if err != nil {
		return fmt.Errorf("assign translator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}

	return nil
}

func (r *PgRepository) Cancel(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancellation_reason = $2,
		    cancelled_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('conducted', 'cancelled')
		RETURNING `+appointmentColumns+`
	`, id, reason, at)

	return scanAppointment(row)
}

func (r *PgRepository) ListForStatusSweep(ctx context.Context) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('confirmed', 'in_progress')
		ORDER BY scheduled_start
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
