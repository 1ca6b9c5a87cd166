package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const recordColumns = `id, appointment_id, organization_id, doctor_id, translator_id,
	doctor_fee, translator_fee, platform_fee, platform_fee_percentage, total_amount, currency,
	status, billed_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.OrganizationID,
		&r.DoctorID,
		&r.TranslatorID,
		&r.DoctorFee,
		&r.TranslatorFee,
		&r.PlatformFee,
		&r.PlatformFeePercentage,
		&r.TotalAmount,
		&r.Currency,
		&r.Status,
		&r.BilledAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillingNotFound
		}
		return nil, err
	}

	return &r, nil
}

const serviceFeeColumns = `id, user_id, duration_minutes, amount, currency, active, created_at, updated_at`

func scanServiceFee(row pgx.Row) (*ServiceFee, error) {
	var f ServiceFee

	err := row.Scan(
		&f.ID,
		&f.UserID,
		&f.DurationMinutes,
		&f.Amount,
		&f.Currency,
		&f.Active,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceFeeNotFound
		}
		return nil, err
	}

	return &f, nil
}

// Interface methods

func (r *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM appointment_billings
		WHERE appointment_id = $1
	`, appointmentID)
	return scanRecord(row)
}

func (r *PgRepository) LockByAppointmentTx(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID) (*Record, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM appointment_billings
		WHERE appointment_id = $1
		FOR UPDATE
	`, appointmentID)
	return scanRecord(row)
}

func (r *PgRepository) CreateTx(ctx context.Context, tx pgx.Tx, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_billings (
			id, appointment_id, organization_id, doctor_id, translator_id,
			doctor_fee, translator_fee, platform_fee, platform_fee_percentage, total_amount, currency,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`,
		rec.ID, rec.AppointmentID, rec.OrganizationID, rec.DoctorID, rec.TranslatorID,
		rec.DoctorFee, rec.TranslatorFee, rec.PlatformFee, rec.PlatformFeePercentage, rec.TotalAmount, rec.Currency,
		rec.Status,
	)
	if err != nil {
		return fmt.Errorf("insert billing record: %w", err)
	}

	return nil
}

func (r *PgRepository) UpdateDraftTx(ctx context.Context, tx pgx.Tx, rec *Record) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointment_billings
		SET translator_id = $2,
		    doctor_fee = $3,
		    translator_fee = $4,
		    platform_fee = $5,
		    platform_fee_percentage = $6,
		    total_amount = $7,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'draft'
	`,
		rec.ID, rec.TranslatorID,
		rec.DoctorFee, rec.TranslatorFee, rec.PlatformFee, rec.PlatformFeePercentage, rec.TotalAmount,
	)
	if err != nil {
		return fmt.Errorf("update billing draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillingNotFound
	}

	return nil
}

func (r *PgRepository) MarkBilled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment_billings
		SET status = 'billed',
		    billed_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'draft'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark billing billed: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) CancelDraft(ctx context.Context, appointmentID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment_billings
		SET status = 'cancelled',
		    updated_at = $2
		WHERE appointment_id = $1
		  AND status = 'draft'
	`, appointmentID, at)
	if err != nil {
		return false, fmt.Errorf("cancel billing draft: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) GetActiveServiceFee(ctx context.Context, userID uuid.UUID, durationMinutes int) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT amount
		FROM service_fees
		WHERE user_id = $1
		  AND duration_minutes = $2
		  AND active = true
	`, userID, durationMinutes).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrServiceFeeNotFound
		}
		return decimal.Zero, fmt.Errorf("get active service fee: %w", err)
	}

	return amount, nil
}

func (r *PgRepository) UpsertServiceFee(ctx context.Context, fee *ServiceFee) error {
	if fee.ID == uuid.Nil {
		fee.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO service_fees (id, user_id, duration_minutes, amount, currency, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (user_id, duration_minutes)
		DO UPDATE SET amount = EXCLUDED.amount,
		              currency = EXCLUDED.currency,
		              active = EXCLUDED.active,
		              updated_at = now()
		RETURNING `+serviceFeeColumns+`
	`, fee.ID, fee.UserID, fee.DurationMinutes, fee.Amount, fee.Currency, fee.Active)

	upserted, err := scanServiceFee(row)
	if err != nil {
		return fmt.Errorf("upsert service fee: %w", err)
	}
	*fee = *upserted

	return nil
}

func (r *PgRepository) ListServiceFees(ctx context.Context, userID uuid.UUID) ([]ServiceFee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceFeeColumns+`
		FROM service_fees
		WHERE user_id = $1
		ORDER BY duration_minutes
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ServiceFee
	for rows.Next() {
		f, err := scanServiceFee(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
