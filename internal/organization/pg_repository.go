package organization

import (
	"context"
	"errors"
	"fmt"

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

const profileColumns = `id, user_id, name, current_credits_balance, currency, version, total_appointments_processed, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.CurrentCreditsBalance,
		&p.Currency,
		&p.Version,
		&p.TotalAppointmentsProcessed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}

	return &p, nil
}

const creditEntryColumns = `id, organization_id, transaction_type, amount, balance_before, balance_after, description, reference,
	related_appointment_id, related_billing_id, created_by, created_at`

func scanCreditEntry(row pgx.Row) (*CreditEntry, error) {
	var e CreditEntry

	err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.TransactionType,
		&e.Amount,
		&e.BalanceBefore,
		&e.BalanceAfter,
		&e.Description,
		&e.Reference,
		&e.RelatedAppointmentID,
		&e.RelatedBillingID,
		&e.CreatedBy,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// Interface methods

func (r *PgRepository) CreateTx(ctx context.Context, tx pgx.Tx, p *Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO organization_profiles (id, user_id, name, current_credits_balance, currency, version, total_appointments_processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, now(), now())
	`, p.ID, p.UserID, p.Name, p.CurrentCreditsBalance, p.Currency)
	if err != nil {
		return fmt.Errorf("insert organization profile: %w", err)
	}

	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM organization_profiles
		WHERE id = $1
	`, id)
	return scanProfile(row)
}

func (r *PgRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM organization_profiles
		WHERE user_id = $1
	`, userID)
	return scanProfile(row)
}

func (r *PgRepository) SelectFunderTx(ctx context.Context, tx pgx.Tx, amount decimal.Decimal) (*Profile, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM organization_profiles
		WHERE current_credits_balance >= $1
		ORDER BY total_appointments_processed ASC, current_credits_balance DESC
		LIMIT 1
		FOR UPDATE
	`, amount)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			return nil, ErrNoFunderAvailable
		}
		return nil, err
	}

	return p, nil
}

func (r *PgRepository) LockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Profile, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM organization_profiles
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanProfile(row)
}

func (r *PgRepository) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, p *Profile) error {
	tag, err := tx.Exec(ctx, `
		UPDATE organization_profiles
		SET current_credits_balance = $2,
		    version = $3,
		    total_appointments_processed = $4,
		    updated_at = now()
		WHERE id = $1
	`, p.ID, p.CurrentCreditsBalance, p.Version, p.TotalAppointmentsProcessed)
	if err != nil {
		return fmt.Errorf("update organization balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrganizationNotFound
	}

	return nil
}

func (r *PgRepository) InsertCreditEntryTx(ctx context.Context, tx pgx.Tx, e *CreditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO organization_credit_entries (
			id, organization_id, transaction_type, amount, balance_before, balance_after, description, reference,
			related_appointment_id, related_billing_id, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	`,
		e.ID, e.OrganizationID, e.TransactionType, e.Amount, e.BalanceBefore, e.BalanceAfter, e.Description, e.Reference,
		e.RelatedAppointmentID, e.RelatedBillingID, e.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert credit entry: %w", err)
	}

	return nil
}

func (r *PgRepository) FindTopUpByReferenceTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, tt CreditTransactionType, reference string) (*CreditEntry, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+creditEntryColumns+`
		FROM organization_credit_entries
		WHERE organization_id = $1
		  AND transaction_type = $2
		  AND reference = $3
		LIMIT 1
	`, orgID, tt, reference)

	e, err := scanCreditEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCreditEntryNotFound
		}
		return nil, fmt.Errorf("find top-up by reference: %w", err)
	}

	return e, nil
}

func (r *PgRepository) DeductionExistsTx(ctx context.Context, tx pgx.Tx, orgID, billingID uuid.UUID, reference string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM organization_credit_entries
			WHERE organization_id = $1
			  AND related_billing_id = $2
			  AND transaction_type = 'deduction'
			  AND reference = $3
		)
	`, orgID, billingID, reference).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check deduction exists: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ListLedger(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creditEntryColumns+`
		FROM organization_credit_entries
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CreditEntry
	for rows.Next() {
		e, err := scanCreditEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
