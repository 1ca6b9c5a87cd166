package wallet

import (
	"context"
	"encoding/json"
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

const walletColumns = `id, user_id, available_balance, pending_balance, total_lifetime_earnings, currency, version, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet

	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.AvailableBalance,
		&w.PendingBalance,
		&w.TotalLifetimeEarnings,
		&w.Currency,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	return &w, nil
}

const entryColumns = `id, wallet_id, transaction_type, amount, balance_before, balance_after, balance_type, status,
	related_appointment_id, related_billing_id, related_payout_id, reference, description, available_at, created_by, created_at`

func scanEntry(row pgx.Row) (*LedgerEntry, error) {
	var e LedgerEntry

	err := row.Scan(
		&e.ID,
		&e.WalletID,
		&e.TransactionType,
		&e.Amount,
		&e.BalanceBefore,
		&e.BalanceAfter,
		&e.BalanceType,
		&e.Status,
		&e.RelatedAppointmentID,
		&e.RelatedBillingID,
		&e.RelatedPayoutID,
		&e.Reference,
		&e.Description,
		&e.AvailableAt,
		&e.CreatedBy,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	return &e, nil
}

// Interface methods

func (r *PgRepository) CreateWalletTx(ctx context.Context, tx pgx.Tx, w *Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, available_balance, pending_balance, total_lifetime_earnings, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
	`, w.ID, w.UserID, w.AvailableBalance, w.PendingBalance, w.TotalLifetimeEarnings, w.Currency)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}

	return nil
}

func (r *PgRepository) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
	`, userID)
	return scanWallet(row)
}

func (r *PgRepository) LockWalletByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*Wallet, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	return scanWallet(row)
}

func (r *PgRepository) LockWalletTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*Wallet, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	return scanWallet(row)
}

func (r *PgRepository) LockEntryTx(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*LedgerEntry, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_ledger_entries
		WHERE id = $1
		FOR UPDATE
	`, entryID)
	return scanEntry(row)
}

func (r *PgRepository) EntryExistsTx(ctx context.Context, tx pgx.Tx, walletID, appointmentID, billingID uuid.UUID, tt TransactionType, reference string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_ledger_entries
			WHERE wallet_id = $1
			  AND related_appointment_id = $2
			  AND related_billing_id = $3
			  AND transaction_type = $4
			  AND reference = $5
		)
	`, walletID, appointmentID, billingID, tt, reference).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger entry exists: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) EntryExistsByReferenceTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, tt TransactionType, reference string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_ledger_entries
			WHERE wallet_id = $1
			  AND transaction_type = $2
			  AND reference = $3
		)
	`, walletID, tt, reference).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger entry exists by reference: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) InsertEntryTx(ctx context.Context, tx pgx.Tx, e *LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_ledger_entries (
			id, wallet_id, transaction_type, amount, balance_before, balance_after, balance_type, status,
			related_appointment_id, related_billing_id, related_payout_id, reference, description, available_at, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
	`,
		e.ID, e.WalletID, e.TransactionType, e.Amount, e.BalanceBefore, e.BalanceAfter, e.BalanceType, e.Status,
		e.RelatedAppointmentID, e.RelatedBillingID, e.RelatedPayoutID, e.Reference, e.Description, e.AvailableAt, e.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return nil
}

func (r *PgRepository) UpdateWalletBalancesTx(ctx context.Context, tx pgx.Tx, w *Wallet) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET available_balance = $2,
		    pending_balance = $3,
		    total_lifetime_earnings = $4,
		    version = $5,
		    updated_at = now()
		WHERE id = $1
	`, w.ID, w.AvailableBalance, w.PendingBalance, w.TotalLifetimeEarnings, w.Version)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}

	return nil
}

func (r *PgRepository) MatureEntryTx(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallet_ledger_entries
		SET status = 'available',
		    balance_type = 'available'
		WHERE id = $1
		  AND status = 'pending'
	`, entryID)
	if err != nil {
		return fmt.Errorf("mature ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}

	return nil
}

func (r *PgRepository) FindPendingEarnings(ctx context.Context, now time.Time, ignoreAvailableAt bool) ([]LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM wallet_ledger_entries
		WHERE transaction_type = 'earning'
		  AND status = 'pending'
	`
	args := []any{}
	if !ignoreAvailableAt {
		query += ` AND available_at IS NOT NULL AND available_at <= $1`
		args = append(args, now)
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
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

func (r *PgRepository) ListEntriesByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
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

func (r *PgRepository) CreatePayoutTx(ctx context.Context, tx pgx.Tx, p *PayoutRequest) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	details, err := json.Marshal(p.BankDetails)
	if err != nil {
		return fmt.Errorf("marshal bank details: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payout_requests (id, wallet_id, amount, currency, status, bank_details, requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now(), now())
	`, p.ID, p.WalletID, p.Amount, p.Currency, p.Status, details)
	if err != nil {
		return fmt.Errorf("insert payout request: %w", err)
	}

	return nil
}
