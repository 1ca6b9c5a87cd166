package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Appointments

type CreateAppointmentRequest struct {
	PatientID          string    `json:"patient_id"`
	DoctorID           string    `json:"doctor_id"`
	TranslatorID       string    `json:"translator_id,omitempty"`
	TranslatorRequired bool      `json:"translator_required"`
	ScheduledStart     time.Time `json:"scheduled_start"`
	DurationMinutes    int       `json:"duration_minutes"`
}

type JoinRequest struct {
	ParticipantType string `json:"participant_type"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AssignTranslatorRequest struct {
	TranslatorID string `json:"translator_id"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	TranslatorID       *uuid.UUID `json:"translator_id,omitempty"`
	TranslatorRequired bool       `json:"translator_required"`
	Status             string     `json:"status"`
	PatientJoined      bool       `json:"patient_joined"`
	PatientJoinedAt    *time.Time `json:"patient_joined_at,omitempty"`
	DoctorJoined       bool       `json:"doctor_joined"`
	DoctorJoinedAt     *time.Time `json:"doctor_joined_at,omitempty"`
	TranslatorJoined   bool       `json:"translator_joined"`
	TranslatorJoinedAt *time.Time `json:"translator_joined_at,omitempty"`
	ScheduledStart     time.Time  `json:"scheduled_start"`
	DurationMinutes    int        `json:"duration_minutes"`
	ConductedAt        *time.Time `json:"conducted_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

type JoinResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	NewlyJoined bool                `json:"newly_joined"`
	JoinEnabled bool                `json:"join_enabled"`
}

// Billing

type BillingResponse struct {
	ID                    uuid.UUID       `json:"id"`
	AppointmentID         uuid.UUID       `json:"appointment_id"`
	OrganizationID        uuid.UUID       `json:"organization_id"`
	DoctorID              uuid.UUID       `json:"doctor_id"`
	TranslatorID          *uuid.UUID      `json:"translator_id,omitempty"`
	DoctorFee             decimal.Decimal `json:"doctor_fee"`
	TranslatorFee         decimal.Decimal `json:"translator_fee"`
	PlatformFee           decimal.Decimal `json:"platform_fee"`
	PlatformFeePercentage decimal.Decimal `json:"platform_fee_percentage"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	Currency              string          `json:"currency"`
	Status                string          `json:"status"`
	BilledAt              *time.Time      `json:"billed_at,omitempty"`
}

// Wallets

type WalletResponse struct {
	ID                    uuid.UUID       `json:"id"`
	UserID                uuid.UUID       `json:"user_id"`
	AvailableBalance      decimal.Decimal `json:"available_balance"`
	PendingBalance        decimal.Decimal `json:"pending_balance"`
	TotalLifetimeEarnings decimal.Decimal `json:"total_lifetime_earnings"`
	Currency              string          `json:"currency"`
}

type LedgerEntryResponse struct {
	ID                   uuid.UUID       `json:"id"`
	WalletID             uuid.UUID       `json:"wallet_id"`
	TransactionType      string          `json:"transaction_type"`
	Amount               decimal.Decimal `json:"amount"`
	BalanceBefore        decimal.Decimal `json:"balance_before"`
	BalanceAfter         decimal.Decimal `json:"balance_after"`
	BalanceType          string          `json:"balance_type"`
	Status               string          `json:"status"`
	RelatedAppointmentID *uuid.UUID      `json:"related_appointment_id,omitempty"`
	RelatedBillingID     *uuid.UUID      `json:"related_billing_id,omitempty"`
	RelatedPayoutID      *uuid.UUID      `json:"related_payout_id,omitempty"`
	Description          string          `json:"description,omitempty"`
	AvailableAt          *time.Time      `json:"available_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type CreatePayoutRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	BankDetails map[string]string `json:"bank_details"`
}

type PayoutResponse struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Organizations

type OrganizationResponse struct {
	ID                         uuid.UUID       `json:"id"`
	UserID                     uuid.UUID       `json:"user_id"`
	Name                       string          `json:"name"`
	CurrentCreditsBalance      decimal.Decimal `json:"current_credits_balance"`
	Currency                   string          `json:"currency"`
	TotalAppointmentsProcessed int             `json:"total_appointments_processed"`
}

type AddCreditsRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transaction_type"`
	Reference       string          `json:"reference,omitempty"`
	Description     string          `json:"description,omitempty"`
}

type CreditEntryResponse struct {
	ID                   uuid.UUID       `json:"id"`
	OrganizationID       uuid.UUID       `json:"organization_id"`
	TransactionType      string          `json:"transaction_type"`
	Amount               decimal.Decimal `json:"amount"`
	BalanceBefore        decimal.Decimal `json:"balance_before"`
	BalanceAfter         decimal.Decimal `json:"balance_after"`
	Description          string          `json:"description,omitempty"`
	Reference            string          `json:"reference,omitempty"`
	RelatedAppointmentID *uuid.UUID      `json:"related_appointment_id,omitempty"`
	RelatedBillingID     *uuid.UUID      `json:"related_billing_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Users and fees

type CreateUserRequest struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Role  string    `json:"role"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type UpsertServiceFeeRequest struct {
	DurationMinutes int             `json:"duration_minutes"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency,omitempty"`
	Active          *bool           `json:"active,omitempty"`
}

type ServiceFeeResponse struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	DurationMinutes int             `json:"duration_minutes"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Active          bool            `json:"active"`
}

// Admin sweeps

type MaturationSweepRequest struct {
	ProcessAll bool `json:"process_all"`
}

type SweepResponse struct {
	Processed int `json:"processed"`
}
