package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/healthhub/telehealth-billing/internal/appointment"
	"github.com/healthhub/telehealth-billing/internal/db"
	"github.com/healthhub/telehealth-billing/internal/organization"
	redisclient "github.com/healthhub/telehealth-billing/internal/redis"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

var (
	ErrBillingBusy      = errors.New("billing is currently being processed for this appointment, please retry")
	ErrBillingFinal     = errors.New("billing record is no longer a draft")
	ErrInvalidFeeAmount = errors.New("service fee amount cannot be negative")
	ErrInvalidDuration  = errors.New("service fee duration must be one of 15, 30, 45 or 60 minutes")
)

// References tag the per-party postings so each wave has its own idempotency
// key across the organization credit ledger and the wallet ledger.
const (
	refDoctorEarning     = "doctor_earning"
	refTranslatorEarning = "translator_earning"
)

type Service struct {
	repo    Repository
	calc    *FeeCalculator
	orgs    *organization.Service
	wallets *wallet.Service
	txr     db.TxRunner
	locker  redisclient.Locker

	currency string
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	calc *FeeCalculator,
	orgs *organization.Service,
	wallets *wallet.Service,
	txr db.TxRunner,
	locker redisclient.Locker,
	currency string,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		calc:     calc,
		orgs:     orgs,
		wallets:  wallets,
		txr:      txr,
		locker:   locker,
		currency: currency,
		log:      log.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// ProcessAppointment runs the billing trigger for one appointment under a
// distributed lock, so duplicate join events cannot bill concurrently. Safe
// to re-invoke: every write is keyed and skipped on retry.
func (s *Service) ProcessAppointment(ctx context.Context, appt *appointment.Appointment) error {
	err := s.locker.WithBillingLock(ctx, appt.ID, func(lockCtx context.Context) error {
		return s.process(lockCtx, appt)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrBillingBusy
	}
	return err
}

// process implements the billing wave:
//
//  1. no-op once the record left draft
//  2. compute fees
//  3. select (or re-lock) the funding organization, create/refresh the draft
//     and write the credit deductions, all in one transaction
//  4. post the wallet entries
//  5. finalize the draft once no further wave can post
//
// Wallet postings run after the credit transaction commits; if the process
// dies in between, the record is still a draft and the next join replays the
// missing postings through their idempotency keys. A record with a required
// translator stays a draft until the translator wave posts or the session is
// conducted, so a translator who joins after the doctor is still paid.
func (s *Service) process(ctx context.Context, appt *appointment.Appointment) error {
	existing, err := s.repo.GetByAppointment(ctx, appt.ID)
	if err != nil && !errors.Is(err, ErrBillingNotFound) {
		return fmt.Errorf("load billing record: %w", err)
	}
	if existing != nil && existing.Status != StatusDraft {
		return nil
	}

	var translatorID *uuid.UUID
	if appt.TranslatorRequired {
		translatorID = appt.TranslatorID
	}

	fees, err := s.calc.Calculate(ctx, appt.DoctorID, translatorID, appt.DurationMinutes)
	if err != nil {
		return fmt.Errorf("calculate fees: %w", err)
	}

	// The doctor wave posts once both sides of the consultation have joined.
	// The translator wave additionally needs the translator in the session.
	postDoctor := appt.PatientJoined && appt.DoctorJoined && fees.DoctorFee.IsPositive()
	postTranslator := appt.PatientJoined && appt.DoctorJoined &&
		appt.TranslatorRequired && appt.TranslatorJoined &&
		translatorID != nil && fees.TranslatorFee.IsPositive()

	var (
		rec *Record
		org *organization.Profile
	)

	err = s.txr.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err = s.repo.LockByAppointmentTx(ctx, tx, appt.ID)
		if err != nil && !errors.Is(err, ErrBillingNotFound) {
			return fmt.Errorf("lock billing record: %w", err)
		}
		if rec != nil && rec.Status != StatusDraft {
			return ErrBillingFinal
		}

		if rec != nil {
			org, err = s.orgs.LockTx(ctx, tx, rec.OrganizationID)
			if err != nil {
				return fmt.Errorf("lock funding organization: %w", err)
			}
		} else {
			org, err = s.orgs.SelectFunderTx(ctx, tx, fees.Total)
			if err != nil {
				return err
			}
		}

		if rec == nil {
			rec = &Record{
				ID:                    uuid.New(),
				AppointmentID:         appt.ID,
				OrganizationID:        org.ID,
				DoctorID:              appt.DoctorID,
				TranslatorID:          translatorID,
				DoctorFee:             fees.DoctorFee,
				TranslatorFee:         fees.TranslatorFee,
				PlatformFee:           fees.PlatformFee,
				PlatformFeePercentage: fees.PlatformFeePercentage,
				TotalAmount:           fees.Total,
				Currency:              s.currency,
				Status:                StatusDraft,
			}
			if err := s.repo.CreateTx(ctx, tx, rec); err != nil {
				return err
			}
		} else {
			rec.TranslatorID = translatorID
			rec.DoctorFee = fees.DoctorFee
			rec.TranslatorFee = fees.TranslatorFee
			rec.PlatformFee = fees.PlatformFee
			rec.PlatformFeePercentage = fees.PlatformFeePercentage
			rec.TotalAmount = fees.Total
			if err := s.repo.UpdateDraftTx(ctx, tx, rec); err != nil {
				return err
			}
		}

		deducted := false

		if postDoctor {
			newDeduction, err := s.orgs.DeductForBillingTx(ctx, tx, org, fees.DoctorFee, appt.ID, rec.ID,
				refDoctorEarning, fmt.Sprintf("Doctor earning for appointment %s", appt.ID))
			if err != nil {
				return err
			}
			if newDeduction {
				s.orgs.MarkProcessed(org)
				deducted = true
			}
		}

		if postTranslator {
			newDeduction, err := s.orgs.DeductForBillingTx(ctx, tx, org, fees.TranslatorFee, appt.ID, rec.ID,
				refTranslatorEarning, fmt.Sprintf("Translator earning for appointment %s", appt.ID))
			if err != nil {
				return err
			}
			if newDeduction {
				deducted = true
			}
		}

		if deducted {
			return s.orgs.FlushTx(ctx, tx, org)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBillingFinal) {
			// Raced a concurrent finalization; nothing left to do.
			return nil
		}
		return err
	}

	if postDoctor {
		if err := s.postEarningPair(ctx, appt, rec, org, appt.DoctorID, fees.DoctorFee,
			refDoctorEarning, fmt.Sprintf("Consultation earning, appointment %s", appt.ID)); err != nil {
			return err
		}
	}

	if postTranslator {
		if err := s.postEarningPair(ctx, appt, rec, org, *translatorID, fees.TranslatorFee,
			refTranslatorEarning, fmt.Sprintf("Translation earning, appointment %s", appt.ID)); err != nil {
			return err
		}
	}

	// The translator wave is settled when it posted, was never required, or
	// can no longer happen because the session ended without the translator.
	translatorSettled := !appt.TranslatorRequired || postTranslator ||
		appt.Status == appointment.StatusConducted

	if postDoctor && translatorSettled {
		billed, err := s.repo.MarkBilled(ctx, rec.ID, s.now())
		if err != nil {
			return fmt.Errorf("finalize billing: %w", err)
		}
		if billed {
			s.log.Info().
				Str("billing_id", rec.ID.String()).
				Str("appointment_id", appt.ID.String()).
				Str("organization_id", org.ID.String()).
				Str("total", fees.Total.String()).
				Msg("appointment billed")
		}
	}

	return nil
}

// postEarningPair writes a provider earning and the mirroring negative
// adjustment against the funding organization's wallet. Both postings share
// the wave's reference so retries skip the halves that already landed.
func (s *Service) postEarningPair(ctx context.Context, appt *appointment.Appointment, rec *Record, org *organization.Profile, providerID uuid.UUID, amount decimal.Decimal, reference, description string) error {
	apptID := appt.ID
	billingID := rec.ID

	if _, _, err := s.wallets.PostEarning(ctx, wallet.PostParams{
		UserID:               providerID,
		Amount:               amount,
		RelatedAppointmentID: &apptID,
		RelatedBillingID:     &billingID,
		Reference:            reference,
		Description:          description,
	}); err != nil {
		return fmt.Errorf("post earning (%s): %w", reference, err)
	}

	if _, _, err := s.wallets.PostAdjustment(ctx, wallet.PostParams{
		UserID:               org.UserID,
		Amount:               amount.Neg(),
		RelatedAppointmentID: &apptID,
		RelatedBillingID:     &billingID,
		Reference:            reference,
		Description:          fmt.Sprintf("Funding deduction, appointment %s", appt.ID),
	}); err != nil {
		return fmt.Errorf("post funding adjustment (%s): %w", reference, err)
	}

	return nil
}

// CancelAppointmentBilling voids a draft when its appointment is cancelled.
// Billed records stay billed; funds already moved are settled through
// refunds, not by unwinding the record.
func (s *Service) CancelAppointmentBilling(ctx context.Context, appointmentID uuid.UUID) error {
	cancelled, err := s.repo.CancelDraft(ctx, appointmentID, s.now())
	if err != nil {
		return err
	}
	if cancelled {
		s.log.Info().
			Str("appointment_id", appointmentID.String()).
			Msg("billing draft cancelled")
	}
	return nil
}

// GetByAppointment returns the billing record for an appointment.
func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}

// UpsertServiceFee creates or replaces a provider's rate for one duration.
func (s *Service) UpsertServiceFee(ctx context.Context, userID uuid.UUID, durationMinutes int, amount decimal.Decimal, currency string, active bool) (*ServiceFee, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidFeeAmount
	}

	valid := false
	for _, d := range appointment.AllowedDurations {
		if durationMinutes == d {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidDuration
	}

	if currency == "" {
		currency = s.currency
	}

	fee := &ServiceFee{
		UserID:          userID,
		DurationMinutes: durationMinutes,
		Amount:          amount,
		Currency:        currency,
		Active:          active,
	}
	if err := s.repo.UpsertServiceFee(ctx, fee); err != nil {
		return nil, err
	}

	return fee, nil
}

// ListServiceFees returns a provider's configured rates.
func (s *Service) ListServiceFees(ctx context.Context, userID uuid.UUID) ([]ServiceFee, error) {
	return s.repo.ListServiceFees(ctx, userID)
}
