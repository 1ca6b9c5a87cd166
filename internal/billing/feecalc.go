package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// FeeSource resolves a provider's currently active rate for a session
// duration. Implemented by the billing repository; an interface so the
// calculator can be tested without a database.
type FeeSource interface {
	GetActiveServiceFee(ctx context.Context, userID uuid.UUID, durationMinutes int) (decimal.Decimal, error)
}

// FeeBreakdown is the computed fee split for one appointment.
type FeeBreakdown struct {
	DoctorFee             decimal.Decimal
	TranslatorFee         decimal.Decimal
	PlatformFee           decimal.Decimal
	PlatformFeePercentage decimal.Decimal
	Total                 decimal.Decimal
}

// FeeCalculator computes the billing amounts for a session. A provider
// without a configured fee resolves to zero rather than an error; that is
// the documented policy for onboarding providers who have not set rates yet.
type FeeCalculator struct {
	fees            FeeSource
	platformPercent decimal.Decimal
}

func NewFeeCalculator(fees FeeSource, platformPercent decimal.Decimal) *FeeCalculator {
	return &FeeCalculator{
		fees:            fees,
		platformPercent: platformPercent,
	}
}

// Calculate resolves the doctor's and (when assigned) translator's rates for
// the duration and adds the platform cut, rounded half-up to two decimal
// places. All arithmetic is decimal; floats never touch money.
func (c *FeeCalculator) Calculate(ctx context.Context, doctorID uuid.UUID, translatorID *uuid.UUID, durationMinutes int) (FeeBreakdown, error) {
	doctorFee, err := c.lookup(ctx, doctorID, durationMinutes)
	if err != nil {
		return FeeBreakdown{}, fmt.Errorf("doctor fee: %w", err)
	}

	translatorFee := decimal.Zero
	if translatorID != nil {
		translatorFee, err = c.lookup(ctx, *translatorID, durationMinutes)
		if err != nil {
			return FeeBreakdown{}, fmt.Errorf("translator fee: %w", err)
		}
	}

	platformFee := doctorFee.Add(translatorFee).
		Mul(c.platformPercent).
		Div(oneHundred).
		Round(2)

	return FeeBreakdown{
		DoctorFee:             doctorFee,
		TranslatorFee:         translatorFee,
		PlatformFee:           platformFee,
		PlatformFeePercentage: c.platformPercent,
		Total:                 doctorFee.Add(translatorFee).Add(platformFee),
	}, nil
}

func (c *FeeCalculator) lookup(ctx context.Context, userID uuid.UUID, durationMinutes int) (decimal.Decimal, error) {
	amount, err := c.fees.GetActiveServiceFee(ctx, userID, durationMinutes)
	if err != nil {
		if errors.Is(err, ErrServiceFeeNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return amount, nil
}
