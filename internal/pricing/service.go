package pricing

import (
	"context"
	"errors"
)

// Service resolves call rates and prices durations.
//
// Contract:
// - Pure calculation + repository lookups.
// - Every started billing increment is charged in full.
type Service struct {
	repo RateRepository
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo}
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

// RateFor returns the active rate for a call type.
func (s *Service) RateFor(ctx context.Context, callType string) (MinuteRate, error) {
	if callType == "" {
		return MinuteRate{}, ErrInvalidPricingReq
	}
	r, ok, err := s.repo.FindRate(ctx, callType)
	if err != nil {
		return MinuteRate{}, err
	}
	if !ok {
		return MinuteRate{}, ErrPricingNotFound
	}
	return r, nil
}

// Quote prices a call of durationSeconds at rate. A zero-length call costs nothing.
func Quote(durationSeconds int, rate MinuteRate) CallCost {
	billableSec := 0
	if durationSeconds > 0 {
		billableSec = billableSeconds(durationSeconds, rate.MinimumBillableSeconds, rate.BillingIncrementSeconds)
	}
	billableMin := billableMinutesFromSeconds(billableSec)

	return CallCost{
		Currency:           rate.Currency,
		BillableSeconds:    billableSec,
		BillableMinutes:    billableMin,
		RatePerMinuteMinor: rate.RatePerMinuteMinor,
		TotalMinor:         rate.RatePerMinuteMinor * int64(billableMin),
	}
}

// RateRepository abstracts rate persistence.
type RateRepository interface {
	FindRate(ctx context.Context, callType string) (MinuteRate, bool, error)
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
