package reporting

import (
	"context"
	"errors"
	"time"

	"callwallet/internal/calls"
	"callwallet/internal/payments"
	"callwallet/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations must scope every read to the user and should query immutable sources
// (wallet transactions) when possible.
type Repository interface {
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallSession, error)
	ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]wallet.Transaction, error)
	ListPayments(ctx context.Context, userID string, from, to time.Time) ([]payments.Payment, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) UsageSummary(ctx context.Context, userID string, r TimeRange) (UsageSummary, error) {
	if userID == "" || !r.valid() {
		return UsageSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return UsageSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, userID, r.From, r.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{UserID: userID, Range: r}
	ended := 0
	for _, c := range rows {
		placed := c.CallerID == userID
		if placed {
			out.CallsPlaced++
		} else {
			out.CallsReceived++
		}

		switch c.Status {
		case calls.CallStatusEnded:
			out.EndedCalls++
			ended++
			out.TotalDurationSeconds += c.DurationSeconds
		case calls.CallStatusMissed:
			out.MissedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		default:
			out.InProgressCalls++
		}

		if !placed {
			continue
		}
		out.BilledMinutes += c.Metadata.BilledMinutes
		out.TotalCostMinor += c.CostMinor
		if c.Metadata.PaymentFailed {
			out.UnpaidCalls++
			out.UnpaidCostMinor += c.CostMinor
		}
	}
	if ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, userID string, r TimeRange) (SpendSummary, error) {
	if userID == "" || !r.valid() {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	txns, err := s.repo.ListTransactions(ctx, userID, r.From, r.To)
	if err != nil {
		return SpendSummary{}, err
	}
	pays, err := s.repo.ListPayments(ctx, userID, r.From, r.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{UserID: userID, Range: r}
	for _, t := range txns {
		if t.Status != wallet.TransactionStatusCompleted {
			continue
		}
		switch t.Direction {
		case wallet.DirectionCredit:
			out.TotalCreditMinor += t.AmountMinor
		case wallet.DirectionDebit:
			out.TotalDebitMinor += t.AmountMinor
		}
		switch t.Metadata.Kind {
		case wallet.MetadataKindCallCharge:
			out.CallChargeMinor += t.AmountMinor
		case wallet.MetadataKindTopUp:
			out.TopUpMinor += t.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor

	for _, p := range pays {
		if out.Currency == "" {
			out.Currency = p.Currency
		}
		switch p.Status {
		case payments.PaymentStatusCompleted:
			out.PaymentsCompleted++
		case payments.PaymentStatusFailed:
			out.PaymentsFailed++
		default:
			out.PaymentsPending++
		}
	}
	return out, nil
}
