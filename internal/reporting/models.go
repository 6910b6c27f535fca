package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// UsageSummary aggregates the calls a user took part in.
// Cost figures only count calls the user placed; receivers are never billed.
type UsageSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	CallsPlaced   int `json:"calls_placed"`
	CallsReceived int `json:"calls_received"`

	EndedCalls      int `json:"ended_calls"`
	MissedCalls     int `json:"missed_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	BilledMinutes          int `json:"billed_minutes"`

	TotalCostMinor int64 `json:"total_cost_minor"`
	// UnpaidCalls ended but their charge could not be debited.
	UnpaidCalls     int   `json:"unpaid_calls"`
	UnpaidCostMinor int64 `json:"unpaid_cost_minor"`
}

// SpendSummary is derived from the immutable wallet transaction log plus payment outcomes.
type SpendSummary struct {
	UserID   string    `json:"user_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency"`

	TotalCreditMinor int64 `json:"total_credit_minor"`
	TotalDebitMinor  int64 `json:"total_debit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	CallChargeMinor int64 `json:"call_charge_minor"`
	TopUpMinor      int64 `json:"top_up_minor"`

	PaymentsCompleted int `json:"payments_completed"`
	PaymentsFailed    int `json:"payments_failed"`
	PaymentsPending   int `json:"payments_pending"`
}
