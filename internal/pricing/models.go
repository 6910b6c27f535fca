package pricing

// Amounts are expressed in minor units using int64.

// MinuteRate defines per-minute charges for one call type.
type MinuteRate struct {
	// CallType examples: voice, video.
	CallType string `json:"call_type"`

	Currency string `json:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor"`

	// BillingIncrementSeconds (60 for per-minute billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration for calls that connected.
	MinimumBillableSeconds int `json:"minimum_billable_seconds"`

	Status RateStatus `json:"status"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

// CallCost is the priced outcome of a call duration.
type CallCost struct {
	Currency string `json:"currency"`

	BillableSeconds int `json:"billable_seconds"`
	BillableMinutes int `json:"billable_minutes"`

	RatePerMinuteMinor int64 `json:"rate_per_minute_minor"`
	TotalMinor         int64 `json:"total_minor"`
}
