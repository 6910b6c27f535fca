package payments

import "time"

// Payment is one wallet top-up collected through the gateway.
//
// Lifecycle: processing -> completed | failed. A completed payment has credited the wallet
// exactly once, with Reference as the ledger reference.
type Payment struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	AmountMinor int64  `json:"amount" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`
	Method      Method `json:"payment_method" db:"method"`

	Status PaymentStatus `json:"status" db:"status"`

	// Reference is ours (PAY_...); ExternalReference is the gateway's.
	Reference         string `json:"reference" db:"reference"`
	ExternalReference string `json:"external_reference,omitempty" db:"external_reference"`
	Provider          string `json:"provider,omitempty" db:"provider"`
	AuthorizationURL  string `json:"authorization_url,omitempty" db:"authorization_url"`

	Metadata     PaymentMetadata `json:"metadata" db:"metadata"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`

	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

type PaymentMetadata struct {
	PaymentMethod       Method    `json:"payment_method"`
	InitiatedAt         time.Time `json:"initiated_at"`
	CreditTransactionID string    `json:"credit_transaction_id,omitempty"`
}

type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodUSSD         Method = "ussd"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodBankTransfer, MethodUSSD:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)
