package wallet

import (
	"encoding/json"
	"time"
)

// Wallet is the per-user prepaid balance.
// Invariant: BalanceMinor >= 0. Created exactly once per user, with balance 0.
// No code should ever change BalanceMinor without writing a corresponding Transaction.
type Wallet struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	Currency string `json:"currency" db:"currency"`

	// BalanceMinor is the balance in minor currency units.
	BalanceMinor int64 `json:"balance" db:"balance_minor"`

	IsActive          bool       `json:"is_active" db:"is_active"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty" db:"last_transaction_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable, append-only ledger entry.
//
// Money invariant: BalanceAfter = BalanceBefore ± AmountMinor according to Direction.
// Once written with status completed it is never mutated.
type Transaction struct {
	ID        string    `json:"id" db:"id"`
	WalletID  string    `json:"wallet_id" db:"wallet_id"`
	Direction Direction `json:"type" db:"direction"`

	// AmountMinor is always positive; Direction carries the sign.
	AmountMinor int64             `json:"amount" db:"amount_minor"`
	Description string            `json:"description" db:"description"`
	Status      TransactionStatus `json:"status" db:"status"`

	// Reference is the caller-supplied idempotency key (call session id, payment reference).
	// UNIQUE (wallet_id, reference) for completed rows.
	Reference string   `json:"reference" db:"reference"`
	Metadata  Metadata `json:"metadata" db:"metadata"`

	BalanceBefore int64 `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64 `json:"balance_after" db:"balance_after"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// MetadataKind tags which shape of Metadata is populated.
type MetadataKind string

const (
	MetadataKindCallCharge MetadataKind = "call_charge"
	MetadataKindTopUp      MetadataKind = "top_up"
)

// Metadata is a tagged union of the known transaction metadata shapes.
// Exactly one of CallCharge / TopUp is set, matching Kind.
type Metadata struct {
	Kind       MetadataKind        `json:"kind,omitempty"`
	CallCharge *CallChargeMetadata `json:"call_charge,omitempty"`
	TopUp      *TopUpMetadata      `json:"top_up,omitempty"`
}

type CallChargeMetadata struct {
	SessionID       string `json:"session_id"`
	CallType        string `json:"call_type"`
	DurationSeconds int    `json:"duration"`
	ReceiverID      string `json:"receiver_id"`
}

type TopUpMetadata struct {
	PaymentReference string `json:"payment_reference"`
	PaymentMethod    string `json:"payment_method"`
	Provider         string `json:"provider"`
}

// CallChargeMeta builds metadata for an end-of-call debit.
func CallChargeMeta(m CallChargeMetadata) Metadata {
	return Metadata{Kind: MetadataKindCallCharge, CallCharge: &m}
}

// TopUpMeta builds metadata for a settled top-up credit.
func TopUpMeta(m TopUpMetadata) Metadata {
	return Metadata{Kind: MetadataKindTopUp, TopUp: &m}
}

func (m Metadata) marshal() ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMetadata(raw []byte) (Metadata, error) {
	var m Metadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Posting is the input of a credit or debit.
type Posting struct {
	AmountMinor int64
	Description string
	// Reference is required; retries with the same reference are applied at most once.
	Reference string
	Metadata  Metadata
}
