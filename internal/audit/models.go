package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - user_id is the wallet owner the event is about.
// - Audit is best-effort; do not block billing or settlement on audit failures.
//
// Storage (Postgres): table audit_events, INSERT-only.
type Event struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	SessionID        string `json:"session_id,omitempty" db:"session_id"`
	PaymentReference string `json:"payment_reference,omitempty" db:"payment_reference"`

	AmountMinor int64 `json:"amount_minor" db:"amount_minor"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallChargeFailed EventType = "call_charge_failed"
	EventTypePaymentSettled   EventType = "payment_settled"
	EventTypePaymentFailed    EventType = "payment_failed"
)
