package calls

import (
	"encoding/json"
	"time"
)

// CallSession is one metered call between two users.
//
// Money invariant reminder: the end-of-call charge is a wallet debit whose reference is
// SessionID. Cost here is informational; the ledger is the source of truth.
//
// Sessions are never deleted. Every write bumps Version.
type CallSession struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`

	CallerID   string   `json:"caller_id" db:"caller_id"`
	ReceiverID string   `json:"receiver_id" db:"receiver_id"`
	CallType   CallType `json:"call_type" db:"call_type"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds counts whole seconds between connect and end.
	DurationSeconds int `json:"duration" db:"duration_seconds"`

	CostMinor          int64 `json:"cost" db:"cost_minor"`
	RatePerMinuteMinor int64 `json:"rate_per_minute" db:"rate_per_minute_minor"`

	EndReason string `json:"end_reason,omitempty" db:"end_reason"`

	Metadata  SessionMetadata   `json:"metadata" db:"metadata"`
	Signaling map[string]Signal `json:"signaling_data,omitempty" db:"signaling"`

	Version int64 `json:"-" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SessionMetadata holds client labels plus billing bookkeeping.
type SessionMetadata struct {
	// Client carries caller-supplied labels (device, app version, ...).
	Client map[string]string `json:"client,omitempty"`

	BilledMinutes      int    `json:"billed_minutes,omitempty"`
	DebitTransactionID string `json:"debit_transaction_id,omitempty"`
	PaymentFailed      bool   `json:"payment_failed,omitempty"`
	PaymentError       string `json:"payment_error,omitempty"`
}

// Signal is the last payload a participant stored for one signal type (offer, answer, ...).
// Data is opaque to this service.
type Signal struct {
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusFailed    CallStatus = "failed"
	CallStatusMissed    CallStatus = "missed"
)

func (s CallStatus) Active() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusConnected:
		return true
	}
	return false
}

func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusFailed, CallStatusMissed:
		return true
	}
	return false
}

// rank orders the forward progression of an active call.
func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusConnected:
		return 2
	}
	return 3
}

func (s CallSession) IsParticipant(userID string) bool {
	return userID != "" && (s.CallerID == userID || s.ReceiverID == userID)
}
