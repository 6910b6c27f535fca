package audit

import (
	"context"
	"errors"
	"time"

	"callwallet/pkg/ids"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = ids.New(ids.PrefixAuditEvent)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallChargeFailed records an end-of-call debit that could not be applied.
func (s *Service) LogCallChargeFailed(ctx context.Context, userID, sessionID string, amountMinor int64, reason string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeCallChargeFailed,
		SessionID:   sessionID,
		AmountMinor: amountMinor,
		Message:     reason,
	})
}

// LogPaymentSettled records a verified payment that credited the wallet.
func (s *Service) LogPaymentSettled(ctx context.Context, userID, reference string, amountMinor int64) error {
	return s.Append(ctx, Event{
		UserID:           userID,
		Type:             EventTypePaymentSettled,
		PaymentReference: reference,
		AmountMinor:      amountMinor,
		Message:          "payment settled",
	})
}

// LogPaymentFailed records a payment the gateway rejected.
func (s *Service) LogPaymentFailed(ctx context.Context, userID, reference string, amountMinor int64, reason string) error {
	return s.Append(ctx, Event{
		UserID:           userID,
		Type:             EventTypePaymentFailed,
		PaymentReference: reference,
		AmountMinor:      amountMinor,
		Message:          reason,
	})
}
