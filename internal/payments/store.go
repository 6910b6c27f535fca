package payments

import (
	"context"
	"time"
)

// Store persists payments.
type Store interface {
	Insert(ctx context.Context, p Payment) error
	// GetByReference returns ErrNotFound unless the payment exists and belongs to userID.
	GetByReference(ctx context.Context, reference, userID string) (Payment, error)
	// Transition writes p only if the stored status is still from; otherwise errStatusConflict.
	Transition(ctx context.Context, p Payment, from PaymentStatus) error
	// ListByUser returns the newest payments first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Payment, error)
	// ListByUserBetween returns payments created in [from, to), oldest first.
	ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]Payment, error)
}
