package reporting

import (
	"context"
	"errors"
	"time"

	"callwallet/internal/calls"
	"callwallet/internal/payments"
	"callwallet/internal/wallet"
)

// ServiceRepo reads through the domain services, so reports see the same stores the API writes.
type ServiceRepo struct {
	Calls    *calls.Service
	Wallets  *wallet.Service
	Payments *payments.Service
}

func (r ServiceRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallSession, error) {
	return r.Calls.SessionsBetween(ctx, userID, from, to)
}

// ListTransactions returns no rows for a user without a wallet.
func (r ServiceRepo) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]wallet.Transaction, error) {
	out, err := r.Wallets.TransactionsBetween(ctx, userID, from, to)
	if errors.Is(err, wallet.ErrNotFound) {
		return []wallet.Transaction{}, nil
	}
	return out, err
}

func (r ServiceRepo) ListPayments(ctx context.Context, userID string, from, to time.Time) ([]payments.Payment, error) {
	return r.Payments.PaymentsBetween(ctx, userID, from, to)
}
