package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"callwallet/internal/calls"
	"callwallet/internal/payments"
	"callwallet/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// Transactions carry no user id, so they are keyed by user here.
type MemoryRepo struct {
	mu sync.Mutex

	Calls        []calls.CallSession
	Transactions map[string][]wallet.Transaction // key: user_id
	Payments     []payments.Payment
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Transactions: map[string][]wallet.Transaction{}}
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func (r *MemoryRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallSession, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallSession, 0)
	for _, c := range r.Calls {
		if c.IsParticipant(userID) && inRange(c.StartedAt, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]wallet.Transaction, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.Transaction, 0)
	for _, t := range r.Transactions[userID] {
		if inRange(t.CreatedAt, from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListPayments(ctx context.Context, userID string, from, to time.Time) ([]payments.Payment, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]payments.Payment, 0)
	for _, p := range r.Payments {
		if p.UserID == userID && inRange(p.CreatedAt, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}
