package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]Payment // reference -> payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: map[string]Payment{}}
}

func (r *MemoryStore) Insert(_ context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.Reference]; ok {
		return errDuplicateReference
	}
	r.payments[p.Reference] = p
	return nil
}

func (r *MemoryStore) GetByReference(_ context.Context, reference, userID string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok || p.UserID != userID {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryStore) Transition(_ context.Context, p Payment, from PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payments[p.Reference]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return errStatusConflict
	}
	r.payments[p.Reference] = p
	return nil
}

func (r *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Payment, error) {
	out := r.filter(func(p Payment) bool { return p.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryStore) ListByUserBetween(_ context.Context, userID string, from, to time.Time) ([]Payment, error) {
	out := r.filter(func(p Payment) bool {
		return p.UserID == userID && !p.CreatedAt.Before(from) && p.CreatedAt.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryStore) filter(keep func(Payment) bool) []Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payment, 0)
	for _, p := range r.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
