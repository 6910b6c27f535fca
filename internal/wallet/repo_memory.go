package wallet

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for local runs and tests.
// Writes made through a Tx are staged and applied only when the tx function returns nil.
type MemoryStore struct {
	mu       sync.Mutex
	byUser   map[string]Wallet
	userByID map[string]string
	txns     map[string][]Transaction // wallet id -> entries in insertion order
	locks    map[string]*sync.Mutex  // user id -> wallet lock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser:   map[string]Wallet{},
		userByID: map[string]string{},
		txns:     map[string][]Transaction{},
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *MemoryStore) InsertWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[w.UserID]; ok {
		return ErrAlreadyExists
	}
	s.byUser[w.UserID] = w
	s.userByID[w.ID] = w.UserID
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byUser[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) SetActive(_ context.Context, userID string, active bool, at time.Time) error {
	l := s.walletLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byUser[userID]
	if !ok {
		return ErrNotFound
	}
	w.IsActive = active
	w.UpdatedAt = at
	s.byUser[userID] = w
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, walletID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.txns[walletID]
	out := make([]Transaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsBetween(_ context.Context, walletID string, from, to time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0)
	for _, t := range s.txns[walletID] {
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: s, held: map[string]*sync.Mutex{}, balances: map[string]balanceUpdate{}}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) walletLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

type balanceUpdate struct {
	balance int64
	at      time.Time
}

type memTx struct {
	store    *MemoryStore
	held     map[string]*sync.Mutex
	inserts  []Transaction
	balances map[string]balanceUpdate
}

func (t *memTx) LockWallet(ctx context.Context, userID string) (Wallet, error) {
	if _, ok := t.held[userID]; !ok {
		if err := ctx.Err(); err != nil {
			return Wallet{}, err
		}
		l := t.store.walletLock(userID)
		l.Lock()
		t.held[userID] = l
	}
	w, err := t.store.GetWallet(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	if u, ok := t.balances[w.ID]; ok {
		w.BalanceMinor = u.balance
	}
	return w, nil
}

func (t *memTx) FindCompletedByReference(_ context.Context, walletID, reference string) (Transaction, bool, error) {
	for _, e := range t.inserts {
		if e.WalletID == walletID && e.Reference == reference && e.Status == TransactionStatusCompleted {
			return e, true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, e := range t.store.txns[walletID] {
		if e.Reference == reference && e.Status == TransactionStatusCompleted {
			return e, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (t *memTx) InsertTransaction(_ context.Context, e Transaction) error {
	t.inserts = append(t.inserts, e)
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, walletID string, balanceMinor int64, at time.Time) error {
	t.store.mu.Lock()
	_, ok := t.store.userByID[walletID]
	t.store.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t.balances[walletID] = balanceUpdate{balance: balanceMinor, at: at}
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range t.inserts {
		s.txns[e.WalletID] = append(s.txns[e.WalletID], e)
	}
	for walletID, u := range t.balances {
		userID := s.userByID[walletID]
		w := s.byUser[userID]
		w.BalanceMinor = u.balance
		at := u.at
		w.LastTransactionAt = &at
		w.UpdatedAt = at
		s.byUser[userID] = w
	}
}

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
}
