package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"callwallet/pkg/ids"
)

// Service is the only mutator of wallet balances.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - Every mutation runs inside Store.WithinTx with the wallet locked
// - A reference is applied at most once per wallet
type Service struct {
	store    Store
	currency string
	log      *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

const defaultHistoryLimit = 50

var (
	ErrNotFound            = errors.New("wallet not found")
	ErrAlreadyExists       = errors.New("wallet already exists")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrWalletInactive      = errors.New("wallet inactive")
	// ErrLedgerFault wraps storage failures during a mutation. No partial state is left behind.
	ErrLedgerFault = errors.New("ledger fault")

	// errDuplicateReference is returned by stores when the (wallet, reference) unique
	// index rejects an insert. The mutation is retried once so the lookup finds the winner.
	errDuplicateReference = errors.New("duplicate reference")
)

func NewService(store Store, currency string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, currency: currency, log: log, clock: time.Now}
}

func (s *Service) CreateWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	w := Wallet{
		ID:           ids.New(ids.PrefixWallet),
		UserID:       userID,
		Currency:     s.currency,
		BalanceMinor: 0,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertWallet(ctx, w); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (s *Service) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return s.store.GetWallet(ctx, userID)
}

// SetActive freezes (false) or unfreezes (true) a wallet. A frozen wallet rejects credits and debits.
func (s *Service) SetActive(ctx context.Context, userID string, active bool) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	return s.store.SetActive(ctx, userID, active, s.clock().UTC())
}

// History returns the newest transactions first. limit <= 0 means the default of 50.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListTransactions(ctx, w.ID, limit)
}

// TransactionsBetween returns the wallet's transactions created in [from, to), oldest first.
func (s *Service) TransactionsBetween(ctx context.Context, userID string, from, to time.Time) ([]Transaction, error) {
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactionsBetween(ctx, w.ID, from, to)
}

// FindByReference returns the completed transaction posted to the user's wallet under
// reference, if any.
func (s *Service) FindByReference(ctx context.Context, userID, reference string) (Transaction, bool, error) {
	if reference == "" {
		return Transaction{}, false, ErrInvalidArgument
	}
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return Transaction{}, false, err
	}
	var (
		out   Transaction
		found bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		out, found, err = tx.FindCompletedByReference(ctx, w.ID, reference)
		return err
	})
	if err != nil {
		return Transaction{}, false, err
	}
	return out, found, nil
}

func (s *Service) Credit(ctx context.Context, userID string, p Posting) (Transaction, error) {
	return s.post(ctx, userID, DirectionCredit, p)
}

// Debit fails with ErrInsufficientBalance, leaving the wallet untouched, if the amount exceeds the balance.
func (s *Service) Debit(ctx context.Context, userID string, p Posting) (Transaction, error) {
	return s.post(ctx, userID, DirectionDebit, p)
}

func validatePosting(userID string, p Posting) error {
	if userID == "" || p.Reference == "" {
		return ErrInvalidArgument
	}
	if p.AmountMinor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s *Service) post(ctx context.Context, userID string, dir Direction, p Posting) (Transaction, error) {
	if err := validatePosting(userID, p); err != nil {
		return Transaction{}, err
	}
	out, err := s.apply(ctx, userID, dir, p)
	if errors.Is(err, errDuplicateReference) {
		out, err = s.apply(ctx, userID, dir, p)
	}
	if err != nil {
		if isDomainError(err) {
			return Transaction{}, err
		}
		s.log.Error("ledger mutation failed",
			"user_id", userID,
			"direction", string(dir),
			"reference", p.Reference,
			"error", err.Error(),
		)
		return Transaction{}, fmt.Errorf("%w: %w", ErrLedgerFault, err)
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, userID string, dir Direction, p Posting) (Transaction, error) {
	now := s.clock().UTC()
	entryID := ids.New(ids.PrefixTransaction)

	var out Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}

		// Idempotency: a retry with the same reference returns the original entry.
		if existing, ok, err := tx.FindCompletedByReference(ctx, w.ID, p.Reference); err != nil {
			return err
		} else if ok {
			out = existing
			return nil
		}

		if !w.IsActive {
			return ErrWalletInactive
		}

		before := w.BalanceMinor
		var after int64
		switch dir {
		case DirectionCredit:
			if p.AmountMinor > math.MaxInt64-before {
				return ErrInvalidAmount
			}
			after = before + p.AmountMinor
		case DirectionDebit:
			if p.AmountMinor > before {
				return ErrInsufficientBalance
			}
			after = before - p.AmountMinor
		}

		entry := Transaction{
			ID:            entryID,
			WalletID:      w.ID,
			Direction:     dir,
			AmountMinor:   p.AmountMinor,
			Description:   p.Description,
			Status:        TransactionStatusCompleted,
			Reference:     p.Reference,
			Metadata:      p.Metadata,
			BalanceBefore: before,
			BalanceAfter:  after,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, w.ID, after, now); err != nil {
			return err
		}
		out = entry
		return nil
	})
	return out, err
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrInvalidAmount,
		ErrInsufficientBalance,
		ErrInvalidArgument,
		ErrWalletInactive,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
