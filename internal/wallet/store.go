package wallet

import (
	"context"
	"time"
)

// Store is the ledger persistence contract. Only Service writes through it.
//
// Implementations must guarantee that everything done through a Tx inside WithinTx is
// applied atomically (all or nothing), and that LockWallet serializes concurrent
// transactions on the same wallet until the enclosing WithinTx returns.
type Store interface {
	// InsertWallet returns ErrAlreadyExists if the user already owns a wallet.
	InsertWallet(ctx context.Context, w Wallet) error
	// GetWallet returns ErrNotFound if the user has no wallet.
	GetWallet(ctx context.Context, userID string) (Wallet, error)
	// SetActive returns ErrNotFound if the user has no wallet.
	SetActive(ctx context.Context, userID string, active bool, at time.Time) error
	// ListTransactions returns the newest transactions first.
	ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error)
	// ListTransactionsBetween returns transactions created in [from, to), oldest first.
	ListTransactionsBetween(ctx context.Context, walletID string, from, to time.Time) ([]Transaction, error)

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit of work of a single balance mutation.
type Tx interface {
	// LockWallet loads the user's wallet and holds it exclusively for the rest of the tx.
	LockWallet(ctx context.Context, userID string) (Wallet, error)
	FindCompletedByReference(ctx context.Context, walletID, reference string) (Transaction, bool, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	UpdateBalance(ctx context.Context, walletID string, balanceMinor int64, at time.Time) error
}
