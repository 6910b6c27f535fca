package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callwallet/pkg/utils"
)

// PostgresStore implements Store on the following tables (see internal/storage):
// - wallets (UNIQUE user_id, CHECK balance_minor >= 0)
// - wallet_transactions (append-only, UNIQUE (wallet_id, reference) WHERE status = 'completed')
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, user_id, currency, balance_minor, is_active, last_transaction_at, created_at, updated_at`

const transactionColumns = `id, wallet_id, direction, amount_minor, description, status, reference, metadata,
       balance_before, balance_after, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w       Wallet
		lastTxn sql.NullTime
	)
	if err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Currency,
		&w.BalanceMinor,
		&w.IsActive,
		&lastTxn,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	if lastTxn.Valid {
		at := lastTxn.Time
		w.LastTransactionAt = &at
	}
	return w, nil
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t    Transaction
		meta []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.WalletID,
		&t.Direction,
		&t.AmountMinor,
		&t.Description,
		&t.Status,
		&t.Reference,
		&meta,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.CreatedAt,
	); err != nil {
		return Transaction{}, err
	}
	m, err := unmarshalMetadata(meta)
	if err != nil {
		return Transaction{}, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
	}
	t.Metadata = m
	return t, nil
}

func (s *PostgresStore) InsertWallet(ctx context.Context, w Wallet) error {
	const q = `
INSERT INTO wallets (id, user_id, currency, balance_minor, is_active, last_transaction_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := s.db.ExecContext(ctx, q,
		w.ID,
		w.UserID,
		w.Currency,
		w.BalanceMinor,
		w.IsActive,
		w.LastTransactionAt,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(s.db.QueryRowContext(ctx, q, userID))
}

func (s *PostgresStore) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	const q = `UPDATE wallets SET is_active = $2, updated_at = $3 WHERE user_id = $1`
	res, err := s.db.ExecContext(ctx, q, userID, active, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error) {
	q := `SELECT ` + transactionColumns + `
FROM wallet_transactions
WHERE wallet_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	return s.queryTransactions(ctx, q, walletID, limit)
}

func (s *PostgresStore) ListTransactionsBetween(ctx context.Context, walletID string, from, to time.Time) ([]Transaction, error) {
	q := `SELECT ` + transactionColumns + `
FROM wallet_transactions
WHERE wallet_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC, id ASC`
	return s.queryTransactions(ctx, q, walletID, from, to)
}

func (s *PostgresStore) queryTransactions(ctx context.Context, q string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx *sql.Tx
}

func (t pgTx) LockWallet(ctx context.Context, userID string) (Wallet, error) {
	// Row lock serializes concurrent money operations per wallet.
	q := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	return scanWallet(t.tx.QueryRowContext(ctx, q, userID))
}

func (t pgTx) FindCompletedByReference(ctx context.Context, walletID, reference string) (Transaction, bool, error) {
	q := `SELECT ` + transactionColumns + `
FROM wallet_transactions
WHERE wallet_id = $1 AND reference = $2 AND status = 'completed'
LIMIT 1`
	e, err := scanTransaction(t.tx.QueryRowContext(ctx, q, walletID, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return e, true, nil
}

func (t pgTx) InsertTransaction(ctx context.Context, e Transaction) error {
	meta, err := e.Metadata.marshal()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO wallet_transactions (
  id, wallet_id, direction, amount_minor, description, status, reference, metadata,
  balance_before, balance_after, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err = t.tx.ExecContext(ctx, q,
		e.ID,
		e.WalletID,
		e.Direction,
		e.AmountMinor,
		e.Description,
		e.Status,
		e.Reference,
		string(meta),
		e.BalanceBefore,
		e.BalanceAfter,
		e.CreatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return errDuplicateReference
	}
	return err
}

func (t pgTx) UpdateBalance(ctx context.Context, walletID string, balanceMinor int64, at time.Time) error {
	const q = `
UPDATE wallets
SET balance_minor = $2, last_transaction_at = $3, updated_at = $3
WHERE id = $1
`
	res, err := t.tx.ExecContext(ctx, q, walletID, balanceMinor, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("update balance: %d rows affected", n)
	}
	return nil
}
