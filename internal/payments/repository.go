package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callwallet/pkg/utils"
)

// PostgresStore implements Store on payments (UNIQUE reference, indexed by user_id).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, user_id, amount_minor, currency, method, status, reference,
       external_reference, provider, authorization_url, metadata, error_message,
       completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var (
		p           Payment
		meta        []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.AmountMinor,
		&p.Currency,
		&p.Method,
		&p.Status,
		&p.Reference,
		&p.ExternalReference,
		&p.Provider,
		&p.AuthorizationURL,
		&meta,
		&p.ErrorMessage,
		&completedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return Payment{}, fmt.Errorf("decode metadata of %s: %w", p.Reference, err)
		}
	}
	return p, nil
}

func (r *PostgresStore) Insert(ctx context.Context, p Payment) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO payments (
  id, user_id, amount_minor, currency, method, status, reference,
  external_reference, provider, authorization_url, metadata, error_message,
  completed_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
`
	_, err = r.db.ExecContext(ctx, q,
		p.ID,
		p.UserID,
		p.AmountMinor,
		p.Currency,
		p.Method,
		p.Status,
		p.Reference,
		p.ExternalReference,
		p.Provider,
		p.AuthorizationURL,
		string(meta),
		p.ErrorMessage,
		p.CompletedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return errDuplicateReference
	}
	return err
}

func (r *PostgresStore) GetByReference(ctx context.Context, reference, userID string) (Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1 AND user_id = $2`
	return scanPayment(r.db.QueryRowContext(ctx, q, reference, userID))
}

func (r *PostgresStore) Transition(ctx context.Context, p Payment, from PaymentStatus) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	const q = `
UPDATE payments
SET status = $2, metadata = $3, error_message = $4, completed_at = $5, updated_at = $6
WHERE reference = $1 AND status = $7
`
	res, err := r.db.ExecContext(ctx, q,
		p.Reference,
		p.Status,
		string(meta),
		p.ErrorMessage,
		p.CompletedAt,
		p.UpdatedAt,
		from,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errStatusConflict
	}
	return nil
}

func (r *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Payment, error) {
	q := `SELECT ` + paymentColumns + `
FROM payments
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`
	return r.query(ctx, q, userID, limit)
}

func (r *PostgresStore) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]Payment, error) {
	q := `SELECT ` + paymentColumns + `
FROM payments
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC`
	return r.query(ctx, q, userID, from, to)
}

func (r *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Payment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
