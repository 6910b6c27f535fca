package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, user_id, type, session_id, payment_reference, amount_minor, message, metadata, created_at
) VALUES (
  $1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,NULLIF($8,'')::jsonb,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.SessionID,
		e.PaymentReference,
		e.AmountMinor,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
