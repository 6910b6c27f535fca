package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callwallet/pkg/utils"
)

// PostgresStore implements Store on call_sessions (UNIQUE session_id, indexed by caller and receiver).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, session_id, caller_id, receiver_id, call_type, status,
       started_at, connected_at, ended_at, duration_seconds, cost_minor, rate_per_minute_minor,
       end_reason, metadata, signaling, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var (
		s                    CallSession
		connectedAt, endedAt sql.NullTime
		meta, signaling      []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.SessionID,
		&s.CallerID,
		&s.ReceiverID,
		&s.CallType,
		&s.Status,
		&s.StartedAt,
		&connectedAt,
		&endedAt,
		&s.DurationSeconds,
		&s.CostMinor,
		&s.RatePerMinuteMinor,
		&s.EndReason,
		&meta,
		&signaling,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	if connectedAt.Valid {
		t := connectedAt.Time
		s.ConnectedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return CallSession{}, fmt.Errorf("decode metadata of %s: %w", s.SessionID, err)
		}
	}
	if len(signaling) > 0 {
		if err := json.Unmarshal(signaling, &s.Signaling); err != nil {
			return CallSession{}, fmt.Errorf("decode signaling of %s: %w", s.SessionID, err)
		}
	}
	return s, nil
}

func encodeJSON(s CallSession) (meta, signaling string, err error) {
	m, err := json.Marshal(s.Metadata)
	if err != nil {
		return "", "", err
	}
	sig := []byte("{}")
	if len(s.Signaling) > 0 {
		if sig, err = json.Marshal(s.Signaling); err != nil {
			return "", "", err
		}
	}
	return string(m), string(sig), nil
}

func (r *PostgresStore) Insert(ctx context.Context, s CallSession) error {
	meta, signaling, err := encodeJSON(s)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (
  id, session_id, caller_id, receiver_id, call_type, status,
  started_at, connected_at, ended_at, duration_seconds, cost_minor, rate_per_minute_minor,
  end_reason, metadata, signaling, version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID,
		s.SessionID,
		s.CallerID,
		s.ReceiverID,
		s.CallType,
		s.Status,
		s.StartedAt,
		s.ConnectedAt,
		s.EndedAt,
		s.DurationSeconds,
		s.CostMinor,
		s.RatePerMinuteMinor,
		s.EndReason,
		meta,
		signaling,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return errDuplicateSession
	}
	return err
}

func (r *PostgresStore) GetBySessionID(ctx context.Context, sessionID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE session_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, sessionID))
}

func (r *PostgresStore) Update(ctx context.Context, s CallSession, expectedVersion int64) error {
	meta, signaling, err := encodeJSON(s)
	if err != nil {
		return err
	}
	const q = `
UPDATE call_sessions
SET status = $2, connected_at = $3, ended_at = $4, duration_seconds = $5, cost_minor = $6,
    end_reason = $7, metadata = $8, signaling = $9, version = $10, updated_at = $11
WHERE session_id = $1 AND version = $12
`
	res, err := r.db.ExecContext(ctx, q,
		s.SessionID,
		s.Status,
		s.ConnectedAt,
		s.EndedAt,
		s.DurationSeconds,
		s.CostMinor,
		s.EndReason,
		meta,
		signaling,
		s.Version,
		s.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errVersionConflict
	}
	return nil
}

func (r *PostgresStore) ListByParticipant(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	q := `SELECT ` + sessionColumns + `
FROM call_sessions
WHERE caller_id = $1 OR receiver_id = $1
ORDER BY created_at DESC
LIMIT $2`
	return r.query(ctx, q, userID, limit)
}

func (r *PostgresStore) ListByParticipantBetween(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error) {
	q := `SELECT ` + sessionColumns + `
FROM call_sessions
WHERE (caller_id = $1 OR receiver_id = $1) AND started_at >= $2 AND started_at < $3
ORDER BY started_at ASC`
	return r.query(ctx, q, userID, from, to)
}

func (r *PostgresStore) FindActiveByParticipant(ctx context.Context, userID string) (CallSession, bool, error) {
	q := `SELECT ` + sessionColumns + `
FROM call_sessions
WHERE (caller_id = $1 OR receiver_id = $1) AND status IN ('initiated','ringing','connected')
ORDER BY created_at DESC
LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CallSession{}, false, nil
		}
		return CallSession{}, false, err
	}
	return s, true, nil
}

func (r *PostgresStore) query(ctx context.Context, q string, args ...any) ([]CallSession, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
