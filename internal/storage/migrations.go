// Package storage owns the Postgres schema shared by the wallet, calls, payments and
// audit stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"callwallet/pkg/utils"
)

// Migration is one forward-only schema step. Versions apply in slice order.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// migrationLockKey serializes concurrent API instances migrating the same database.
const migrationLockKey = 7_262_001

var Migrations = []Migration{
	{
		Version: "20250101000001",
		Name:    "create_wallets",
		SQL: `
CREATE TABLE IF NOT EXISTS wallets (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    currency            TEXT NOT NULL,
    balance_minor       BIGINT NOT NULL DEFAULT 0 CHECK (balance_minor >= 0),
    is_active           BOOLEAN NOT NULL DEFAULT TRUE,
    last_transaction_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_user ON wallets (user_id);
`,
	},
	{
		Version: "20250101000002",
		Name:    "create_wallet_transactions",
		SQL: `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    id             TEXT PRIMARY KEY,
    wallet_id      TEXT NOT NULL REFERENCES wallets (id),
    direction      TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
    amount_minor   BIGINT NOT NULL CHECK (amount_minor > 0),
    description    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    reference      TEXT NOT NULL,
    metadata       JSONB NOT NULL DEFAULT '{}',
    balance_before BIGINT NOT NULL,
    balance_after  BIGINT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_wallet_txns_wallet_created ON wallet_transactions (wallet_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_txns_completed_ref
    ON wallet_transactions (wallet_id, reference) WHERE status = 'completed';
`,
	},
	{
		Version: "20250101000003",
		Name:    "create_call_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS call_sessions (
    id                    TEXT PRIMARY KEY,
    session_id            TEXT NOT NULL,
    caller_id             TEXT NOT NULL,
    receiver_id           TEXT NOT NULL,
    call_type             TEXT NOT NULL,
    status                TEXT NOT NULL,
    started_at            TIMESTAMPTZ NOT NULL,
    connected_at          TIMESTAMPTZ,
    ended_at              TIMESTAMPTZ,
    duration_seconds      INT NOT NULL DEFAULT 0,
    cost_minor            BIGINT NOT NULL DEFAULT 0,
    rate_per_minute_minor BIGINT NOT NULL DEFAULT 0,
    end_reason            TEXT NOT NULL DEFAULT '',
    metadata              JSONB NOT NULL DEFAULT '{}',
    signaling             JSONB NOT NULL DEFAULT '{}',
    version               BIGINT NOT NULL DEFAULT 1,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_call_sessions_session ON call_sessions (session_id);
CREATE INDEX IF NOT EXISTS idx_call_sessions_caller ON call_sessions (caller_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_call_sessions_receiver ON call_sessions (receiver_id, created_at DESC);
`,
	},
	{
		Version: "20250101000004",
		Name:    "create_payments",
		SQL: `
CREATE TABLE IF NOT EXISTS payments (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    amount_minor       BIGINT NOT NULL CHECK (amount_minor > 0),
    currency           TEXT NOT NULL,
    method             TEXT NOT NULL,
    status             TEXT NOT NULL,
    reference          TEXT NOT NULL,
    external_reference TEXT NOT NULL DEFAULT '',
    provider           TEXT NOT NULL DEFAULT '',
    authorization_url  TEXT NOT NULL DEFAULT '',
    metadata           JSONB NOT NULL DEFAULT '{}',
    error_message      TEXT NOT NULL DEFAULT '',
    completed_at       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_reference ON payments (reference);
CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments (user_id, created_at DESC);
`,
	},
	{
		Version: "20250101000005",
		Name:    "create_audit_events",
		SQL: `
CREATE TABLE IF NOT EXISTS audit_events (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    type              TEXT NOT NULL,
    session_id        TEXT,
    payment_reference TEXT,
    amount_minor      BIGINT NOT NULL DEFAULT 0,
    message           TEXT NOT NULL DEFAULT '',
    metadata          JSONB,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events (user_id, created_at DESC);
`,
	},
}

const bootstrapSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate applies every migration not yet recorded in schema_migrations. Each step runs in
// its own transaction under an advisory lock.
func Migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.ExecContext(ctx, bootstrapSQL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range Migrations {
		applied := false
		err := utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
			); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Name, err)
		}
		if applied {
			log.Info("migration applied", "version", m.Version, "name", m.Name)
		}
	}
	return nil
}

// MigrationStatus pairs a known migration with the time it was applied, if it was.
type MigrationStatus struct {
	Migration
	AppliedAt *time.Time
}

// Status reports every known migration in order.
func Status(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	if _, err := db.ExecContext(ctx, bootstrapSQL); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]time.Time{}
	for rows.Next() {
		var (
			v  string
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		applied[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(Migrations))
	for _, m := range Migrations {
		st := MigrationStatus{Migration: m}
		if at, ok := applied[m.Version]; ok {
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}
