package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order and must stay idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS reminders (
		id                  TEXT PRIMARY KEY,
		customer_id         TEXT NOT NULL,
		transaction_id      TEXT,
		scheduled_at        TIMESTAMPTZ NOT NULL,
		message             VARCHAR(500) NOT NULL CHECK (char_length(message) > 0),
		subject             TEXT,
		recipient_kind      TEXT NOT NULL DEFAULT 'CUSTOMER' CHECK (recipient_kind IN ('CUSTOMER', 'OPERATOR')),
		channel_key         TEXT NOT NULL,
		priority            TEXT NOT NULL DEFAULT 'NORMAL',
		reminder_type       TEXT NOT NULL DEFAULT 'GENERAL',
		status              TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'SENT', 'FAILED', 'CANCELLED')),
		last_error          TEXT,
		provider_message_id TEXT,
		delivered_at        TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_customer_scheduled
		ON reminders (customer_id, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_pending
		ON reminders (scheduled_at) WHERE status = 'PENDING'`,
}

// Migrate creates the reminders table and its indexes inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
