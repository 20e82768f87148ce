package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm-reminders/internal/models"
)

var (
	// ErrNotFound is returned when no reminder row has the requested id.
	ErrNotFound = errors.New("reminder not found")
	// ErrStateConflict is returned when a conditional update found the row
	// but it was no longer PENDING.
	ErrStateConflict = errors.New("reminder is no longer pending")
)

const reminderColumns = `id, customer_id, transaction_id, scheduled_at, message, subject,
	recipient_kind, channel_key, priority, reminder_type, status,
	last_error, provider_message_id, delivered_at, created_at, updated_at`

// ReminderStore persists reminders in PostgreSQL. The one-way status machine
// is enforced here: every mutation is conditional on status = 'PENDING'.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

func (s *ReminderStore) Insert(ctx context.Context, r *models.Reminder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.CustomerID, nullString(r.TransactionID), r.ScheduledAt.UTC(), r.Message, nullString(r.Subject),
		string(r.RecipientKind), r.ChannelKey, string(r.Priority), r.ReminderType, string(r.Status),
		nullString(r.LastError), nullString(r.ProviderMessageID), nullTime(r.DeliveredAt),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert reminder %s: %w", r.ID, err)
	}
	return nil
}

func (s *ReminderStore) FindByID(ctx context.Context, id string) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1`, id)

	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find reminder %s: %w", id, err)
	}
	return r, nil
}

// FindPending returns every PENDING reminder, earliest first.
func (s *ReminderStore) FindPending(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = 'PENDING'
		ORDER BY scheduled_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("find pending reminders: %w", err)
	}
	return collect(rows)
}

// FindByCustomer returns a customer's reminders ordered by scheduled_at.
func (s *ReminderStore) FindByCustomer(ctx context.Context, customerID string) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE customer_id = $1
		ORDER BY scheduled_at ASC, created_at ASC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("find reminders for customer %s: %w", customerID, err)
	}
	return collect(rows)
}

// UpdateSchedule writes the mutable fields of a PENDING reminder.
func (s *ReminderStore) UpdateSchedule(ctx context.Context, r *models.Reminder) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET scheduled_at = $2, message = $3, subject = $4, recipient_kind = $5,
		    channel_key = $6, priority = $7, reminder_type = $8, updated_at = $9
		WHERE id = $1 AND status = 'PENDING'`,
		r.ID, r.ScheduledAt.UTC(), r.Message, nullString(r.Subject), string(r.RecipientKind),
		r.ChannelKey, string(r.Priority), r.ReminderType, r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update reminder %s: %w", r.ID, err)
	}
	return s.checkApplied(ctx, r.ID, res)
}

// TransitionStatus moves a PENDING reminder to a terminal status. Whichever
// transition commits first wins; later ones get ErrStateConflict.
func (s *ReminderStore) TransitionStatus(ctx context.Context, id string, to models.ReminderStatus, outcome models.DeliveryOutcome) error {
	if !models.StatusPending.CanTransitionTo(to) {
		return fmt.Errorf("invalid transition to %s", to)
	}

	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}

	var deliveredAt sql.NullTime
	if to != models.StatusCancelled {
		deliveredAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = $2, last_error = $3, provider_message_id = $4, delivered_at = $5, updated_at = $6
		WHERE id = $1 AND status = 'PENDING'`,
		id, string(to), emptyAsNull(outcome.Error), emptyAsNull(outcome.ProviderMessageID),
		deliveredAt, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("transition reminder %s to %s: %w", id, to, err)
	}
	return s.checkApplied(ctx, id, res)
}

func (s *ReminderStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// checkApplied tells a missing row apart from a row that is already terminal
// when a conditional update touched nothing.
func (s *ReminderStore) checkApplied(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for reminder %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM reminders WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status of reminder %s: %w", id, err)
	}
	return ErrStateConflict
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row scanner) (*models.Reminder, error) {
	var r models.Reminder
	var transactionID, subject, lastErr, provID sql.NullString
	var deliveredAt sql.NullTime
	var recipientKind, priority, status string

	err := row.Scan(
		&r.ID, &r.CustomerID, &transactionID, &r.ScheduledAt, &r.Message, &subject,
		&recipientKind, &r.ChannelKey, &priority, &r.ReminderType, &status,
		&lastErr, &provID, &deliveredAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.TransactionID = stringPtr(transactionID)
	r.Subject = stringPtr(subject)
	r.LastError = stringPtr(lastErr)
	r.ProviderMessageID = stringPtr(provID)
	if deliveredAt.Valid {
		t := deliveredAt.Time
		r.DeliveredAt = &t
	}
	r.RecipientKind = models.RecipientKind(recipientKind)
	r.Priority = models.Priority(priority)
	r.Status = models.ReminderStatus(status)

	return &r, nil
}

func collect(rows *sql.Rows) ([]*models.Reminder, error) {
	defer rows.Close()

	out := make([]*models.Reminder, 0)
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func emptyAsNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
