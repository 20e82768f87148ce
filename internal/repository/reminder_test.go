package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"crm-reminders/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var columns = []string{
	"id", "customer_id", "transaction_id", "scheduled_at", "message", "subject",
	"recipient_kind", "channel_key", "priority", "reminder_type", "status",
	"last_error", "provider_message_id", "delivered_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*ReminderStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReminderStore(db), mock
}

func addReminderRow(rows *sqlmock.Rows, id string, scheduledAt time.Time, status string) *sqlmock.Rows {
	created := scheduledAt.Add(-time.Hour)
	return rows.AddRow(
		id, "c1", nil, scheduledAt, "Pay invoice", nil,
		"CUSTOMER", "default", "NORMAL", "GENERAL", status,
		nil, nil, nil, created, created,
	)
}

func testReminder() *models.Reminder {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	txID := "t1"
	return &models.Reminder{
		ID:            "r1",
		CustomerID:    "c1",
		TransactionID: &txID,
		ScheduledAt:   now.Add(time.Hour),
		Message:       "Pay invoice",
		RecipientKind: models.RecipientCustomer,
		ChannelKey:    "default",
		Priority:      models.PriorityNormal,
		ReminderType:  models.DefaultReminderType,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ==========================
// Reads and writes
// ==========================

func TestReminderStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)
	r := testReminder()

	mock.ExpectExec(`INSERT INTO reminders`).
		WithArgs(
			"r1", "c1", "t1", sqlmock.AnyArg(), "Pay invoice", nil,
			"CUSTOMER", "default", "NORMAL", "GENERAL", "PENDING",
			nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Insert(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderStore_InsertError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO reminders`).WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), testReminder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert reminder r1")
}

func TestReminderStore_FindByID(t *testing.T) {
	scheduled := time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
		check   func(t *testing.T, r *models.Reminder)
	}{
		{
			name: "found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM reminders WHERE id = \$1`).
					WithArgs("r1").
					WillReturnRows(addReminderRow(sqlmock.NewRows(columns), "r1", scheduled, "PENDING"))
			},
			check: func(t *testing.T, r *models.Reminder) {
				assert.Equal(t, "r1", r.ID)
				assert.Equal(t, models.StatusPending, r.Status)
				assert.Equal(t, models.RecipientCustomer, r.RecipientKind)
				assert.True(t, r.ScheduledAt.Equal(scheduled))
				assert.Nil(t, r.TransactionID)
				assert.Nil(t, r.Subject)
				assert.Nil(t, r.DeliveredAt)
			},
		},
		{
			name: "not found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM reminders WHERE id = \$1`).
					WithArgs("r1").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			r, err := store.FindByID(context.Background(), "r1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReminderStore_FindByCustomerOrdered(t *testing.T) {
	store, mock := newMockStore(t)
	first := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns)
	addReminderRow(rows, "r1", first, "SENT")
	addReminderRow(rows, "r2", first.Add(time.Hour), "PENDING")

	mock.ExpectQuery(`FROM reminders WHERE customer_id = \$1 ORDER BY scheduled_at ASC`).
		WithArgs("c1").
		WillReturnRows(rows)

	list, err := store.FindByCustomer(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].ID)
	assert.Equal(t, "r2", list[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderStore_FindByCustomerEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM reminders WHERE customer_id = \$1`).
		WithArgs("c9").
		WillReturnRows(sqlmock.NewRows(columns))

	list, err := store.FindByCustomer(context.Background(), "c9")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestReminderStore_FindPending(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(columns)
	addReminderRow(rows, "overdue", now.Add(-time.Minute), "PENDING")
	addReminderRow(rows, "future", now.Add(time.Hour), "PENDING")

	mock.ExpectQuery(`FROM reminders WHERE status = 'PENDING' ORDER BY scheduled_at ASC`).
		WillReturnRows(rows)

	list, err := store.FindPending(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "overdue", list[0].ID)
}

// ==========================
// Conditional updates
// ==========================

func TestReminderStore_TransitionStatus(t *testing.T) {
	tests := []struct {
		name    string
		to      models.ReminderStatus
		outcome models.DeliveryOutcome
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name:    "pending to sent",
			to:      models.StatusSent,
			outcome: models.DeliveryOutcome{At: time.Now(), ProviderMessageID: "msg-1"},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reminders SET status = \$2(.+)WHERE id = \$1 AND status = 'PENDING'`).
					WithArgs("r1", "SENT", nil, "msg-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "pending to failed records reason",
			to:      models.StatusFailed,
			outcome: models.DeliveryOutcome{At: time.Now(), Error: "smtp: 550"},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reminders SET status = \$2`).
					WithArgs("r1", "FAILED", "smtp: 550", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "cancel leaves delivered_at null",
			to:      models.StatusCancelled,
			outcome: models.DeliveryOutcome{At: time.Now()},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reminders SET status = \$2`).
					WithArgs("r1", "CANCELLED", nil, nil, nil, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already terminal",
			to:   models.StatusCancelled,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reminders SET status = \$2`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT status FROM reminders WHERE id = \$1`).
					WithArgs("r1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SENT"))
			},
			wantErr: ErrStateConflict,
		},
		{
			name: "missing row",
			to:   models.StatusSent,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reminders SET status = \$2`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT status FROM reminders WHERE id = \$1`).
					WithArgs("r1").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			err := store.TransitionStatus(context.Background(), "r1", tt.to, tt.outcome)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReminderStore_TransitionToPendingRejected(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.TransitionStatus(context.Background(), "r1", models.StatusPending, models.DeliveryOutcome{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderStore_UpdateSchedule(t *testing.T) {
	store, mock := newMockStore(t)
	r := testReminder()

	mock.ExpectExec(`UPDATE reminders SET scheduled_at = \$2(.+)WHERE id = \$1 AND status = 'PENDING'`).
		WithArgs("r1", sqlmock.AnyArg(), "Pay invoice", nil, "CUSTOMER", "default", "NORMAL", "GENERAL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateSchedule(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM reminders WHERE id = \$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM reminders WHERE id = \$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "r1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "r1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS reminders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_reminders_customer_scheduled`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_reminders_pending`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
