package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "crm-reminders/internal/common/errors"
	"crm-reminders/internal/models"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, f *fixture, id, customerID string, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.Insert(context.Background(), &models.Reminder{
		ID:            id,
		CustomerID:    customerID,
		ScheduledAt:   at,
		Message:       "Reminder " + id,
		RecipientKind: models.RecipientCustomer,
		ChannelKey:    "default",
		Priority:      models.PriorityNormal,
		ReminderType:  models.DefaultReminderType,
		Status:        models.StatusPending,
		CreatedAt:     at.Add(-time.Hour),
		UpdatedAt:     at.Add(-time.Hour),
	}))
}

func TestRecoverOnStartup_Fidelity(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	seed(t, f, "overdue", "c1", now.Add(-time.Minute))
	seed(t, f, "soon", "c1", now.Add(300*time.Millisecond))
	seed(t, f, "later", "c1", now.Add(time.Hour))

	report, err := f.engine.RecoverOnStartup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Scheduled: 2, Overdue: 1}, report)

	f.waitStatus(t, "overdue", models.StatusSent, 500*time.Millisecond)
	assert.Equal(t, models.StatusPending, f.store.status("soon"), "not delivered ahead of schedule")

	f.waitStatus(t, "soon", models.StatusSent, 2*time.Second)

	assert.Equal(t, models.StatusPending, f.store.status("later"))
	assert.True(t, f.queue.Has("later"))
	assert.Len(t, f.mail.sent(), 2)
}

func TestRecoverOnStartup_ExpiredAndDangling(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	seed(t, f, "ancient", "c1", now.Add(-48*time.Hour))
	seed(t, f, "orphan", "gone", now.Add(time.Hour))
	seed(t, f, "ok", "c1", now.Add(time.Hour))

	report, err := f.engine.RecoverOnStartup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Scheduled: 1, Skipped: 1, Expired: 1}, report)

	ancient, _ := f.store.get("ancient")
	assert.Equal(t, models.StatusFailed, ancient.Status)
	require.NotNil(t, ancient.LastError)
	assert.Equal(t, "expired before recovery", *ancient.LastError)

	assert.Equal(t, models.StatusPending, f.store.status("orphan"))
	assert.False(t, f.queue.Has("orphan"))
	assert.True(t, f.queue.Has("ok"))
	assert.Empty(t, f.mail.sent())
}

func TestRecoverOnStartup_NoLookbackDeliversEverything(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.RecoveryLookback = 0 })

	seed(t, f, "ancient", "c1", time.Now().Add(-30*24*time.Hour))

	report, err := f.engine.RecoverOnStartup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Overdue: 1}, report)
	f.waitStatus(t, "ancient", models.StatusSent, time.Second)
}

func TestRecoverOnStartup_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.fail(errors.New("connection refused"))

	_, err := f.engine.RecoverOnStartup(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStorage, apperrors.CodeOf(err))
}

func TestRecoverOnStartup_AggregatesPerItemErrors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.ShutdownAll(context.Background()))

	seed(t, f, "a", "c1", time.Now().Add(time.Hour))
	seed(t, f, "b", "c1", time.Now().Add(2*time.Hour))
	seed(t, f, "orphan", "gone", time.Now().Add(time.Hour))

	report, err := f.engine.RecoverOnStartup(context.Background())
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, 1, report.Skipped, "one bad reminder does not stop the pass")
	assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeStorage))
}
