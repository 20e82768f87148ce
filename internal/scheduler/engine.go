// Package scheduler is the reminder scheduling engine. It is the only
// component that changes a reminder's status or touches the timer queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"crm-reminders/internal/audit"
	"crm-reminders/internal/channels"
	apperrors "crm-reminders/internal/common/errors"
	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/common/metrics"
	"crm-reminders/internal/directory"
	"crm-reminders/internal/models"
	"crm-reminders/internal/repository"
	"crm-reminders/internal/timerqueue"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Store is the durable side of the engine. Conditional updates return
// repository.ErrStateConflict when the reminder is no longer PENDING.
type Store interface {
	Insert(ctx context.Context, r *models.Reminder) error
	FindByID(ctx context.Context, id string) (*models.Reminder, error)
	FindPending(ctx context.Context) ([]*models.Reminder, error)
	FindByCustomer(ctx context.Context, customerID string) ([]*models.Reminder, error)
	UpdateSchedule(ctx context.Context, r *models.Reminder) error
	TransitionStatus(ctx context.Context, id string, to models.ReminderStatus, outcome models.DeliveryOutcome) error
	Delete(ctx context.Context, id string) error
}

// Queue is the ephemeral side of the engine.
type Queue interface {
	Schedule(id string, delay time.Duration, fn timerqueue.Callback) error
	Cancel(id string) bool
}

// Config holds engine settings taken from the scheduler and notifications
// config sections.
type Config struct {
	MessageMaxLength int
	DeliveryTimeout  time.Duration
	RecoveryLookback time.Duration
	DefaultSubject   string
	// OperatorAddress returns the internal recipient for a channel key.
	OperatorAddress func(channelKey string) string
}

type Engine struct {
	cfg       Config
	store     Store
	directory directory.Directory
	channels  *channels.Registry
	queue     Queue
	audit     audit.Recorder
	log       logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewEngine(
	cfg Config,
	store Store,
	dir directory.Directory,
	registry *channels.Registry,
	queue Queue,
	recorder audit.Recorder,
	log logger.Logger,
) *Engine {
	if cfg.MessageMaxLength <= 0 {
		cfg.MessageMaxLength = 500
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if cfg.DefaultSubject == "" {
		cfg.DefaultSubject = "Scheduled Reminder"
	}
	if cfg.OperatorAddress == nil {
		cfg.OperatorAddress = func(string) string { return "" }
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}

	return &Engine{
		cfg:       cfg,
		store:     store,
		directory: dir,
		channels:  registry,
		queue:     queue,
		audit:     recorder,
		log:       log.WithFields(map[string]interface{}{"component": "scheduler"}),
		tracer:    otel.Tracer("crm-reminders/scheduler"),
		now:       time.Now,
	}
}

// Create validates a new reminder, persists it as PENDING and arms its timer.
// Nothing is written when validation fails.
func (e *Engine) Create(ctx context.Context, in models.NewReminder) (*models.Reminder, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, apperrors.NewInvalidInputError("customerId is required")
	}
	if _, err := e.lookupCustomer(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	if in.TransactionID != nil && *in.TransactionID != "" {
		exists, err := e.directory.TransactionExists(ctx, *in.TransactionID)
		if err != nil {
			return nil, apperrors.NewStorageError("lookup transaction", err)
		}
		if !exists {
			return nil, apperrors.NewNotFoundError("transaction", *in.TransactionID)
		}
	} else {
		in.TransactionID = nil
	}

	now := e.now()
	if err := e.validateSchedule(in.ScheduledAt, now); err != nil {
		return nil, err
	}
	if err := e.validateMessage(in.Message); err != nil {
		return nil, err
	}

	r := &models.Reminder{
		ID:            uuid.NewString(),
		CustomerID:    in.CustomerID,
		TransactionID: in.TransactionID,
		ScheduledAt:   in.ScheduledAt,
		Message:       in.Message,
		Subject:       in.Subject,
		RecipientKind: in.RecipientKind,
		ChannelKey:    in.ChannelKey,
		Priority:      in.Priority,
		ReminderType:  in.ReminderType,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.applyDefaults(r); err != nil {
		return nil, err
	}

	if err := e.store.Insert(ctx, r); err != nil {
		return nil, apperrors.NewStorageError("insert reminder", err)
	}

	if err := e.arm(r, now); err != nil {
		// The caller sees a failure, so the row must not be delivered later.
		e.log.WithError(err).Error("failed to arm reminder timer", map[string]interface{}{
			"reminder_id": r.ID,
		})
		if delErr := e.store.Delete(context.WithoutCancel(ctx), r.ID); delErr != nil {
			e.log.WithError(delErr).Error("failed to remove unscheduled reminder", map[string]interface{}{
				"reminder_id": r.ID,
			})
		}
		return nil, apperrors.NewInternalError(err)
	}

	metrics.RemindersCreated.WithLabelValues(r.ChannelKey, string(r.RecipientKind)).Inc()
	e.log.Info("reminder scheduled", map[string]interface{}{
		"reminder_id":  r.ID,
		"customer_id":  r.CustomerID,
		"scheduled_at": r.ScheduledAt.Format(time.RFC3339),
		"channel":      r.ChannelKey,
	})

	return r, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Reminder, error) {
	r, err := e.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("reminder", id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("find reminder", err)
	}
	return r, nil
}

// ListByCustomer returns the customer's reminders ordered by scheduledAt.
func (e *Engine) ListByCustomer(ctx context.Context, customerID string) ([]*models.Reminder, error) {
	if _, err := e.lookupCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	list, err := e.store.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.NewStorageError("list reminders", err)
	}
	if list == nil {
		list = []*models.Reminder{}
	}
	return list, nil
}

// Reschedule applies changes to a PENDING reminder and replaces its timer.
// Terminal reminders are reported as not found.
func (e *Engine) Reschedule(ctx context.Context, id string, changes models.ReminderChanges) (*models.Reminder, error) {
	current, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusPending {
		return nil, apperrors.NewNotFoundError("reminder", id).
			WithMetadata("status", string(current.Status))
	}

	now := e.now()
	updated := *current

	if changes.ScheduledAt != nil {
		if err := e.validateSchedule(*changes.ScheduledAt, now); err != nil {
			return nil, err
		}
		updated.ScheduledAt = *changes.ScheduledAt
	}
	if changes.Message != nil {
		if err := e.validateMessage(*changes.Message); err != nil {
			return nil, err
		}
		updated.Message = *changes.Message
	}
	if changes.Subject != nil {
		updated.Subject = changes.Subject
	}
	if changes.RecipientKind != nil {
		updated.RecipientKind = *changes.RecipientKind
	}
	if changes.ChannelKey != nil {
		updated.ChannelKey = *changes.ChannelKey
	}
	if changes.Priority != nil {
		updated.Priority = *changes.Priority
	}
	if changes.ReminderType != nil {
		updated.ReminderType = *changes.ReminderType
	}
	if err := e.applyDefaults(&updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = now

	err = e.store.UpdateSchedule(ctx, &updated)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrStateConflict):
		return nil, apperrors.NewNotFoundError("reminder", id)
	case err != nil:
		return nil, apperrors.NewStorageError("update reminder", err)
	}

	if err := e.arm(&updated, now); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	e.log.Info("reminder rescheduled", map[string]interface{}{
		"reminder_id":  id,
		"scheduled_at": updated.ScheduledAt.Format(time.RFC3339),
	})
	return &updated, nil
}

// Cancel stops a PENDING reminder and marks it CANCELLED. Cancelling a
// terminal reminder succeeds without changing it.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Reminder, error) {
	r, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return r, nil
	}

	e.queue.Cancel(id)

	now := e.now()
	err = e.store.TransitionStatus(ctx, id, models.StatusCancelled, models.DeliveryOutcome{At: now})
	switch {
	case err == nil:
		r.Status = models.StatusCancelled
		r.UpdatedAt = now
		metrics.RemindersCancelled.Inc()
		e.log.Info("reminder cancelled", map[string]interface{}{"reminder_id": id})
		return r, nil

	case errors.Is(err, repository.ErrStateConflict):
		// A delivery committed first; report what it recorded.
		return e.Get(ctx, id)

	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NewNotFoundError("reminder", id)

	default:
		// Still PENDING in the store; keep its timer.
		if armErr := e.arm(r, e.now()); armErr != nil {
			e.log.WithError(armErr).Error("failed to re-arm reminder after cancel error", map[string]interface{}{
				"reminder_id": id,
			})
		}
		return nil, apperrors.NewStorageError("cancel reminder", err)
	}
}

// Delete removes the reminder's timer and then its record.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.queue.Cancel(id)

	err := e.store.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError("reminder", id)
	}
	if err != nil {
		if r, getErr := e.store.FindByID(ctx, id); getErr == nil && r.Status == models.StatusPending {
			if armErr := e.arm(r, e.now()); armErr != nil {
				e.log.WithError(armErr).Error("failed to re-arm reminder after delete error", map[string]interface{}{
					"reminder_id": id,
				})
			}
		}
		return apperrors.NewStorageError("delete reminder", err)
	}

	e.log.Info("reminder deleted", map[string]interface{}{"reminder_id": id})
	return nil
}

// arm hands the reminder to the timer queue, replacing any existing task.
func (e *Engine) arm(r *models.Reminder, now time.Time) error {
	id := r.ID
	return e.queue.Schedule(id, r.ScheduledAt.Sub(now), func(ctx context.Context) {
		e.deliver(ctx, id)
	})
}

func (e *Engine) lookupCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c, err := e.directory.LookupCustomer(ctx, id)
	if errors.Is(err, directory.ErrCustomerNotFound) {
		return nil, apperrors.NewNotFoundError("customer", id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("lookup customer", err)
	}
	return c, nil
}

func (e *Engine) validateSchedule(at, now time.Time) error {
	if at.IsZero() {
		return apperrors.NewInvalidInputError("scheduledAt is required")
	}
	if !at.After(now) {
		return apperrors.NewInvalidScheduleError(
			fmt.Sprintf("scheduledAt %s is not in the future", at.UTC().Format(time.RFC3339)))
	}
	return nil
}

func (e *Engine) validateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return apperrors.NewInvalidInputError("message must not be empty")
	}
	if n := utf8.RuneCountInString(msg); n > e.cfg.MessageMaxLength {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("message is %d characters, maximum is %d", n, e.cfg.MessageMaxLength))
	}
	return nil
}

// applyDefaults fills optional fields and rejects unknown enum values.
func (e *Engine) applyDefaults(r *models.Reminder) error {
	if r.RecipientKind == "" {
		r.RecipientKind = models.RecipientCustomer
	}
	if !r.RecipientKind.Valid() {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown recipientKind %q", r.RecipientKind))
	}

	if r.ChannelKey == "" {
		r.ChannelKey = e.channels.DefaultKey()
	}
	if !e.channels.Has(r.ChannelKey) {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown channelKey %q", r.ChannelKey))
	}

	if r.Priority == "" {
		r.Priority = models.PriorityNormal
	}
	if !r.Priority.Valid() {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown priority %q", r.Priority))
	}

	if r.ReminderType == "" {
		r.ReminderType = models.DefaultReminderType
	}
	return nil
}
