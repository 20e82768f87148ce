package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "crm-reminders/internal/common/errors"
	"crm-reminders/internal/common/metrics"
	"crm-reminders/internal/directory"
	"crm-reminders/internal/models"
	"crm-reminders/internal/repository"

	"github.com/hashicorp/go-multierror"
)

const expiredReason = "expired before recovery"

// RecoveryReport counts what a recovery pass did with each PENDING reminder.
type RecoveryReport struct {
	Scheduled int `json:"scheduled"`
	Overdue   int `json:"overdue"`
	Skipped   int `json:"skipped"`
	Expired   int `json:"expired"`
}

type recoveryOutcome string

const (
	outcomeScheduled recoveryOutcome = "scheduled"
	outcomeOverdue   recoveryOutcome = "overdue"
	outcomeSkipped   recoveryOutcome = "skipped"
	outcomeExpired   recoveryOutcome = "expired"
)

// RecoverOnStartup rebuilds the timer queue from the store. Overdue
// reminders fire immediately. Problems with single reminders are collected
// and returned together; only a failure to read the store aborts the pass.
func (e *Engine) RecoverOnStartup(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	pending, err := e.store.FindPending(ctx)
	if err != nil {
		return report, apperrors.NewStorageError("find pending reminders", err)
	}

	now := e.now()
	var result *multierror.Error
	failed := 0

	for _, r := range pending {
		outcome, err := e.recoverOne(ctx, r, now)
		if err != nil {
			failed++
			metrics.RecoveryOutcomes.WithLabelValues("error").Inc()
			result = multierror.Append(result, fmt.Errorf("reminder %s: %w", r.ID, err))
			continue
		}

		metrics.RecoveryOutcomes.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case outcomeScheduled:
			report.Scheduled++
		case outcomeOverdue:
			report.Overdue++
		case outcomeSkipped:
			report.Skipped++
		case outcomeExpired:
			report.Expired++
		}
	}

	e.log.Info("recovery completed", map[string]interface{}{
		"pending":   len(pending),
		"scheduled": report.Scheduled,
		"overdue":   report.Overdue,
		"skipped":   report.Skipped,
		"expired":   report.Expired,
		"errors":    failed,
	})

	return report, result.ErrorOrNil()
}

func (e *Engine) recoverOne(ctx context.Context, r *models.Reminder, now time.Time) (recoveryOutcome, error) {
	log := e.log.WithFields(map[string]interface{}{"reminder_id": r.ID})

	if e.cfg.RecoveryLookback > 0 && r.ScheduledAt.Before(now.Add(-e.cfg.RecoveryLookback)) {
		err := e.store.TransitionStatus(ctx, r.ID, models.StatusFailed, models.DeliveryOutcome{
			At:    now,
			Error: expiredReason,
		})
		if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
			return outcomeSkipped, nil
		}
		if err != nil {
			return "", err
		}
		log.Warn("reminder expired before recovery", map[string]interface{}{
			"scheduled_at": r.ScheduledAt.Format(time.RFC3339),
		})
		return outcomeExpired, nil
	}

	if r.RecipientKind == models.RecipientCustomer {
		_, err := e.directory.LookupCustomer(ctx, r.CustomerID)
		if errors.Is(err, directory.ErrCustomerNotFound) {
			log.Warn("customer no longer exists, reminder not recovered", map[string]interface{}{
				"customer_id": r.CustomerID,
			})
			return outcomeSkipped, nil
		}
		if err != nil {
			// Delivery resolves the customer again, so schedule anyway.
			log.WithError(err).Warn("customer lookup failed during recovery", map[string]interface{}{
				"customer_id": r.CustomerID,
			})
		}
	}

	if err := e.arm(r, now); err != nil {
		return "", err
	}
	if !r.ScheduledAt.After(now) {
		return outcomeOverdue, nil
	}
	return outcomeScheduled, nil
}
