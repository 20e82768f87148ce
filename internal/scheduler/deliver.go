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
	"crm-reminders/internal/common/metrics"
	"crm-reminders/internal/models"
	"crm-reminders/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	statusWriteTimeout = 10 * time.Second
	maxErrorLength     = 500
)

// deliver runs when a reminder's timer fires. Channel errors end in FAILED
// and are never returned; the persisted status is the only report.
func (e *Engine) deliver(ctx context.Context, id string) {
	ctx, span := e.tracer.Start(ctx, "reminder.deliver",
		trace.WithAttributes(attribute.String("reminder.id", id)))
	defer span.End()

	log := e.log.WithFields(map[string]interface{}{"reminder_id": id})

	r, err := e.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		log.Debug("reminder deleted before delivery", nil)
		return
	}
	if err != nil {
		span.RecordError(err)
		log.WithError(err).Error("failed to load reminder for delivery", nil)
		return
	}
	if r.Status != models.StatusPending {
		log.Debug("reminder no longer pending, skipping delivery", map[string]interface{}{
			"status": string(r.Status),
		})
		return
	}

	span.SetAttributes(
		attribute.String("reminder.channel", r.ChannelKey),
		attribute.String("reminder.recipient_kind", string(r.RecipientKind)),
	)

	receipt, sendErr := e.send(ctx, r)

	if sendErr != nil && ctx.Err() != nil {
		// Shutdown gave up on this delivery. Leaving it PENDING lets the next
		// recovery pass try again.
		log.Warn("delivery interrupted by shutdown, reminder left pending", map[string]interface{}{
			"error": sendErr.Error(),
		})
		return
	}

	status := models.StatusSent
	outcome := models.DeliveryOutcome{
		At:                e.now(),
		ProviderMessageID: receipt.ProviderMessageID,
	}
	if sendErr != nil {
		status = models.StatusFailed
		outcome.Error = truncate(sendErr.Error(), maxErrorLength)
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "delivery failed")
	}

	// The send already happened; record it even if shutdown has started.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	err = e.store.TransitionStatus(writeCtx, id, status, outcome)
	switch {
	case errors.Is(err, repository.ErrStateConflict):
		metrics.DeliveryRaceLost.Inc()
		log.Warn("delivery outcome rejected, reminder changed concurrently", map[string]interface{}{
			"outcome": string(status),
		})
		return
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("reminder deleted during delivery", nil)
		return
	case err != nil:
		span.RecordError(err)
		log.WithError(err).Error("failed to record delivery outcome", map[string]interface{}{
			"outcome": string(status),
		})
		return
	}

	metrics.RemindersDelivered.WithLabelValues(r.ChannelKey, string(status)).Inc()

	fields := map[string]interface{}{
		"channel":     r.ChannelKey,
		"status":      string(status),
		"provider_id": receipt.ProviderMessageID,
	}
	if sendErr != nil {
		log.WithError(sendErr).Warn("reminder delivery failed", fields)
	} else {
		log.Info("reminder delivered", fields)
	}

	if err := e.audit.Record(writeCtx, audit.Delivery{
		ReminderID:        r.ID,
		CustomerID:        r.CustomerID,
		ChannelKey:        r.ChannelKey,
		RecipientKind:     string(r.RecipientKind),
		Status:            string(status),
		Error:             outcome.Error,
		ProviderMessageID: outcome.ProviderMessageID,
		ScheduledAt:       r.ScheduledAt,
		DeliveredAt:       outcome.At,
		LagMillis:         outcome.At.Sub(r.ScheduledAt).Milliseconds(),
	}); err != nil {
		log.WithError(err).Warn("failed to write delivery audit record", nil)
	}
}

// send resolves the recipient and invokes the channel under the delivery
// timeout. Resolution problems are returned as send errors.
func (e *Engine) send(ctx context.Context, r *models.Reminder) (channels.Receipt, error) {
	ch, ok := e.channels.Get(r.ChannelKey)
	if !ok {
		return channels.Receipt{}, fmt.Errorf("channel %q is not configured", r.ChannelKey)
	}

	to, err := e.resolveAddress(ctx, r, ch.AddressKind())
	if err != nil {
		return channels.Receipt{}, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := ch.Send(sendCtx, channels.Message{
		ReminderID: r.ID,
		CustomerID: r.CustomerID,
		To:         to,
		Subject:    r.SubjectOr(e.cfg.DefaultSubject),
		Body:       r.Message,
		Priority:   r.Priority,
	})
	metrics.DeliveryDuration.WithLabelValues(r.ChannelKey).Observe(time.Since(start).Seconds())

	return receipt, err
}

func (e *Engine) resolveAddress(ctx context.Context, r *models.Reminder, kind channels.AddressKind) (string, error) {
	if r.RecipientKind == models.RecipientOperator {
		addr := e.cfg.OperatorAddress(r.ChannelKey)
		if addr == "" {
			return "", fmt.Errorf("no operator address configured for channel %q", r.ChannelKey)
		}
		return addr, nil
	}

	customer, err := e.directory.LookupCustomer(ctx, r.CustomerID)
	if err != nil {
		return "", fmt.Errorf("resolve customer %s: %w", r.CustomerID, err)
	}

	addr := customer.Email
	if kind == channels.AddressPhone {
		addr = customer.Phone
	}
	if addr == "" {
		return "", fmt.Errorf("customer %s has no %s address", r.CustomerID, kind)
	}
	return addr, nil
}

// truncate caps s at n bytes without splitting a rune. Invalid UTF-8 is
// replaced so the result can always be stored as text.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
