package models

import (
	"strings"
	"time"
)

// ReminderStatus is the lifecycle state of a reminder. PENDING is the only
// non-terminal state.
type ReminderStatus string

const (
	StatusPending   ReminderStatus = "PENDING"
	StatusSent      ReminderStatus = "SENT"
	StatusFailed    ReminderStatus = "FAILED"
	StatusCancelled ReminderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ReminderStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo enforces PENDING -> {SENT, FAILED, CANCELLED}.
func (s ReminderStatus) CanTransitionTo(next ReminderStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// RecipientKind selects who receives a reminder.
type RecipientKind string

const (
	RecipientCustomer RecipientKind = "CUSTOMER"
	RecipientOperator RecipientKind = "OPERATOR"
)

func (k RecipientKind) Valid() bool {
	return k == RecipientCustomer || k == RecipientOperator
}

// Priority is carried on the reminder and passed to channels.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

const DefaultReminderType = "GENERAL"

// Reminder is a scheduled one-shot notification tied to a customer and,
// optionally, one of the customer's transactions.
type Reminder struct {
	ID                string         `json:"id"`
	CustomerID        string         `json:"customerId"`
	TransactionID     *string        `json:"transactionId,omitempty"`
	ScheduledAt       time.Time      `json:"scheduledAt"`
	Message           string         `json:"message"`
	Subject           *string        `json:"subject,omitempty"`
	RecipientKind     RecipientKind  `json:"recipientKind"`
	ChannelKey        string         `json:"channelKey"`
	Priority          Priority       `json:"priority"`
	ReminderType      string         `json:"reminderType"`
	Status            ReminderStatus `json:"status"`
	LastError         *string        `json:"lastError,omitempty"`
	ProviderMessageID *string        `json:"providerMessageId,omitempty"`
	DeliveredAt       *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// SubjectOr returns the reminder subject, or fallback when none is set.
func (r *Reminder) SubjectOr(fallback string) string {
	if r.Subject != nil && strings.TrimSpace(*r.Subject) != "" {
		return *r.Subject
	}
	return fallback
}

// NewReminder is the input to the engine's create operation.
type NewReminder struct {
	CustomerID    string
	TransactionID *string
	ScheduledAt   time.Time
	Message       string
	Subject       *string
	RecipientKind RecipientKind
	ChannelKey    string
	Priority      Priority
	ReminderType  string
}

// ReminderChanges holds the optional fields of a reschedule. Nil means keep.
type ReminderChanges struct {
	ScheduledAt   *time.Time
	Message       *string
	Subject       *string
	RecipientKind *RecipientKind
	ChannelKey    *string
	Priority      *Priority
	ReminderType  *string
}

// DeliveryOutcome is persisted together with a terminal status.
type DeliveryOutcome struct {
	At                time.Time
	Error             string
	ProviderMessageID string
}
