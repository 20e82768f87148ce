package api

import (
	"time"

	"crm-reminders/internal/models"
)

// CreateReminderRequest is the body of POST /reminders.
type CreateReminderRequest struct {
	CustomerID    string  `json:"customerId"`
	TransactionID *string `json:"transactionId,omitempty"`
	ScheduledAt   string  `json:"scheduledAt"`
	Message       string  `json:"message"`
	Subject       *string `json:"subject,omitempty"`
	RecipientKind string  `json:"recipientKind,omitempty"`
	ChannelKey    string  `json:"channelKey,omitempty"`
	Priority      string  `json:"priority,omitempty"`
	ReminderType  string  `json:"reminderType,omitempty"`
}

// UpdateReminderRequest is the body of PUT /reminders/:id. Absent fields are
// left unchanged.
type UpdateReminderRequest struct {
	ScheduledAt   *string `json:"scheduledAt,omitempty"`
	Message       *string `json:"message,omitempty"`
	Subject       *string `json:"subject,omitempty"`
	RecipientKind *string `json:"recipientKind,omitempty"`
	ChannelKey    *string `json:"channelKey,omitempty"`
	Priority      *string `json:"priority,omitempty"`
	ReminderType  *string `json:"reminderType,omitempty"`
}

type ReminderResponse struct {
	Reminder *models.Reminder `json:"reminder"`
}

type ReminderListResponse struct {
	CustomerID string             `json:"customerId"`
	Reminders  []*models.Reminder `json:"reminders"`
	Count      int                `json:"count"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// scheduledAt is validated as date-time by the schema before parsing.
func (r CreateReminderRequest) toModel() (models.NewReminder, error) {
	at, err := time.Parse(time.RFC3339, r.ScheduledAt)
	if err != nil {
		return models.NewReminder{}, err
	}
	return models.NewReminder{
		CustomerID:    r.CustomerID,
		TransactionID: r.TransactionID,
		ScheduledAt:   at,
		Message:       r.Message,
		Subject:       r.Subject,
		RecipientKind: models.RecipientKind(r.RecipientKind),
		ChannelKey:    r.ChannelKey,
		Priority:      models.Priority(r.Priority),
		ReminderType:  r.ReminderType,
	}, nil
}

func (r UpdateReminderRequest) toChanges() (models.ReminderChanges, error) {
	var ch models.ReminderChanges

	if r.ScheduledAt != nil {
		at, err := time.Parse(time.RFC3339, *r.ScheduledAt)
		if err != nil {
			return ch, err
		}
		ch.ScheduledAt = &at
	}
	ch.Message = r.Message
	ch.Subject = r.Subject
	ch.ChannelKey = r.ChannelKey
	ch.ReminderType = r.ReminderType
	if r.RecipientKind != nil {
		k := models.RecipientKind(*r.RecipientKind)
		ch.RecipientKind = &k
	}
	if r.Priority != nil {
		p := models.Priority(*r.Priority)
		ch.Priority = &p
	}
	return ch, nil
}
