package channels

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	httpclient "crm-reminders/internal/common/http"
)

// WebhookChannel posts reminders as JSON to a tenant endpoint, for tenants
// that relay notifications through their own systems.
type WebhookChannel struct {
	client *httpclient.Client
	url    string
}

type webhookPayload struct {
	ReminderID string `json:"reminderId"`
	CustomerID string `json:"customerId"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	Priority   string `json:"priority"`
	SentAt     string `json:"sentAt"`
}

func NewWebhookChannel(client *httpclient.Client, url string) *WebhookChannel {
	return &WebhookChannel{client: client, url: url}
}

func (c *WebhookChannel) AddressKind() AddressKind { return AddressEmail }

func (c *WebhookChannel) Send(ctx context.Context, msg Message) (Receipt, error) {
	resp, err := c.client.PostJSON(ctx, c.url, map[string]string{
		"Idempotency-Key": msg.ReminderID,
	}, webhookPayload{
		ReminderID: msg.ReminderID,
		CustomerID: msg.CustomerID,
		To:         msg.To,
		Subject:    msg.Subject,
		Message:    msg.Body,
		Priority:   string(msg.Priority),
		SentAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("webhook post: %w", err)
	}
	if !resp.OK() {
		return Receipt{}, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, truncate(string(resp.Body), 200))
	}

	return Receipt{ProviderMessageID: resp.Header.Get("X-Request-Id")}, nil
}

// truncate keeps at most n bytes of valid UTF-8.
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
