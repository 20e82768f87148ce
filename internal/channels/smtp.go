package channels

import (
	"context"
	"fmt"
	"time"

	"crm-reminders/internal/models"

	"github.com/google/uuid"
	"gopkg.in/mail.v2"
)

// Dialer is implemented by *mail.Dialer.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPChannel sends reminders through an SMTP relay such as Gmail or a
// tenant's own mail server.
type SMTPChannel struct {
	dialer Dialer
	from   string
	domain string
}

// NewSMTPDialer builds a STARTTLS dialer with the given send timeout.
func NewSMTPDialer(host string, port int, username, password string, timeout time.Duration) *mail.Dialer {
	d := mail.NewDialer(host, port, username, password)
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	if timeout > 0 {
		d.Timeout = timeout
	}
	return d
}

func NewSMTPChannel(dialer Dialer, from, messageIDDomain string) *SMTPChannel {
	if messageIDDomain == "" {
		messageIDDomain = "crm-reminders"
	}
	return &SMTPChannel{dialer: dialer, from: from, domain: messageIDDomain}
}

func (c *SMTPChannel) AddressKind() AddressKind { return AddressEmail }

func (c *SMTPChannel) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), c.domain)

	m := mail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	if msg.Priority == models.PriorityHigh {
		m.SetHeader("X-Priority", "1")
		m.SetHeader("Importance", "high")
	}
	m.SetBody("text/plain", msg.Body)

	if err := c.dialer.DialAndSend(m); err != nil {
		return Receipt{}, fmt.Errorf("smtp send: %w", err)
	}

	return Receipt{ProviderMessageID: messageID}, nil
}
