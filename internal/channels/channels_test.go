package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"crm-reminders/internal/common/config"
	httpclient "crm-reminders/internal/common/http"
	"crm-reminders/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mail.v2"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type MockDialer struct {
	sent []*mail.Message
	err  error
}

func (m *MockDialer) DialAndSend(msgs ...*mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msgs...)
	return nil
}

func testMessage() Message {
	return Message{
		ReminderID: "r1",
		CustomerID: "c1",
		To:         "a@x.com",
		Subject:    "Scheduled Reminder",
		Body:       "Pay invoice",
		Priority:   models.PriorityNormal,
	}
}

// ==========================
// SES
// ==========================

func TestSESChannel_Send(t *testing.T) {
	tests := []struct {
		name    string
		sesErr  error
		wantErr bool
	}{
		{name: "success"},
		{name: "provider error", sesErr: errors.New("MessageRejected"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSES := &MockSESService{
				SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
					assert.Equal(t, "a@x.com", params.Destination.ToAddresses[0])
					assert.Equal(t, "noreply@crm.example", *params.Source)
					assert.Equal(t, "Pay invoice", *params.Message.Body.Text.Data)
					assert.Equal(t, "Scheduled Reminder", *params.Message.Subject.Data)
					if tt.sesErr != nil {
						return nil, tt.sesErr
					}
					return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
				},
			}

			ch := NewSESChannel(mockSES, "noreply@crm.example")
			receipt, err := ch.Send(context.Background(), testMessage())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ses-123", receipt.ProviderMessageID)
			assert.Equal(t, AddressEmail, ch.AddressKind())
		})
	}
}

func TestSESChannel_EmptyRecipient(t *testing.T) {
	ch := NewSESChannel(&MockSESService{}, "noreply@crm.example")
	msg := testMessage()
	msg.To = ""

	_, err := ch.Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

// ==========================
// SNS
// ==========================

func TestSNSChannel_Send(t *testing.T) {
	tests := []struct {
		name        string
		priority    models.Priority
		wantSMSType string
	}{
		{name: "normal priority", priority: models.PriorityNormal, wantSMSType: "Promotional"},
		{name: "high priority", priority: models.PriorityHigh, wantSMSType: "Transactional"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSNS := &MockSNSService{
				PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
					assert.Equal(t, "+15550100", *params.PhoneNumber)
					assert.Equal(t, "Scheduled Reminder: Pay invoice", *params.Message)
					assert.Equal(t, tt.wantSMSType, *params.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
					assert.Equal(t, "ACME", *params.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
					return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
				},
			}

			msg := testMessage()
			msg.To = "+15550100"
			msg.Priority = tt.priority

			ch := NewSNSChannel(mockSNS, "ACME")
			receipt, err := ch.Send(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, "sns-1", receipt.ProviderMessageID)
			assert.Equal(t, AddressPhone, ch.AddressKind())
		})
	}
}

// ==========================
// SMTP
// ==========================

func TestSMTPChannel_Send(t *testing.T) {
	dialer := &MockDialer{}
	ch := NewSMTPChannel(dialer, "reminders@crm.example", "crm.example")

	msg := testMessage()
	msg.Priority = models.PriorityHigh

	receipt, err := ch.Send(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, dialer.sent, 1)

	sent := dialer.sent[0]
	assert.Equal(t, []string{"a@x.com"}, sent.GetHeader("To"))
	assert.Equal(t, []string{"reminders@crm.example"}, sent.GetHeader("From"))
	assert.Equal(t, []string{"Scheduled Reminder"}, sent.GetHeader("Subject"))
	assert.Equal(t, []string{"1"}, sent.GetHeader("X-Priority"))
	assert.True(t, strings.HasSuffix(receipt.ProviderMessageID, "@crm.example>"))
}

func TestSMTPChannel_Failure(t *testing.T) {
	ch := NewSMTPChannel(&MockDialer{err: errors.New("535 auth failed")}, "reminders@crm.example", "")

	_, err := ch.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535 auth failed")
}

func TestSMTPChannel_CancelledContext(t *testing.T) {
	dialer := &MockDialer{}
	ch := NewSMTPChannel(dialer, "reminders@crm.example", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.Send(ctx, testMessage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dialer.sent)
}

// ==========================
// Webhook
// ==========================

func TestWebhookChannel_Send(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "r1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Request-Id", "hook-7")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ch := NewWebhookChannel(httpclient.NewClient(2*time.Second), server.URL)
	receipt, err := ch.Send(context.Background(), testMessage())
	require.NoError(t, err)

	assert.Equal(t, "hook-7", receipt.ProviderMessageID)
	assert.Equal(t, "r1", got.ReminderID)
	assert.Equal(t, "a@x.com", got.To)
	assert.Equal(t, "Pay invoice", got.Message)
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	ch := NewWebhookChannel(httpclient.NewClient(2*time.Second), server.URL)
	_, err := ch.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestWebhookChannel_ErrorBodyIsValidUTF8(t *testing.T) {
	body := append([]byte("x"+strings.Repeat("é", 150)), 0xff, 0xfe)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	ch := NewWebhookChannel(httpclient.NewClient(2*time.Second), server.URL)
	_, err := ch.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Contains(t, err.Error(), "status 502")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 10, want: "abc"},
		{name: "ascii cut", in: "abcdef", n: 3, want: "abc"},
		{name: "cut inside rune backs off", in: "xéé", n: 2, want: "x"},
		{name: "cut on rune boundary", in: "xéé", n: 3, want: "xé"},
		{name: "invalid bytes replaced", in: "ok\xff", n: 10, want: "ok\uFFFD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

// ==========================
// Registry
// ==========================

func TestBuildRegistry(t *testing.T) {
	cfg := &config.Config{
		Channels: map[string]config.ChannelConfig{
			"default": {Provider: config.ProviderSMTP, Host: "smtp.local", Port: 587, From: "a@b.c"},
			"hooks":   {Provider: config.ProviderWebhook, URL: "http://hooks.local", Timeout: 1000},
		},
	}
	cfg.Notifications.DefaultChannel = "default"
	cfg.Scheduler.DeliveryTimeout = 5 * time.Second

	reg, err := BuildRegistry(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"default", "hooks"}, reg.Keys())
	assert.Equal(t, "default", reg.DefaultKey())

	ch, ok := reg.Get("hooks")
	require.True(t, ok)
	assert.IsType(t, &WebhookChannel{}, ch)
	assert.False(t, reg.Has("missing"))
}

func TestBuildRegistry_MissingDefault(t *testing.T) {
	cfg := &config.Config{
		Channels: map[string]config.ChannelConfig{
			"hooks": {Provider: config.ProviderWebhook, URL: "http://hooks.local"},
		},
	}
	cfg.Notifications.DefaultChannel = "default"

	_, err := BuildRegistry(context.Background(), cfg, nil)
	assert.Error(t, err)
}
