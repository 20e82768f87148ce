package channels

import (
	"context"
	"fmt"

	"crm-reminders/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSService is the subset of the SNS client used here.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel sends reminders as SMS through Amazon SNS.
type SNSChannel struct {
	client   SNSService
	senderID string
}

func NewSNSChannel(client SNSService, senderID string) *SNSChannel {
	return &SNSChannel{client: client, senderID: senderID}
}

func (c *SNSChannel) AddressKind() AddressKind { return AddressPhone }

func (c *SNSChannel) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, ErrNoRecipient
	}

	// High priority reminders go out as transactional SMS, which SNS
	// delivers with higher reliability.
	smsType := "Promotional"
	if msg.Priority == models.PriorityHigh {
		smsType = "Transactional"
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(smsType),
		},
	}
	if c.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(c.senderID),
		}
	}

	out, err := c.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(smsText(msg)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("sns publish: %w", err)
	}

	return Receipt{ProviderMessageID: aws.ToString(out.MessageId)}, nil
}

func smsText(msg Message) string {
	if msg.Subject == "" {
		return msg.Body
	}
	return msg.Subject + ": " + msg.Body
}
