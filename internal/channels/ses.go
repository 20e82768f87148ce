package channels

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the subset of the SES client used here.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESChannel sends reminders as plain text email through Amazon SES.
type SESChannel struct {
	client SESService
	from   string
}

func NewSESChannel(client SESService, from string) *SESChannel {
	return &SESChannel{client: client, from: from}
}

func (c *SESChannel) AddressKind() AddressKind { return AddressEmail }

func (c *SESChannel) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, ErrNoRecipient
	}

	out, err := c.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
			},
		},
		Source: aws.String(c.from),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("ses send: %w", err)
	}

	return Receipt{ProviderMessageID: aws.ToString(out.MessageId)}, nil
}
