package channels

import (
	"context"
	"fmt"
	"time"

	awsclients "crm-reminders/internal/common/aws"
	"crm-reminders/internal/common/config"
	httpclient "crm-reminders/internal/common/http"
)

// BuildRegistry creates one channel per entry under channels in the config.
func BuildRegistry(ctx context.Context, cfg *config.Config, aws *awsclients.Clients) (*Registry, error) {
	reg := NewRegistry(cfg.Notifications.DefaultChannel)

	for key, chCfg := range cfg.Channels {
		ch, err := buildChannel(ctx, chCfg, cfg.Scheduler.DeliveryTimeout, aws)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", key, err)
		}
		reg.Register(key, ch)
	}

	if !reg.Has(reg.DefaultKey()) {
		return nil, fmt.Errorf("default channel %q is not configured", reg.DefaultKey())
	}
	return reg, nil
}

func buildChannel(ctx context.Context, chCfg config.ChannelConfig, sendTimeout time.Duration, aws *awsclients.Clients) (Channel, error) {
	switch chCfg.Provider {
	case config.ProviderSMTP:
		dialer := NewSMTPDialer(chCfg.Host, chCfg.Port, chCfg.Username, chCfg.Password, sendTimeout)
		return NewSMTPChannel(dialer, chCfg.From, ""), nil

	case config.ProviderSES:
		client, err := aws.SES(ctx, chCfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSESChannel(client, chCfg.From), nil

	case config.ProviderSNS:
		client, err := aws.SNS(ctx, chCfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSNSChannel(client, chCfg.SenderID), nil

	case config.ProviderWebhook:
		return NewWebhookChannel(httpclient.NewClient(config.GetDuration(chCfg.Timeout)), chCfg.URL), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", chCfg.Provider)
	}
}
