package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Clients builds SES and SNS clients, loading the shared AWS configuration
// once per region.
type Clients struct {
	mu      sync.Mutex
	configs map[string]aws.Config
}

func NewClients() *Clients {
	return &Clients{configs: make(map[string]aws.Config)}
}

func (c *Clients) load(ctx context.Context, region string) (aws.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg, ok := c.configs[region]; ok {
		return cfg, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config for %s: %w", region, err)
	}
	c.configs[region] = cfg
	return cfg, nil
}

func (c *Clients) SES(ctx context.Context, region string) (*ses.Client, error) {
	cfg, err := c.load(ctx, region)
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(cfg), nil
}

func (c *Clients) SNS(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := c.load(ctx, region)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}
