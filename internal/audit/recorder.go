// Package audit keeps a searchable trail of delivery outcomes.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Delivery is one terminal delivery outcome.
type Delivery struct {
	ReminderID        string    `json:"reminderId"`
	CustomerID        string    `json:"customerId"`
	ChannelKey        string    `json:"channelKey"`
	RecipientKind     string    `json:"recipientKind"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	ScheduledAt       time.Time `json:"scheduledAt"`
	DeliveredAt       time.Time `json:"deliveredAt"`
	LagMillis         int64     `json:"lagMillis"`
}

// Recorder stores delivery outcomes. Failures are reported to the caller
// but never affect reminder state.
type Recorder interface {
	Record(ctx context.Context, d Delivery) error
}

// Nop discards everything. Used when audit.enabled is false.
type Nop struct{}

func (Nop) Record(context.Context, Delivery) error { return nil }

// ElasticsearchRecorder indexes one document per delivery, keyed by
// reminder id so a replayed delivery overwrites instead of duplicating.
type ElasticsearchRecorder struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchRecorder(client *elasticsearch.Client, index string) *ElasticsearchRecorder {
	return &ElasticsearchRecorder{client: client, index: index}
}

func (r *ElasticsearchRecorder) Record(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal audit document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: d.ReminderID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("index audit document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index audit document: %s: %s", res.Status(), msg)
	}
	return nil
}
