// Package channels implements the outbound transports reminders are
// delivered through. A channel is selected by a reminder's channelKey.
package channels

import (
	"context"
	"errors"
	"sort"

	"crm-reminders/internal/models"
)

// AddressKind tells the engine which customer contact a channel expects.
type AddressKind string

const (
	AddressEmail AddressKind = "email"
	AddressPhone AddressKind = "phone"
)

var ErrNoRecipient = errors.New("recipient address is empty")

// Message is one reminder ready to be sent.
type Message struct {
	ReminderID string
	CustomerID string
	To         string
	Subject    string
	Body       string
	Priority   models.Priority
}

// Receipt carries what the transport reported back.
type Receipt struct {
	ProviderMessageID string
}

// Channel sends a single message. Any error is final for that attempt.
type Channel interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
	AddressKind() AddressKind
}

// Registry maps channel keys to channels.
type Registry struct {
	channels   map[string]Channel
	defaultKey string
}

func NewRegistry(defaultKey string) *Registry {
	return &Registry{
		channels:   make(map[string]Channel),
		defaultKey: defaultKey,
	}
}

func (r *Registry) Register(key string, ch Channel) {
	r.channels[key] = ch
}

func (r *Registry) Get(key string) (Channel, bool) {
	ch, ok := r.channels[key]
	return ch, ok
}

func (r *Registry) Has(key string) bool {
	_, ok := r.channels[key]
	return ok
}

func (r *Registry) DefaultKey() string {
	return r.defaultKey
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.channels))
	for k := range r.channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
