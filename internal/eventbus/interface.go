package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Topics published by the callback core
const (
	TopicPaymentStatusChanged = "payment.status_changed"
	TopicPaymentAnomalies     = "payment.anomalies"
	TopicWebhookReplay        = "webhook.replay"
)

// EventBus defines the interface for asynchronous event communication
type EventBus interface {
	Publish(ctx context.Context, topic string, event interface{}) error

	// Subscribe starts delivering messages on topic to handler until the
	// subscription or the bus is closed
	Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// Message is one delivered event. Payload is the JSON encoding of the published value.
type Message struct {
	ID          string
	Topic       string
	Payload     json.RawMessage
	PublishedAt time.Time
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// EventHandler processes incoming events. A returned error leaves the message unacknowledged.
type EventHandler func(ctx context.Context, msg Message) error

// Subscription represents an event subscription
type Subscription interface {
	ID() string
	Topic() string
	Unsubscribe() error
}
