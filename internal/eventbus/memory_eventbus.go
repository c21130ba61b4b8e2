package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("event bus closed")

// MemoryEventBus delivers synchronously inside Publish. It backs single-process
// deployments without Redis. Nothing is retained after delivery unless the bus
// was built WithRecording.
type MemoryEventBus struct {
	logger      *zap.Logger
	mutex       sync.RWMutex
	subscribers map[string]map[string]*memorySubscription
	record      bool
	published   []Message
	seq         int64
	closed      bool
}

type MemoryOption func(*MemoryEventBus)

// WithRecording keeps every published message for Published. Meant for tests.
func WithRecording() MemoryOption {
	return func(m *MemoryEventBus) {
		m.record = true
	}
}

type memorySubscription struct {
	id      string
	topic   string
	handler EventHandler
	bus     *MemoryEventBus
}

func NewMemoryEventBus(logger *zap.Logger, opts ...MemoryOption) *MemoryEventBus {
	bus := &MemoryEventBus{
		logger:      logger,
		subscribers: make(map[string]map[string]*memorySubscription),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

func (m *MemoryEventBus) Publish(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", topic, err)
	}

	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return ErrBusClosed
	}
	m.seq++
	msg := Message{
		ID:          strconv.FormatInt(m.seq, 10),
		Topic:       topic,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}
	if m.record {
		m.published = append(m.published, msg)
	}
	handlers := make([]*memorySubscription, 0, len(m.subscribers[topic]))
	for _, sub := range m.subscribers[topic] {
		handlers = append(handlers, sub)
	}
	m.mutex.Unlock()

	for _, sub := range handlers {
		if err := sub.handler(ctx, msg); err != nil {
			m.logger.Error("Failed to process message",
				zap.String("topic", topic),
				zap.String("msg_id", msg.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (m *MemoryEventBus) Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{id: uuid.New().String(), topic: topic, handler: handler, bus: m}
	if m.subscribers[topic] == nil {
		m.subscribers[topic] = make(map[string]*memorySubscription)
	}
	m.subscribers[topic][sub.id] = sub
	return sub, nil
}

// Published returns a copy of the messages sent to topic, oldest first. It is
// always empty on a bus built without WithRecording.
func (m *MemoryEventBus) Published(topic string) []Message {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []Message
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MemoryEventBus) Ping(ctx context.Context) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return ErrBusClosed
	}
	return nil
}

func (m *MemoryEventBus) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	m.subscribers = make(map[string]map[string]*memorySubscription)
	return nil
}

func (s *memorySubscription) ID() string    { return s.id }
func (s *memorySubscription) Topic() string { return s.topic }
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mutex.Lock()
	defer s.bus.mutex.Unlock()
	delete(s.bus.subscribers[s.topic], s.id)
	return nil
}
