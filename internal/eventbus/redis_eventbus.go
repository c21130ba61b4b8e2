package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	consumerGroup = "payment-callbacks-workers"
	streamMaxLen  = 100000

	// DeadLetterSuffix names the stream that receives messages which kept failing
	DeadLetterSuffix = ".dead"

	defaultClaimInterval = 30 * time.Second
	defaultClaimMinIdle  = time.Minute
	defaultMaxDeliveries = 5
	claimBatchSize       = 50
)

type RedisEventBus struct {
	client      *redis.Client
	logger      *zap.Logger
	subscribers map[string]*RedisSubscription
	mutex       sync.Mutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	claimInterval time.Duration
	claimMinIdle  time.Duration
	maxDeliveries int64
}

// RedisOption tunes how unacknowledged messages are recovered
type RedisOption func(*RedisEventBus)

// WithPendingRecovery sets how often pending entries are scanned and how long
// an entry must sit unacknowledged before another delivery is attempted.
func WithPendingRecovery(interval, minIdle time.Duration) RedisOption {
	return func(r *RedisEventBus) {
		if interval > 0 {
			r.claimInterval = interval
		}
		if minIdle > 0 {
			r.claimMinIdle = minIdle
		}
	}
}

// WithMaxDeliveries caps delivery attempts before a message is moved to the
// dead letter stream.
func WithMaxDeliveries(n int) RedisOption {
	return func(r *RedisEventBus) {
		if n > 0 {
			r.maxDeliveries = int64(n)
		}
	}
}

type RedisSubscription struct {
	id       string
	topic    string
	handler  EventHandler
	eventBus *RedisEventBus
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewRedisEventBus(redisAddr, redisPassword string, db int, logger *zap.Logger, opts ...RedisOption) (*RedisEventBus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       db,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	bus := &RedisEventBus{
		client:        client,
		logger:        logger,
		subscribers:   make(map[string]*RedisSubscription),
		ctx:           ctx,
		cancel:        cancel,
		claimInterval: defaultClaimInterval,
		claimMinIdle:  defaultClaimMinIdle,
		maxDeliveries: defaultMaxDeliveries,
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus, nil
}

// Publish appends the JSON encoded event to the topic stream
func (r *RedisEventBus) Publish(ctx context.Context, topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", topic, err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload":      data,
			"published_at": time.Now().UTC().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the shared consumer group so each message goes to one worker
func (r *RedisEventBus) Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error) {
	err := r.client.XGroupCreateMkStream(ctx, topic, consumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group on %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(r.ctx)
	subscription := &RedisSubscription{
		id:       uuid.New().String(),
		topic:    topic,
		handler:  handler,
		eventBus: r,
		ctx:      subCtx,
		cancel:   cancel,
	}

	r.mutex.Lock()
	r.subscribers[subscription.id] = subscription
	r.mutex.Unlock()

	r.wg.Add(2)
	go r.consumeStream(subscription)
	go r.recoverPending(subscription)

	return subscription, nil
}

func consumerName(sub *RedisSubscription) string {
	return "consumer-" + sub.id
}

func (r *RedisEventBus) consumeStream(sub *RedisSubscription) {
	defer r.wg.Done()
	consumer := consumerName(sub)

	r.logger.Info("Started stream consumer",
		zap.String("topic", sub.topic),
		zap.String("group", consumerGroup))

	for {
		select {
		case <-sub.ctx.Done():
			return
		default:
		}

		streams, err := r.client.XReadGroup(sub.ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{sub.topic, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if sub.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				r.logger.Error("Failed to read stream", zap.String("topic", sub.topic), zap.Error(err))
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				r.process(sub, msg)
			}
		}
	}
}

// process acknowledges on success. A failed message stays in the pending
// entries list until recoverPending hands it out again.
func (r *RedisEventBus) process(sub *RedisSubscription, msg redis.XMessage) {
	if err := r.handleMessage(sub, msg); err != nil {
		r.logger.Error("Failed to process message",
			zap.String("topic", sub.topic),
			zap.String("msg_id", msg.ID),
			zap.Error(err))
		return
	}
	if err := r.client.XAck(sub.ctx, sub.topic, consumerGroup, msg.ID).Err(); err != nil && sub.ctx.Err() == nil {
		r.logger.Warn("Failed to acknowledge message", zap.String("msg_id", msg.ID), zap.Error(err))
	}
}

// recoverPending periodically claims entries that some consumer of the group
// read but never acknowledged, including ones left behind by a crashed worker.
func (r *RedisEventBus) recoverPending(sub *RedisSubscription) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.claimInterval)
	defer ticker.Stop()

	for {
		r.claimIdle(sub)
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *RedisEventBus) claimIdle(sub *RedisSubscription) {
	pending, err := r.client.XPendingExt(sub.ctx, &redis.XPendingExtArgs{
		Stream: sub.topic,
		Group:  consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  claimBatchSize,
	}).Result()
	if err != nil {
		if sub.ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			r.logger.Error("Failed to list pending messages", zap.String("topic", sub.topic), zap.Error(err))
		}
		return
	}

	for _, entry := range pending {
		if sub.ctx.Err() != nil {
			return
		}
		if entry.Idle < r.claimMinIdle {
			continue
		}

		claimed, err := r.client.XClaim(sub.ctx, &redis.XClaimArgs{
			Stream:   sub.topic,
			Group:    consumerGroup,
			Consumer: consumerName(sub),
			MinIdle:  r.claimMinIdle,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			if sub.ctx.Err() == nil {
				r.logger.Warn("Failed to claim pending message", zap.String("msg_id", entry.ID), zap.Error(err))
			}
			continue
		}

		// Another consumer got there first, or the entry was trimmed from the stream
		if len(claimed) == 0 {
			if entry.RetryCount >= r.maxDeliveries {
				r.client.XAck(sub.ctx, sub.topic, consumerGroup, entry.ID)
			}
			continue
		}

		for _, msg := range claimed {
			if entry.RetryCount >= r.maxDeliveries {
				r.deadLetter(sub, msg, entry.RetryCount)
				continue
			}
			r.logger.Info("Redelivering pending message",
				zap.String("topic", sub.topic),
				zap.String("msg_id", msg.ID),
				zap.Int64("deliveries", entry.RetryCount))
			r.process(sub, msg)
		}
	}
}

// deadLetter parks a message that exhausted its deliveries and removes it
// from the group's pending list.
func (r *RedisEventBus) deadLetter(sub *RedisSubscription, msg redis.XMessage, deliveries int64) {
	values := map[string]interface{}{
		"source_id":  msg.ID,
		"deliveries": deliveries,
	}
	for key, value := range msg.Values {
		values[key] = value
	}

	err := r.client.XAdd(sub.ctx, &redis.XAddArgs{
		Stream: sub.topic + DeadLetterSuffix,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		r.logger.Error("Failed to dead-letter message", zap.String("msg_id", msg.ID), zap.Error(err))
		return
	}
	r.client.XAck(sub.ctx, sub.topic, consumerGroup, msg.ID)
	r.logger.Error("Message moved to dead letter stream",
		zap.String("topic", sub.topic),
		zap.String("msg_id", msg.ID),
		zap.Int64("deliveries", deliveries))
}

func (r *RedisEventBus) handleMessage(sub *RedisSubscription, msg redis.XMessage) error {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return fmt.Errorf("invalid payload format")
	}

	message := Message{ID: msg.ID, Topic: sub.topic, Payload: json.RawMessage(payload)}
	if raw, ok := msg.Values["published_at"].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			message.PublishedAt = time.UnixMilli(ms).UTC()
		}
	}
	return sub.handler(sub.ctx, message)
}

func (r *RedisEventBus) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisEventBus) unsubscribe(id string) {
	r.mutex.Lock()
	sub, ok := r.subscribers[id]
	delete(r.subscribers, id)
	r.mutex.Unlock()
	if ok {
		sub.cancel()
	}
}

// Close stops all consumers and waits for in-flight handlers before closing the client
func (r *RedisEventBus) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

func (s *RedisSubscription) ID() string    { return s.id }
func (s *RedisSubscription) Topic() string { return s.topic }
func (s *RedisSubscription) Unsubscribe() error {
	s.eventBus.unsubscribe(s.id)
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
