package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// subscriberBufferSize bounds how far a slow subscriber can lag before the
// bus starts dropping its messages rather than blocking the publisher.
const subscriberBufferSize = 256

// RedisBus is the production Bus, backed by Redis pub/sub.
type RedisBus struct {
	client *redis.Client

	mu    sync.Mutex
	drops map[string]int64 // topic -> dropped message count, for observability
}

// NewRedisBus wraps an already-configured *redis.Client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, drops: map[string]int64{}}
}

func (b *RedisBus) Publish(topic string, m Message) error {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("eventbus: marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(topic string) (Subscriber, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", topic, err)
	}

	sub := &redisSubscriber{
		topic:  topic,
		ps:     ps,
		cancel: cancel,
		ch:     make(chan Message, subscriberBufferSize),
	}
	go sub.pump(b)
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) recordDrop(topic string) {
	b.mu.Lock()
	b.drops[topic]++
	b.mu.Unlock()
}

// DroppedCount returns the number of messages dropped for topic because a
// subscriber's buffer was full.
func (b *RedisBus) DroppedCount(topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops[topic]
}

type redisSubscriber struct {
	topic  string
	ps     *redis.PubSub
	cancel context.CancelFunc
	ch     chan Message
	once   sync.Once
}

func (s *redisSubscriber) pump(b *RedisBus) {
	defer close(s.ch)
	ch := s.ps.Channel()
	for raw := range ch {
		var m Message
		if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
			slog.Warn("eventbus: drop malformed message", "topic", s.topic, "err", err)
			continue
		}
		select {
		case s.ch <- m:
		default:
			b.recordDrop(s.topic)
			slog.Warn("eventbus: subscriber buffer full, dropping message", "topic", s.topic, "job_id", m.JobID)
		}
	}
}

func (s *redisSubscriber) C() <-chan Message { return s.ch }

func (s *redisSubscriber) Close() {
	s.once.Do(func() {
		s.cancel()
		s.ps.Close()
	})
}
