// Package bus provides the event transports behind the decision pipeline:
// an in-process channel bus for the Community tier and NATS for Pro.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ChannelBus is the Community tier transport: pipeline events fan out over
// buffered Go channels inside the process. Delivery is at-most-once; when a
// subscriber's buffer is full the event is dropped and counted rather than
// blocking the decision path.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string][]*chanSub
	closed bool
}

// chanSub is one subscriber of a topic. A subscription bound to
// domain.BroadcastTenant receives every tenant's events on its topic;
// otherwise delivery is tenant-exact.
type chanSub struct {
	id       string
	tenantID string
	topic    string
	bus      *ChannelBus
	events   chan *domain.Message
	dropped  atomic.Int64
	cancel   context.CancelFunc
}

// NewChannelBus creates an in-process bus. bufferSize is the per-subscriber
// event buffer.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		topics: make(map[string][]*chanSub),
	}
}

// Publish fans an event out to the topic's subscribers. The tenant must be a
// real tenant: broadcast is a subscription-side concept only.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if tenantID == domain.BroadcastTenant {
		return fmt.Errorf("cannot publish under the broadcast tenant")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.topics[topic]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range subs {
		if sub.tenantID != tenantID && sub.tenantID != domain.BroadcastTenant {
			continue
		}
		select {
		case sub.events <- msg:
		default:
			if sub.dropped.Add(1) == 1 {
				slog.Warn("subscriber buffer full, dropping events",
					"topic", topic,
					"tenant_id", sub.tenantID,
				)
			}
		}
	}

	return nil
}

// Subscribe registers a handler for a topic. Pass domain.BroadcastTenant as
// the tenant to receive the topic across all tenants.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		bus:      b,
		events:   make(chan *domain.Message, b.buffer),
		cancel:   cancel,
	}
	b.topics[topic] = append(b.topics[topic], sub)

	go sub.pump(subCtx, handler)

	return sub, nil
}

// pump drains the subscriber's buffer into its handler until cancelled.
func (s *chanSub) pump(ctx context.Context, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.events:
			if msg != nil {
				_ = handler(ctx, msg)
			}
		}
	}
}

// Request publishes and waits for one reply on a per-call reply topic.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further publishes.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = make(map[string][]*chanSub)
	return nil
}

// Unsubscribe stops delivery and detaches the subscriber from its topic.
func (s *chanSub) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.topics[s.topic]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.topics[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}

// Dropped reports how many events overflowed this subscriber's buffer.
func (s *chanSub) Dropped() int64 {
	return s.dropped.Load()
}
