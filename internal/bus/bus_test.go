package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// collect subscribes and funnels delivered messages into a channel the test
// can drain with a timeout.
func collect(t *testing.T, b *ChannelBus, tenantID, topic string) (domain.Subscription, chan *domain.Message) {
	t.Helper()
	ch := make(chan *domain.Message, 16)
	sub, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return sub, ch
}

func waitMsg(t *testing.T, ch chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestDecisionEventDelivery(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	_, ch := collect(t, b, "tenant-001", domain.TopicDecision)

	payload, _ := json.Marshal(map[string]string{
		"invoiceId": "inv-1",
		"status":    "COMPLETED",
	})
	if err := b.Publish(context.Background(), "tenant-001", domain.TopicDecision, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msg := waitMsg(t, ch)
	if msg.TenantID != "tenant-001" {
		t.Errorf("expected tenant-001, got %s", msg.TenantID)
	}
	if msg.Topic != domain.TopicDecision {
		t.Errorf("expected topic %s, got %s", domain.TopicDecision, msg.Topic)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Error("expected stamped message ID and timestamp")
	}

	var decoded map[string]string
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload did not survive delivery: %v", err)
	}
	if decoded["invoiceId"] != "inv-1" {
		t.Errorf("unexpected payload: %v", decoded)
	}
}

func TestTenantIsolation(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	_, chA := collect(t, b, "tenant-a", domain.TopicInvoiceReceived)
	_, chB := collect(t, b, "tenant-b", domain.TopicInvoiceReceived)

	if err := b.Publish(context.Background(), "tenant-a", domain.TopicInvoiceReceived, []byte("a-invoice")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msg := waitMsg(t, chA)
	if string(msg.Payload) != "a-invoice" {
		t.Errorf("tenant-a received wrong payload: %s", msg.Payload)
	}

	select {
	case msg := <-chB:
		t.Errorf("tenant-b must not see tenant-a's invoice, got %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastSubscriberSeesAllTenants(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	// The intake worker without a tenant list drains every tenant's queue
	// through a single broadcast subscription.
	_, ch := collect(t, b, domain.BroadcastTenant, domain.TopicInvoiceReceived)

	ctx := context.Background()
	if err := b.Publish(ctx, "tenant-a", domain.TopicInvoiceReceived, []byte("from-a")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-b", domain.TopicInvoiceReceived, []byte("from-b")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := waitMsg(t, ch)
		seen[msg.TenantID] = true
	}
	if !seen["tenant-a"] || !seen["tenant-b"] {
		t.Errorf("broadcast subscriber missed a tenant: %v", seen)
	}
}

func TestBroadcastTenantCannotPublish(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	err := b.Publish(context.Background(), domain.BroadcastTenant, domain.TopicInvoiceReceived, []byte("x"))
	if err == nil {
		t.Error("publishing under the broadcast tenant must fail")
	}
}

func TestTenantRequired(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	if err := b.Publish(context.Background(), "", domain.TopicDecision, []byte("x")); err == nil {
		t.Error("publish without tenant must fail")
	}
	if _, err := b.Subscribe(context.Background(), "", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); err == nil {
		t.Error("subscribe without tenant must fail")
	}
}

func TestUnsubscribeDetaches(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	sub, ch := collect(t, b, "tenant-001", domain.TopicReviewRequired)

	ctx := context.Background()
	if err := b.Publish(ctx, "tenant-001", domain.TopicReviewRequired, []byte("first")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitMsg(t, ch)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-001", domain.TopicReviewRequired, []byte("second")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-ch:
		t.Errorf("received %q after unsubscribe", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}

	if dropped := sub.(*chanSub).Dropped(); dropped != 0 {
		t.Errorf("detached subscriber must not accumulate drops, got %d", dropped)
	}
}

func TestOverflowCountsDrops(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()

	release := make(chan struct{})
	sub, err := b.Subscribe(context.Background(), "tenant-001", domain.TopicInvoiceReceived, func(ctx context.Context, msg *domain.Message) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer close(release)

	ctx := context.Background()

	// First event occupies the handler, second fills the one-slot buffer.
	b.Publish(ctx, "tenant-001", domain.TopicInvoiceReceived, []byte("one"))
	time.Sleep(50 * time.Millisecond)
	b.Publish(ctx, "tenant-001", domain.TopicInvoiceReceived, []byte("two"))
	b.Publish(ctx, "tenant-001", domain.TopicInvoiceReceived, []byte("three"))

	if dropped := sub.(*chanSub).Dropped(); dropped == 0 {
		t.Error("expected overflow to be counted as dropped")
	}
}

func TestSubscriptionTopic(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	sub, _ := collect(t, b, "tenant-001", domain.TopicApprovalOverdue)
	if sub.Topic() != domain.TopicApprovalOverdue {
		t.Errorf("expected topic %s, got %s", domain.TopicApprovalOverdue, sub.Topic())
	}
}

func TestClosedBusRejectsTraffic(t *testing.T) {
	b := NewChannelBus(100)

	collect(t, b, "tenant-001", domain.TopicDecision)

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Publish(context.Background(), "tenant-001", domain.TopicDecision, []byte("late")); err == nil {
		t.Error("publish after close must fail")
	}
	if _, err := b.Subscribe(context.Background(), "tenant-001", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); err == nil {
		t.Error("subscribe after close must fail")
	}
	if err := b.Ping(context.Background()); err == nil {
		t.Error("ping after close must fail")
	}
}

func TestPipelineTopicsCoverTheFlow(t *testing.T) {
	topics := domain.PipelineTopics()
	if len(topics) != 6 {
		t.Fatalf("expected 6 pipeline topics, got %d", len(topics))
	}
	if topics[0] != domain.TopicInvoiceReceived {
		t.Errorf("intake must lead the flow, got %s", topics[0])
	}
	if topics[3] != domain.TopicDecision {
		t.Errorf("expected decision topic fourth, got %s", topics[3])
	}
}
