package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	in := InboundMessage{Kind: KindMention, Channel: "slack", ChatID: "C1", Content: "hello", ThreadKey: "1.0"}
	if ok := mb.PublishInbound(context.Background(), in); !ok {
		t.Fatal("expected inbound publish to succeed")
	}
	if mb.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", mb.Pending())
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected inbound consume to succeed")
	}
	if out.Content != in.Content || out.Kind != KindMention {
		t.Fatalf("message = %+v, want %+v", out, in)
	}
}

func TestPublishInboundWaitsForCapacity(t *testing.T) {
	mb := NewMessageBusWithBuffer(1)
	t.Cleanup(mb.Close)

	if ok := mb.PublishInbound(context.Background(), InboundMessage{Content: "first"}); !ok {
		t.Fatal("expected first publish to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if ok := mb.PublishInbound(ctx, InboundMessage{Content: "second"}); ok {
		t.Fatal("expected publish to a full queue to give up when the context expires")
	}
}

func TestInThread(t *testing.T) {
	cases := []struct {
		msg  InboundMessage
		want bool
	}{
		{InboundMessage{Timestamp: "2.0"}, false},
		{InboundMessage{Timestamp: "2.0", ThreadKey: "2.0"}, false},
		{InboundMessage{Timestamp: "2.0", ThreadKey: "1.0"}, true},
	}
	for _, tc := range cases {
		if got := tc.msg.InThread(); got != tc.want {
			t.Fatalf("InThread(%+v) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventTaskReceived, RequestID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventTaskReceived || got.At.IsZero() {
				t.Fatalf("subscriber %s got %+v", name, got)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventTaskReceived}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventTaskCreated}); !ok {
		t.Fatal("expected second event publish to succeed")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventTaskReceived}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	events, _ := mb.SubscribeEvents(context.Background(), 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}

func TestReplyAddressing(t *testing.T) {
	event := InboundMessage{Channel: "slack", ChatID: "C1", Timestamp: "2.0", RequestID: "r1"}
	reply := event.Reply("done")
	if reply.ThreadKey != "2.0" || reply.ResponseURL != "" || reply.Ephemeral {
		t.Fatalf("top-level reply = %+v", reply)
	}

	event.ThreadKey = "1.0"
	if reply := event.Reply("done"); reply.ThreadKey != "1.0" {
		t.Fatalf("threaded reply key = %q, want 1.0", reply.ThreadKey)
	}

	command := InboundMessage{Channel: "slack", ChatID: "C1", ResponseURL: "https://hooks.slack.com/x"}
	reply = command.Reply("done")
	if reply.ResponseURL == "" || !reply.Ephemeral || reply.ThreadKey != "" {
		t.Fatalf("command reply = %+v", reply)
	}
}
