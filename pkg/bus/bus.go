// Package bus decouples webhook acknowledgement from task processing.
package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

type MessageBus struct {
	inbound chan InboundMessage

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithBuffer(defaultBufferSize)
}

// NewMessageBusWithBuffer sizes the inbound queue.
func NewMessageBusWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:          make(chan InboundMessage, size),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	return publish(ctx, mb.done, mb.inbound, msg)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return consume(ctx, mb.done, mb.inbound)
}

// Pending returns the number of queued inbound messages.
func (mb *MessageBus) Pending() int {
	return len(mb.inbound)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}

func publish[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, msg T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case ch <- msg:
		return true
	}
}

func consume[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	select {
	case <-ctx.Done():
		return zero, false
	case <-done:
		return zero, false
	case msg := <-ch:
		return msg, true
	}
}
