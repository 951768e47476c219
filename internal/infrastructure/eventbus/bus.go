package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

const DefaultBufferSize = 256

// Handler receives one progress event. A panicking handler is logged
// and contained; it never takes the dispatcher down.
type Handler func(ctx context.Context, event *entity.ProgressEvent)

// Bus fans progress events out to subscribers. Delivery is best-effort;
// publishing never blocks the agent loop.
type Bus interface {
	Publish(ctx context.Context, event *entity.ProgressEvent)
	Subscribe(eventType string, handler Handler) func()
	Close()
}

// InMemoryBus dispatches through a bounded channel. A full buffer drops
// the event and counts it, rather than stalling the publisher.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
	events   chan busEvent
	closed   bool
	dropped  atomic.Int64
	logger   *zap.Logger
	wg       sync.WaitGroup
}

type busEvent struct {
	ctx   context.Context
	event *entity.ProgressEvent
}

var _ Bus = (*InMemoryBus)(nil)

func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bus := &InMemoryBus{
		handlers: make(map[string]map[int]Handler),
		events:   make(chan busEvent, bufferSize),
		logger:   logger.Named("eventbus"),
	}
	bus.wg.Add(1)
	go bus.dispatch()
	return bus
}

// Publish enqueues event for dispatch, stamping a timestamp if the
// caller left it zero. Holding the read lock across the send keeps a
// concurrent Close from closing the channel mid-publish.
func (b *InMemoryBus) Publish(ctx context.Context, event *entity.ProgressEvent) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.events <- busEvent{ctx: ctx, event: event}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID))
	}
}

// Subscribe registers handler for eventType (or Wildcard) and returns
// the matching unsubscribe func.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Close stops intake, drains buffered events to subscribers, and
// returns once the dispatcher has exited.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug("event bus closed")
}

// Dropped reports how many events were discarded on a full buffer.
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for be := range b.events {
		b.dispatchOne(be.ctx, be.event)
	}
}

// dispatchOne runs the type-matched and wildcard handlers in parallel
// and waits for them, so events reach subscribers in publish order.
func (b *InMemoryBus) dispatchOne(ctx context.Context, event *entity.ProgressEvent) {
	b.mu.RLock()
	var handlers []Handler
	for _, h := range b.handlers[string(event.Type)] {
		handlers = append(handlers, h)
	}
	for _, h := range b.handlers[Wildcard] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("type", string(event.Type)),
						zap.Any("panic", r))
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}
