// Package events provides an event bus for training progress.
package events

import (
	"context"
	"sync"

	"github.com/owm-go/owm/internal/shared"
)

// Handler is a function that handles events.
type Handler func(event shared.Event)

// EventBus provides publish-subscribe over Go channels and handlers.
// Handlers run synchronously in emission order so that progress logs follow
// training order; channel subscribers never block the emitter.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[shared.EventType][]chan shared.Event
	handlers    map[shared.EventType][]Handler
	bufferSize  int
	closed      bool
	emitted     int64
	dropped     int64
}

// Option configures the EventBus.
type Option func(*EventBus)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(eb *EventBus) {
		if size > 0 {
			eb.bufferSize = size
		}
	}
}

// New creates a new EventBus.
func New(opts ...Option) *EventBus {
	eb := &EventBus{
		subscribers: make(map[shared.EventType][]chan shared.Event),
		handlers:    make(map[shared.EventType][]Handler),
		bufferSize:  256,
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

// Subscribe creates a channel to receive events of the given type.
func (eb *EventBus) Subscribe(eventType shared.EventType) <-chan shared.Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan shared.Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a channel to receive all events.
func (eb *EventBus) SubscribeAll() <-chan shared.Event {
	return eb.Subscribe(shared.EventWildcard)
}

// Unsubscribe removes and closes a subscription channel.
func (eb *EventBus) Unsubscribe(eventType shared.EventType, ch <-chan shared.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	for i, sub := range subs {
		if (<-chan shared.Event)(sub) == ch {
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// On registers a handler for events of the given type.
func (eb *EventBus) On(eventType shared.EventType, handler Handler) {
	if handler == nil {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Off removes all handlers of the given type.
func (eb *EventBus) Off(eventType shared.EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.handlers, eventType)
}

// Emit publishes an event to all subscribers and handlers.
func (eb *EventBus) Emit(event shared.Event) {
	if eb == nil {
		return
	}

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = shared.Now()
	}
	eb.emitted++

	for _, key := range []shared.EventType{event.Type, shared.EventWildcard} {
		for _, ch := range eb.subscribers[key] {
			delivered := event
			delivered.Payload = shared.ClonePayload(event.Payload)
			select {
			case ch <- delivered:
			default:
				eb.dropped++
			}
		}
	}

	handlers := make([]Handler, 0, len(eb.handlers[event.Type])+len(eb.handlers[shared.EventWildcard]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers[shared.EventWildcard]...)
	eb.mu.Unlock()

	for _, handler := range handlers {
		safeInvoke(handler, event)
	}
}

// EmitWithContext publishes an event unless the context is done.
func (eb *EventBus) EmitWithContext(ctx context.Context, event shared.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		eb.Emit(event)
		return nil
	}
}

// Stats returns the number of emitted events and dropped channel deliveries.
func (eb *EventBus) Stats() (emitted, dropped int64) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.emitted, eb.dropped
}

// Close closes all subscriber channels and stops the event bus.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, subs := range eb.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}

	eb.subscribers = make(map[shared.EventType][]chan shared.Event)
	eb.handlers = make(map[shared.EventType][]Handler)
}

func safeInvoke(handler Handler, event shared.Event) {
	defer func() {
		_ = recover()
	}()
	handler(event)
}

// ============================================================================
// Helper Functions
// ============================================================================

// EmitRunStarted emits a run started event.
func (eb *EventBus) EmitRunStarted(runID string, tasks int) {
	eb.Emit(shared.Event{
		Type:  shared.EventRunStarted,
		RunID: runID,
		Payload: map[string]interface{}{
			"tasks": tasks,
		},
	})
}

// EmitEpochCompleted emits an epoch completed event.
func (eb *EventBus) EmitEpochCompleted(runID string, epoch, numEpochs, task, tasks int, accuracy float64, immune, extension bool) {
	eb.Emit(shared.Event{
		Type:  shared.EventEpochCompleted,
		RunID: runID,
		Payload: map[string]interface{}{
			"task":      task,
			"tasks":     tasks,
			"epoch":     epoch,
			"numEpochs": numEpochs,
			"accuracy":  accuracy,
			"immune":    immune,
			"extension": extension,
		},
	})
}

// EmitTaskConverged emits a task converged event.
func (eb *EventBus) EmitTaskConverged(runID string, task, epoch int, accuracy float64) {
	eb.Emit(shared.Event{
		Type:  shared.EventTaskConverged,
		RunID: runID,
		Payload: map[string]interface{}{
			"task":     task,
			"epoch":    epoch,
			"accuracy": accuracy,
		},
	})
}

// EmitTaskExtended emits an event when extension epochs start.
func (eb *EventBus) EmitTaskExtended(runID string, task, fromEpoch, epochs int) {
	eb.Emit(shared.Event{
		Type:  shared.EventTaskExtended,
		RunID: runID,
		Payload: map[string]interface{}{
			"task":      task,
			"fromEpoch": fromEpoch,
			"epochs":    epochs,
		},
	})
}

// EmitTaskCompleted emits a task completed event.
func (eb *EventBus) EmitTaskCompleted(runID string, task, tasks, epoch, numEpochs int, accuracy float64, phase string) {
	eb.Emit(shared.Event{
		Type:  shared.EventTaskCompleted,
		RunID: runID,
		Payload: map[string]interface{}{
			"task":      task,
			"tasks":     tasks,
			"epoch":     epoch,
			"numEpochs": numEpochs,
			"accuracy":  accuracy,
			"phase":     phase,
		},
	})
}

// EmitTaskFailed emits a task failed event.
func (eb *EventBus) EmitTaskFailed(runID string, task int, err error) {
	eb.Emit(shared.Event{
		Type:  shared.EventTaskFailed,
		RunID: runID,
		Payload: map[string]interface{}{
			"task":  task,
			"error": err.Error(),
		},
	})
}

// EmitRunCompleted emits a run completed event.
func (eb *EventBus) EmitRunCompleted(runID string, accuracy float64, elapsed string) {
	eb.Emit(shared.Event{
		Type:  shared.EventRunCompleted,
		RunID: runID,
		Payload: map[string]interface{}{
			"accuracy": accuracy,
			"elapsed":  elapsed,
		},
	})
}
