package bus

import (
	"log/slog"
	"strconv"
	"sync"

	"warelay/internal/domain"
)

// Wildcard subscribes a handler to every event kind.
const Wildcard = "*"

// EventHandler is a callback for session events.
type EventHandler func(domain.SessionEvent)

// EventBus fans session events out to subscribers by kind. A panicking handler
// is logged and does not reach the emitter or the other handlers.
type EventBus struct {
	handlers map[string][]namedHandler
	nextID   int
	mu       sync.RWMutex
	inflight sync.WaitGroup
	logger   *slog.Logger

	queueMu  sync.Mutex
	queue    []domain.SessionEvent
	draining bool
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event kind (see domain.Kind), or for all
// kinds with Wildcard. Returns the handler ID for unsubscription.
func (eb *EventBus) On(kind string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := kind + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[kind] = append(eb.handlers[kind], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(kind, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[kind]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[kind] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously, in registration order,
// specific handlers before wildcard ones.
func (eb *EventBus) Emit(ev domain.SessionEvent) {
	kind := domain.Kind(ev)

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[kind])+len(eb.handlers[Wildcard]))
	handlers = append(handlers, eb.handlers[kind]...)
	handlers = append(handlers, eb.handlers[Wildcard]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", kind, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(ev)
		}(h)
	}
}

// EmitAsync runs Emit on its own goroutine. Wait blocks until those finish.
func (eb *EventBus) EmitAsync(ev domain.SessionEvent) {
	eb.inflight.Add(1)
	go func() {
		defer eb.inflight.Done()
		eb.Emit(ev)
	}()
}

// Wait blocks until every EmitAsync call and the ordered queue have finished.
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}

// EmitOrdered queues ev for a single worker goroutine, so events emitted this
// way are handled one at a time in call order without blocking the caller.
// The worker exits when the queue is empty; Wait also waits for it.
func (eb *EventBus) EmitOrdered(ev domain.SessionEvent) {
	eb.queueMu.Lock()
	defer eb.queueMu.Unlock()
	eb.queue = append(eb.queue, ev)
	if eb.draining {
		return
	}
	eb.draining = true
	eb.inflight.Add(1)
	go eb.drain()
}

func (eb *EventBus) drain() {
	defer eb.inflight.Done()
	for {
		eb.queueMu.Lock()
		if len(eb.queue) == 0 {
			eb.draining = false
			eb.queueMu.Unlock()
			return
		}
		ev := eb.queue[0]
		eb.queue[0] = nil
		eb.queue = eb.queue[1:]
		eb.queueMu.Unlock()

		eb.Emit(ev)
	}
}

// Publish is the session source's entry point. It never blocks on handlers:
// lifecycle events go through the ordered queue so the QR sink sees them in
// order, and messages run concurrently so one slow media download or delivery
// does not hold up the next.
func (eb *EventBus) Publish(ev domain.SessionEvent) {
	if _, ok := ev.(domain.MessageReceived); ok {
		eb.EmitAsync(ev)
		return
	}
	eb.EmitOrdered(ev)
}
