package queue

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// LIFECYCLE EVENTS
// =============================================================================

// EventType names one queue lifecycle transition.
type EventType string

const (
	EventJobEnqueued  EventType = "jobEnqueued"
	EventJobStarted   EventType = "jobStarted"
	EventJobCompleted EventType = "jobCompleted"
	EventJobFailed    EventType = "jobFailed"
	EventJobRetry     EventType = "jobRetry"
	EventJobTimeout   EventType = "jobTimeout"
)

// Event is an immutable snapshot handed to subscribers. It deliberately
// carries copies, not the *Job, so handlers cannot race the scheduler.
type Event struct {
	Type          EventType
	JobID         string
	SessionID     string
	ThoughtNumber int
	Priority      Priority
	Attempt       int
	Err           error
	At            time.Time
}

// Handler receives events synchronously on the goroutine that produced
// them. Handlers must be fast; a panicking handler is recovered and logged
// so it cannot take the scheduler down.
type Handler func(Event)

type eventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *zap.Logger
}

func newEventBus(logger *zap.Logger) *eventBus {
	return &eventBus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

func (b *eventBus) on(t EventType, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

func (b *eventBus) emit(e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *eventBus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("queue event handler panicked",
				zap.String("event", string(e.Type)),
				zap.String("job", e.JobID),
				zap.Any("panic", r))
		}
	}()
	h(e)
}
