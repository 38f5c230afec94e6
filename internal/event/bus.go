package event

import (
	"context"
	"log"
	"sync"

	"github.com/campushub/backend/internal/platform/metrics"
)

var (
	publishedTotal = metrics.NewCounter(metrics.Opts{
		Name: "bus_events_published_total",
		Help: "Domain events handed to the bus.",
	})
	handlerFailuresTotal = metrics.NewCounter(metrics.Opts{
		Name: "bus_handler_failures_total",
		Help: "Subscriber invocations that returned an error or panicked.",
	})
)

func init() {
	metrics.Default.MustRegister(publishedTotal, handlerFailuresTotal)
}

// Handler consumes one domain event. Errors are logged by the bus and never
// reach the publisher.
type Handler func(ctx context.Context, e Event) error

// Bus is the in-process publish/subscribe channel between domain-action
// producers and the dispatcher. Publishing is synchronous: all handlers for
// the event's kind run before Publish returns. Subscriptions are expected to
// happen once at startup.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

// Publish delivers e to every subscriber of its kind. A failing or panicking
// handler is logged and does not block other handlers; from the producer's
// point of view the event is delivered regardless of handler outcome.
func (b *Bus) Publish(ctx context.Context, e Event) {
	publishedTotal.Inc()

	b.mu.RLock()
	handlers := b.handlers[e.Kind()]
	b.mu.RUnlock()

	for _, h := range handlers {
		invoke(ctx, h, e)
	}
}

func invoke(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			handlerFailuresTotal.Inc()
			log.Printf("event handler panic for %s: %v", e.Kind(), r)
		}
	}()
	if err := h(ctx, e); err != nil {
		handlerFailuresTotal.Inc()
		log.Printf("event handler failed for %s: %v", e.Kind(), err)
	}
}
