package eventbus

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/event"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability/logctx"
)

const componentBus = "event_bus"

// Bus is an in-memory publish/subscribe fanout for domain events. It is not
// durable: events accepted but not yet dispatched are lost on shutdown. The
// order/payment state machine never depends on it; it feeds the notification
// and audit path only.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]event.Handler
	queue     chan event.Event
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	log       observability.Logger
}

func New(logger observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		subs:  make(map[string][]event.Handler),
		queue: make(chan event.Event, 1024),
		log:   logger.With(observability.F("component", componentBus)),
	}
}

func (b *Bus) Subscribe(eventName string, h event.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		close(b.queue)
		logctx.FromOr(ctx, b.log).Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	if e == nil {
		return nil
	}
	select {
	case b.queue <- e:
		logctx.FromOr(ctx, b.log).Debug("event_enqueued",
			observability.F("event", e.EventName()),
		)
		return nil
	case <-ctx.Done():
		logctx.FromOr(ctx, b.log).Warn("event_enqueue_aborted",
			observability.F("event", e.EventName()),
			observability.F("error", ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.queue:
			if !ok {
				return
			}
			b.fanout(ctx, e)
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e event.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]event.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, name, e, h)
	}
}

// dispatch isolates handler panics so one misbehaving subscriber cannot take
// down the loop.
func (b *Bus) dispatch(ctx context.Context, name string, e event.Event, h event.Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event_handler_panic",
				observability.F("event", name),
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
		}
	}()

	if err := h(ctx, e); err != nil {
		b.log.Warn("event_handler_failed",
			observability.F("event", name),
			observability.F("error", err.Error()),
		)
	}
}
