// Package notify consumes order lifecycle events and records customer-facing
// notifications and the cancellation audit trail. Delivery is log-based; a
// real mail or push channel would slot in behind the same handlers.
package notify

import (
	"context"

	domevent "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/event"
	domord "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/order"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
)

const workerName = "notify-worker"

// Worker subscribes to the order event stream.
type Worker struct {
	log observability.Logger
}

func NewWorker(logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		log: logger.With(observability.F("component", workerName)),
	}
}

// Register attaches the worker's handlers to the bus.
func (w *Worker) Register(sub domevent.Subscriber) {
	sub.Subscribe(domord.OrderCreatedEvent{}.EventName(), w.onCreated)
	sub.Subscribe(domord.OrderConfirmedEvent{}.EventName(), w.onConfirmed)
	sub.Subscribe(domord.OrderCancelledEvent{}.EventName(), w.onCancelled)
}

func (w *Worker) onCreated(_ context.Context, e domevent.Event) error {
	ev, ok := e.(domord.OrderCreatedEvent)
	if !ok {
		return nil
	}
	w.log.Info("notification_order_created",
		observability.F("order_id", ev.OrderID),
		observability.F("customer_id", ev.CustomerID),
		observability.F("payment_method", string(ev.PaymentMethod)),
		observability.F("total_amount", ev.TotalAmount),
	)
	return nil
}

func (w *Worker) onConfirmed(_ context.Context, e domevent.Event) error {
	ev, ok := e.(domord.OrderConfirmedEvent)
	if !ok {
		return nil
	}
	w.log.Info("notification_order_confirmed",
		observability.F("order_id", ev.OrderID),
		observability.F("payment_status", string(ev.PaymentStatus)),
	)
	return nil
}

// onCancelled doubles as the audit record for compensations: a cancellation
// carrying a refund id is the charged-but-refunded path.
func (w *Worker) onCancelled(_ context.Context, e domevent.Event) error {
	ev, ok := e.(domord.OrderCancelledEvent)
	if !ok {
		return nil
	}
	fields := []observability.Field{
		observability.F("order_id", ev.OrderID),
		observability.F("reason", ev.Reason),
	}
	if ev.RefundID != "" {
		fields = append(fields, observability.F("refund_id", ev.RefundID))
	}
	w.log.Info("notification_order_cancelled", fields...)
	return nil
}
