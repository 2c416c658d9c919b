package order

import "time"

// OrderCreatedEvent is emitted when checkout persists a new order.
type OrderCreatedEvent struct {
	OrderID       string
	CustomerID    string
	PaymentMethod PaymentMethod
	TotalAmount   int64
	OccurredAt    time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		PaymentMethod: o.PaymentMethod,
		TotalAmount:   o.TotalAmount,
		OccurredAt:    time.Now().UTC(),
	}
}

// OrderConfirmedEvent is emitted after the reservation transaction commits
// the confirmation and every stock decrement.
type OrderConfirmedEvent struct {
	OrderID       string
	PaymentStatus PaymentStatus
	OccurredAt    time.Time
}

func (OrderConfirmedEvent) EventName() string { return "order.confirmed" }

func NewOrderConfirmedEvent(id string, ps PaymentStatus) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		OrderID:       id,
		PaymentStatus: ps,
		OccurredAt:    time.Now().UTC(),
	}
}

// OrderCancelledEvent is emitted for every cancellation, including the
// charged-but-refunded path; RefundID is set when a compensating refund was
// issued.
type OrderCancelledEvent struct {
	OrderID    string
	Reason     string
	RefundID   string
	OccurredAt time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(id, reason, refundID string) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:    id,
		Reason:     reason,
		RefundID:   refundID,
		OccurredAt: time.Now().UTC(),
	}
}
