package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: already exists")
	ErrAlreadyProcessed  = errors.New("order: already processed")
	ErrInvalidTransition = errors.New("order: status does not allow this transition")
	ErrNoItems           = errors.New("order: at least one line item is required")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount     = errors.New("order: amount must be greater than zero")
)

// Status is the fulfilment-side lifecycle of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus is the payment-side lifecycle, tracked independently of
// Status: (confirmed, cancelled) is a valid terminal pair meaning "charged
// but refunded".
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Valid reports whether ps is one of the declared payment statuses. Inputs
// crossing a trust boundary must be checked before they reach the order.
func (ps PaymentStatus) Valid() bool {
	switch ps {
	case PaymentPending, PaymentConfirmed, PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCOD PaymentMethod = "cod"
	MethodUPI PaymentMethod = "upi"
)

// Item is one order line. UnitPrice is a snapshot in minor currency units
// taken at checkout time.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Order is the aggregate the reconciliation workflow and the reservation
// transaction operate on. TotalAmount is in minor currency units.
type Order struct {
	ID                 string        `json:"id"`
	CustomerID         string        `json:"customer_id"`
	Items              []Item        `json:"items"`
	Status             Status        `json:"order_status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	TotalAmount        int64         `json:"total_amount"`
	Currency           string        `json:"currency"`
	GatewayOrderID     string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID   string        `json:"gateway_payment_id,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// New validates the line items and builds a (pending, pending) order.
func New(id, customerID string, items []Item, method PaymentMethod, currency string) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	var total int64
	for _, it := range items {
		if it.ProductID == "" {
			return nil, ErrNoItems
		}
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.UnitPrice <= 0 {
			return nil, ErrInvalidAmount
		}
		total += it.UnitPrice * int64(it.Quantity)
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		CustomerID:    customerID,
		Items:         append([]Item(nil), items...),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: method,
		TotalAmount:   total,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Terminal reports whether the order reached a terminal fulfilment state.
// Duplicate payment callbacks against a terminal order must be no-ops.
func (o *Order) Terminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusCancelled
}

// Confirm moves a pending order to confirmed, recording the payment status
// the caller established. Only the reservation transaction calls this, after
// every line item passed the stock check.
func (o *Order) Confirm(ps PaymentStatus) error {
	if o.Status != StatusPending {
		return ErrInvalidTransition
	}
	o.Status = StatusConfirmed
	o.PaymentStatus = ps
	o.CancellationReason = ""
	o.touch()
	return nil
}

// Cancel moves the order to cancelled with the given payment status and a
// mandatory reason. (PaymentConfirmed, StatusCancelled) is the
// charged-but-refunded terminal pair and must carry the reason that forced it.
func (o *Order) Cancel(ps PaymentStatus, reason string) error {
	if o.Status == StatusCancelled {
		return ErrInvalidTransition
	}
	if reason == "" {
		return ErrInvalidTransition
	}
	o.Status = StatusCancelled
	o.PaymentStatus = ps
	o.CancellationReason = reason
	o.touch()
	return nil
}

// AttachGatewayIntent records the gateway-side order id created for online
// payment collection.
func (o *Order) AttachGatewayIntent(gatewayOrderID string) {
	o.GatewayOrderID = gatewayOrderID
	o.touch()
}

// RecordGatewayPayment records the gateway payment id from a verified
// callback.
func (o *Order) RecordGatewayPayment(gatewayPaymentID string) {
	o.GatewayPaymentID = gatewayPaymentID
	o.touch()
}

// Clone returns a deep copy; repositories hand out clones so callers never
// share mutable state with the store.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
