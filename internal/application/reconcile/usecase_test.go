package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/apperr"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/reservation"
	domevent "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/event"
	dominv "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/inventory"
	domord "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/order"
	dompay "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/payment"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/docstore"
)

const webhookSecret = "test-secret"

type refundCall struct {
	GatewayPaymentID string
	Amount           int64
	Currency         string
}

type fakeGateway struct {
	mu          sync.Mutex
	refundCalls []refundCall
	refundErr   error
}

func (g *fakeGateway) CreateIntent(context.Context, int64, string) (*dompay.Intent, error) {
	return &dompay.Intent{GatewayOrderID: "gw_order_1"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, gatewayPaymentID string, amount int64, currency string) (*dompay.RefundReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, refundCall{
		GatewayPaymentID: gatewayPaymentID,
		Amount:           amount,
		Currency:         currency,
	})
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &dompay.RefundReceipt{RefundID: "rfnd_1"}, nil
}

func (g *fakeGateway) calls() []refundCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]refundCall(nil), g.refundCalls...)
}

type capturedEvents struct {
	mu     sync.Mutex
	events []domevent.Event
}

func (c *capturedEvents) Publish(_ context.Context, e domevent.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturedEvents) byName(name string) []domevent.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domevent.Event
	for _, e := range c.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	uc        *UseCase
	orders    *docstore.OrderRepository
	inventory *docstore.InventoryRepository
	gateway   *fakeGateway
	events    *capturedEvents
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := docstore.NewMemory(docstore.WithMaxAttempts(50))
	orders := docstore.NewOrderRepository(store)
	inventory := docstore.NewInventoryRepository(store)
	gw := &fakeGateway{}
	events := &capturedEvents{}
	reserver := reservation.NewUseCase(store, orders, inventory, events, nil)
	return &fixture{
		uc:        NewUseCase(orders, store, reserver, gw, events, webhookSecret, nil),
		orders:    orders,
		inventory: inventory,
		gateway:   gw,
		events:    events,
	}
}

func (f *fixture) seedOrder(t *testing.T, id string, items ...domord.Item) *domord.Order {
	t.Helper()
	o, err := domord.New(id, "cust-1", items, domord.MethodUPI, "INR")
	require.NoError(t, err)
	o.AttachGatewayIntent("gw_order_1")
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func (f *fixture) seedStock(t *testing.T, productID string, qty int) {
	t.Helper()
	item, err := dominv.NewItem(productID, qty)
	require.NoError(t, err)
	require.NoError(t, f.inventory.Save(context.Background(), item))
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	item, err := f.inventory.Get(context.Background(), productID)
	require.NoError(t, err)
	return item.Quantity
}

func signedCallback(orderID string) dompay.Callback {
	cb := dompay.Callback{
		GatewayOrderID:   "gw_order_1",
		GatewayPaymentID: "gw_pay_1",
		OrderID:          orderID,
	}
	cb.Signature = dompay.Sign(webhookSecret, cb.GatewayOrderID, cb.GatewayPaymentID)
	return cb
}

func item(productID string, qty int) domord.Item {
	return domord.Item{ProductID: productID, Quantity: qty, UnitPrice: 1000}
}

func TestReconcileSuccess(t *testing.T) {
	f := setup(t)
	f.seedOrder(t, "order-1", item("croissant", 2))
	f.seedStock(t, "croissant", 5)

	out, err := f.uc.Execute(context.Background(), Input{Callback: signedCallback("order-1")})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domord.StatusConfirmed, o.Status)
	assert.Equal(t, domord.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, "gw_pay_1", o.GatewayPaymentID)

	assert.Equal(t, 3, f.stock(t, "croissant"))
	assert.Empty(t, f.gateway.calls())
}

func TestReconcileSignatureMismatch(t *testing.T) {
	f := setup(t)
	f.seedOrder(t, "order-1", item("croissant", 1))
	f.seedStock(t, "croissant", 5)

	cb := signedCallback("order-1")
	cb.Signature = "deadbeef"

	out, err := f.uc.Execute(context.Background(), Input{Callback: cb})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, reasonSignatureMismatch, out.Reason)

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domord.StatusCancelled, o.Status)
	assert.Equal(t, domord.PaymentCancelled, o.PaymentStatus)
	assert.Equal(t, reasonSignatureMismatch, o.CancellationReason)

	// No money moved: nothing to refund, no stock touched.
	assert.Equal(t, 5, f.stock(t, "croissant"))
	assert.Empty(t, f.gateway.calls())
	assert.Len(t, f.events.byName("order.cancelled"), 1)
}

func TestReconcileInsufficientStockRefunds(t *testing.T) {
	f := setup(t)
	seeded := f.seedOrder(t, "order-1", item("croissant", 3))
	f.seedStock(t, "croissant", 1)

	out, err := f.uc.Execute(context.Background(), Input{Callback: signedCallback("order-1")})
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentConfirmedOrderCancelled, out.Status)
	assert.Equal(t, "croissant", out.InsufficientProductID)
	assert.Equal(t, "rfnd_1", out.RefundID)
	assert.Empty(t, out.RefundError)
	assert.Contains(t, out.Reason, "croissant")

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domord.StatusCancelled, o.Status)
	assert.Equal(t, domord.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, "gw_pay_1", o.GatewayPaymentID)
	assert.Contains(t, o.CancellationReason, "croissant")

	assert.Equal(t, 1, f.stock(t, "croissant"))

	calls := f.gateway.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gw_pay_1", calls[0].GatewayPaymentID)
	assert.Equal(t, seeded.TotalAmount, calls[0].Amount)
	assert.Equal(t, "INR", calls[0].Currency)
}

func TestReconcileRefundFailureSurfaced(t *testing.T) {
	f := setup(t)
	f.seedOrder(t, "order-1", item("croissant", 3))
	f.seedStock(t, "croissant", 1)
	f.gateway.refundErr = &dompay.GatewayError{Status: 503, Message: "unavailable"}

	out, err := f.uc.Execute(context.Background(), Input{Callback: signedCallback("order-1")})
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentConfirmedOrderCancelled, out.Status)
	assert.Empty(t, out.RefundID)
	assert.Contains(t, out.RefundError, "unavailable")

	// The cancellation sticks; refund recovery is manual from here.
	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domord.StatusCancelled, o.Status)
	assert.Equal(t, domord.PaymentConfirmed, o.PaymentStatus)
}

func TestReconcileReplaysConfirmedOrder(t *testing.T) {
	f := setup(t)
	f.seedOrder(t, "order-1", item("croissant", 1))
	f.seedStock(t, "croissant", 5)

	cb := signedCallback("order-1")
	first, err := f.uc.Execute(context.Background(), Input{Callback: cb})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, first.Status)

	second, err := f.uc.Execute(context.Background(), Input{Callback: cb})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, second.Status)

	// Redelivery must not decrement twice.
	assert.Equal(t, 4, f.stock(t, "croissant"))
}

func TestReconcileReplaysCancelledOrder(t *testing.T) {
	f := setup(t)
	f.seedOrder(t, "order-1", item("croissant", 3))
	f.seedStock(t, "croissant", 1)

	cb := signedCallback("order-1")
	first, err := f.uc.Execute(context.Background(), Input{Callback: cb})
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentConfirmedOrderCancelled, first.Status)

	second, err := f.uc.Execute(context.Background(), Input{Callback: cb})
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentConfirmedOrderCancelled, second.Status)
	assert.Contains(t, second.Reason, "croissant")

	// The refund was issued exactly once.
	assert.Len(t, f.gateway.calls(), 1)
}

func TestReconcileValidation(t *testing.T) {
	f := setup(t)

	_, err := f.uc.Execute(context.Background(), Input{Callback: dompay.Callback{OrderID: "order-1"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Empty(t, f.gateway.calls())
}

func TestReconcileUnknownOrder(t *testing.T) {
	f := setup(t)

	_, err := f.uc.Execute(context.Background(), Input{Callback: signedCallback("missing")})
	assert.ErrorIs(t, err, domord.ErrNotFound)
}

type reserverFunc func(ctx context.Context, cmd reservation.Input) (*reservation.Result, error)

func (fn reserverFunc) Execute(ctx context.Context, cmd reservation.Input) (*reservation.Result, error) {
	return fn(ctx, cmd)
}

func TestReconcileCancelPreservesConcurrentConfirmation(t *testing.T) {
	f := setup(t)
	f.seedOrder(t, "order-1", item("croissant", 1))
	f.seedStock(t, "croissant", 5)

	cb := signedCallback("order-1")
	first, err := f.uc.Execute(context.Background(), Input{Callback: cb})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, first.Status)

	// A delivery that read the order while it was still pending now tries to
	// commit its cancellation. The confirmed state must survive.
	tampered := cb
	tampered.Signature = "deadbeef"
	already, err := f.uc.cancelOrder(context.Background(), tampered, domord.PaymentCancelled, reasonSignatureMismatch)
	require.NoError(t, err)
	require.NotNil(t, already)
	assert.Equal(t, domord.StatusConfirmed, already.Status)

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domord.StatusConfirmed, o.Status)
	assert.Equal(t, domord.PaymentConfirmed, o.PaymentStatus)
	assert.Equal(t, 4, f.stock(t, "croissant"))
	assert.Empty(t, f.gateway.calls())
}

func TestReconcileShortfallYieldsToConcurrentConfirmation(t *testing.T) {
	store := docstore.NewMemory(docstore.WithMaxAttempts(50))
	orders := docstore.NewOrderRepository(store)
	gw := &fakeGateway{}

	o, err := domord.New("order-1", "cust-1", []domord.Item{item("croissant", 3)}, domord.MethodUPI, "INR")
	require.NoError(t, err)
	o.AttachGatewayIntent("gw_order_1")
	require.NoError(t, orders.Create(context.Background(), o))

	// The reserver reports a shortfall while a concurrent delivery confirms
	// the order before the cancellation can commit.
	racing := reserverFunc(func(ctx context.Context, cmd reservation.Input) (*reservation.Result, error) {
		current, getErr := orders.Get(ctx, cmd.OrderID)
		if getErr != nil {
			return nil, getErr
		}
		if confirmErr := current.Confirm(domord.PaymentConfirmed); confirmErr != nil {
			return nil, confirmErr
		}
		if updateErr := orders.Update(ctx, current); updateErr != nil {
			return nil, updateErr
		}
		return &reservation.Result{InsufficientProductID: "croissant"}, nil
	})

	uc := NewUseCase(orders, store, racing, gw, nil, webhookSecret, nil)
	out, err := uc.Execute(context.Background(), Input{Callback: signedCallback("order-1")})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	got, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domord.StatusConfirmed, got.Status)
	assert.Equal(t, domord.PaymentConfirmed, got.PaymentStatus)
	assert.Empty(t, gw.calls())
}
