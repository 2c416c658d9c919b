// Package checkout implements order placement. Cash-on-delivery orders are
// reserved and confirmed inline; online-payment orders get a gateway intent
// and stay pending until the payment callback reconciles them.
package checkout

import (
	"context"
	"time"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/apperr"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/reservation"
	domevent "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/event"
	domord "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/order"
	dompay "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/payment"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService = "checkout-service"
	useCasePlace    = "order.place"
	spanPrefix      = "UC."
	gatewayPeer     = "payment_gateway"
	intentEndpoint  = "create_intent"
	intentTimeout   = 10 * time.Second
	publishTimeout  = 300 * time.Millisecond

	reasonInsufficientStock = "insufficient stock for product "
)

// IDGenerator mints order ids.
type IDGenerator interface {
	NewID() string
}

// StockReserver is the reservation transaction port, used for the inline
// cash-on-delivery path.
type StockReserver interface {
	Execute(ctx context.Context, cmd reservation.Input) (*reservation.Result, error)
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Input is a checkout request.
type Input struct {
	CustomerID    string               `json:"customer_id"`
	Items         []ItemInput          `json:"items"`
	PaymentMethod domord.PaymentMethod `json:"payment_method"`
	Currency      string               `json:"currency"`
}

// Output describes the placed order. For online payment the caller redirects
// the customer to the gateway using GatewayOrderID; for cash on delivery the
// order is already terminal.
type Output struct {
	OrderID               string               `json:"order_id"`
	Status                domord.Status        `json:"order_status"`
	PaymentStatus         domord.PaymentStatus `json:"payment_status"`
	TotalAmount           int64                `json:"total_amount"`
	Currency              string               `json:"currency"`
	GatewayOrderID        string               `json:"gateway_order_id,omitempty"`
	CancellationReason    string               `json:"cancellation_reason,omitempty"`
	InsufficientProductID string               `json:"insufficient_product_id,omitempty"`
}

// UseCase places orders.
type UseCase struct {
	orders    domord.Repository
	runner    reservation.TxRunner
	ids       IDGenerator
	reserver  StockReserver
	gateway   dompay.Gateway
	publisher domevent.Publisher
	currency  string
	tel       observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewUseCase(
	orders domord.Repository,
	runner reservation.TxRunner,
	ids IDGenerator,
	reserver StockReserver,
	gw dompay.Gateway,
	publisher domevent.Publisher,
	defaultCurrency string,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &UseCase{
		orders:       orders,
		runner:       runner,
		ids:          ids,
		reserver:     reserver,
		gateway:      gw,
		publisher:    publisher,
		currency:     defaultCurrency,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", checkoutService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute validates and persists the order, then branches on payment method.
func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Output, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCasePlace),
		observability.F("customer_id", cmd.CustomerID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"PlaceOrder",
		attribute.String("use_case", useCasePlace),
		attribute.String("payment.method", string(cmd.PaymentMethod)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		uc.reqCounter.Add(1,
			observability.L("use_case", useCasePlace),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCasePlace),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.CustomerID == "" {
		outcome, statusText = "error", "CUSTOMER_ID_REQUIRED"
		return nil, apperr.InvalidArgumentf("customer id is required")
	}
	if cmd.PaymentMethod != domord.MethodCOD && cmd.PaymentMethod != domord.MethodUPI {
		outcome, statusText = "error", "PAYMENT_METHOD_INVALID"
		return nil, apperr.InvalidArgumentf("unsupported payment method %q", cmd.PaymentMethod)
	}

	currency := cmd.Currency
	if currency == "" {
		currency = uc.currency
	}

	items := make([]domord.Item, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		items = append(items, domord.Item{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	o, err := domord.New(uc.ids.NewID(), cmd.CustomerID, items, cmd.PaymentMethod, currency)
	if err != nil {
		outcome, statusText = "error", "ORDER_INVALID"
		return nil, apperr.InvalidArgumentf("%s", err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	logger = logger.With(observability.F("order_id", o.ID))

	if err = uc.orders.Create(ctx, o); err != nil {
		outcome, statusText = "error", "ORDER_CREATE_FAILED"
		return nil, err
	}
	uc.publish(ctx, logger, domord.NewOrderCreatedEvent(o))

	switch cmd.PaymentMethod {
	case domord.MethodUPI:
		return uc.placeOnline(ctx, span, o, &outcome, &statusText)
	default:
		return uc.placeCOD(ctx, span, logger, o, &outcome, &statusText)
	}
}

// placeOnline creates the gateway intent and leaves the order pending; stock
// is reserved only when the payment callback arrives.
func (uc *UseCase) placeOnline(ctx context.Context, span trace.Span, o *domord.Order, outcome, statusText *string) (*Output, error) {
	intent, err := uc.createIntent(ctx, o.TotalAmount, o.Currency)
	if err != nil {
		*outcome, *statusText = "error", "GATEWAY_INTENT_FAILED"
		return nil, err
	}

	o.AttachGatewayIntent(intent.GatewayOrderID)
	if err := uc.orders.Update(ctx, o); err != nil {
		*outcome, *statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, err
	}

	span.AddEvent("gateway.intent_created",
		trace.WithAttributes(attribute.String("gateway.order_id", intent.GatewayOrderID)),
	)
	return output(o, ""), nil
}

// placeCOD reserves stock inline. Insufficient stock cancels the order with
// the failing product recorded; no money moved, so there is nothing to refund.
func (uc *UseCase) placeCOD(ctx context.Context, span trace.Span, logger observability.Logger, o *domord.Order, outcome, statusText *string) (*Output, error) {
	res, err := uc.reserver.Execute(ctx, reservation.Input{
		OrderID:       o.ID,
		PaymentStatus: domord.PaymentPending,
	})
	if err != nil {
		*outcome, *statusText = "error", "RESERVATION_FAILED"
		return nil, err
	}

	if res.Success {
		o.Status = domord.StatusConfirmed
		o.PaymentStatus = domord.PaymentPending
		span.SetAttributes(attribute.String("order.status", string(domord.StatusConfirmed)))
		return output(o, ""), nil
	}

	reason := reasonInsufficientStock + res.InsufficientProductID
	final, cancelErr := uc.cancel(ctx, o.ID, reason)
	if cancelErr != nil {
		*outcome, *statusText = "error", "CANCEL_FAILED"
		return nil, cancelErr
	}
	if final.Status != domord.StatusCancelled {
		// A concurrent run confirmed the order after our reservation
		// attempt; its committed state wins.
		return output(final, ""), nil
	}
	*statusText = "INSUFFICIENT_STOCK"
	uc.publish(ctx, logger, domord.NewOrderCancelledEvent(o.ID, final.CancellationReason, ""))

	return output(final, res.InsufficientProductID), nil
}

// cancel commits the cancellation inside a store transaction so it serializes
// against a concurrent reservation of the same order. The committed order is
// returned; an order that is already terminal is returned untouched.
func (uc *UseCase) cancel(ctx context.Context, orderID, reason string) (*domord.Order, error) {
	var final *domord.Order
	err := uc.runner.RunTransaction(ctx, func(txCtx context.Context) error {
		o, err := uc.orders.Get(txCtx, orderID)
		if err != nil {
			return err
		}
		if o.Terminal() {
			final = o
			return nil
		}
		if err := o.Cancel(domord.PaymentCancelled, reason); err != nil {
			return err
		}
		if err := uc.orders.Update(txCtx, o); err != nil {
			return err
		}
		final = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// createIntent calls the gateway with a bounded timeout and records the
// external-call metrics.
func (uc *UseCase) createIntent(ctx context.Context, amount int64, currency string) (*dompay.Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, intentTimeout)
	defer cancel()

	callStart := time.Now()
	callOutcome := "success"

	intent, err := uc.gateway.CreateIntent(callCtx, amount, currency)
	if err != nil {
		callOutcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", intentEndpoint),
		observability.L("outcome", callOutcome),
	)
	uc.extHistogram.Observe(time.Since(callStart).Seconds(),
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", intentEndpoint),
	)

	return intent, err
}

func (uc *UseCase) publish(ctx context.Context, logger observability.Logger, e domevent.Event) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, e); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

func output(o *domord.Order, insufficientID string) *Output {
	return &Output{
		OrderID:               o.ID,
		Status:                o.Status,
		PaymentStatus:         o.PaymentStatus,
		TotalAmount:           o.TotalAmount,
		Currency:              o.Currency,
		GatewayOrderID:        o.GatewayOrderID,
		CancellationReason:    o.CancellationReason,
		InsufficientProductID: insufficientID,
	}
}
