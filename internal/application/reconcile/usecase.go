// Package reconcile implements the payment verification and reconciliation
// workflow: it validates a signed gateway callback, drives the stock
// reservation transaction, and issues the compensating refund when a paid
// order cannot be fulfilled.
package reconcile

import (
	"context"
	"errors"
	"fmt"
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
	reconcileService     = "reconcile-service"
	useCaseReconcile     = "payment.reconcile"
	spanPrefix           = "UC."
	gatewayPeer          = "payment_gateway"
	refundEndpoint       = "refund"
	defaultRefundTimeout = 10 * time.Second

	reasonSignatureMismatch = "signature_mismatch"
)

// Outcome statuses returned to the gateway callback endpoint. All of them,
// cancellations included, are successful business outcomes.
const (
	StatusSuccess                        = "success"
	StatusCancelled                      = "cancelled"
	StatusPaymentConfirmedOrderCancelled = "payment_confirmed_order_cancelled"
)

// StockReserver is the reservation transaction port.
type StockReserver interface {
	Execute(ctx context.Context, cmd reservation.Input) (*reservation.Result, error)
}

// Input is the parsed, not yet verified, gateway callback.
type Input struct {
	Callback dompay.Callback
}

// Outcome is the definitive result communicated back to the caller. The
// client is never left ambiguous between "paid" and "unknown": the worst case
// is charged-but-cancelled with the refund state spelled out.
type Outcome struct {
	Status                string `json:"status"`
	Reason                string `json:"reason,omitempty"`
	InsufficientProductID string `json:"insufficient_product_id,omitempty"`
	RefundID              string `json:"refund_id,omitempty"`
	RefundError           string `json:"refund_error,omitempty"`
}

// UseCase orchestrates verification, reservation and compensation.
type UseCase struct {
	orders        domord.Repository
	runner        reservation.TxRunner
	reserver      StockReserver
	gateway       dompay.Gateway
	publisher     domevent.Publisher
	webhookSecret string
	refundTimeout time.Duration
	tel           observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

type Option func(*UseCase)

// WithRefundTimeout bounds the compensating refund call.
func WithRefundTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		if d > 0 {
			uc.refundTimeout = d
		}
	}
}

func NewUseCase(
	orders domord.Repository,
	runner reservation.TxRunner,
	reserver StockReserver,
	gw dompay.Gateway,
	publisher domevent.Publisher,
	webhookSecret string,
	tel observability.Observability,
	opts ...Option,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	uc := &UseCase{
		orders:        orders,
		runner:        runner,
		reserver:      reserver,
		gateway:       gw,
		publisher:     publisher,
		webhookSecret: webhookSecret,
		refundTimeout: defaultRefundTimeout,
		tel:           tel,
		log:           tel.Logger().With(observability.F("service", reconcileService)),
		reqCounter:    metrics.Counter(observability.MUsecaseRequests),
		durHistogram:  metrics.Histogram(observability.MUsecaseDuration),
		extCounter:    metrics.Counter(observability.MExternalRequests),
		extHistogram:  metrics.Histogram(observability.MExternalRequestDuration),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Execute runs the reconciliation for one callback delivery. It is safe to
// invoke any number of times with the same callback: once the order is
// terminal, later deliveries replay the stored outcome without mutation.
func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Outcome, err error) {
	cb := cmd.Callback
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseReconcile),
		observability.F("order_id", cb.OrderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"ReconcilePayment",
		attribute.String("use_case", useCaseReconcile),
		attribute.String("order.id", cb.OrderID),
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
			observability.L("use_case", useCaseReconcile),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseReconcile),
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

	if validateErr := cb.Validate(); validateErr != nil {
		outcome, statusText = "error", "CALLBACK_INCOMPLETE"
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidArgument, validateErr)
	}

	o, err := uc.orders.Get(ctx, cb.OrderID)
	if err != nil {
		if errors.Is(err, domord.ErrNotFound) {
			outcome, statusText = "error", "ORDER_NOT_FOUND"
		} else {
			outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		}
		return nil, err
	}

	// Gateway redelivery: a terminal order replays its stored outcome with
	// no writes.
	if o.Terminal() {
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("reconcile.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", o.ID)),
		)
		return replayOutcome(o), nil
	}

	if !dompay.VerifySignature(uc.webhookSecret, cb) {
		// Logged distinctly as a potential fraud signal. The state is
		// terminal: a tampered callback must never be retried into success.
		statusText = "SIGNATURE_MISMATCH"
		logger.Warn("callback_signature_mismatch",
			observability.F("gateway_order_id", cb.GatewayOrderID),
			observability.F("gateway_payment_id", cb.GatewayPaymentID),
		)
		span.AddEvent("reconcile.signature_mismatch")

		already, cancelErr := uc.cancelOrder(ctx, cb, domord.PaymentCancelled, reasonSignatureMismatch)
		if cancelErr != nil {
			outcome, statusText = "error", "CANCEL_FAILED"
			return nil, cancelErr
		}
		if already != nil {
			// A concurrent reconciliation committed a terminal state after
			// our read; that state wins.
			statusText = "IDEMPOTENT_REPLAY"
			return replayOutcome(already), nil
		}
		uc.publishCancelled(ctx, cb.OrderID, reasonSignatureMismatch, "")
		return &Outcome{Status: StatusCancelled, Reason: reasonSignatureMismatch}, nil
	}

	res, err := uc.reserver.Execute(ctx, reservation.Input{
		OrderID:          cb.OrderID,
		PaymentStatus:    domord.PaymentConfirmed,
		GatewayPaymentID: cb.GatewayPaymentID,
	})
	if err != nil {
		outcome, statusText = "error", "RESERVATION_FAILED"
		return nil, err
	}

	if res.Success {
		span.SetAttributes(attribute.String("order.status", string(domord.StatusConfirmed)))
		return &Outcome{Status: StatusSuccess}, nil
	}

	// Paid but unfulfillable: commit the cancellation first, then
	// compensate. The refund is best-effort: a failure here is surfaced
	// and left to the manual reconciliation path, never rolled back into
	// the order state.
	reason := fmt.Sprintf("insufficient stock for product %s", res.InsufficientProductID)
	already, cancelErr := uc.cancelOrder(ctx, cb, domord.PaymentConfirmed, reason)
	if cancelErr != nil {
		outcome, statusText = "error", "CANCEL_FAILED"
		return nil, cancelErr
	}
	if already != nil {
		statusText = "IDEMPOTENT_REPLAY"
		return replayOutcome(already), nil
	}

	statusText = "PAYMENT_CONFIRMED_ORDER_CANCELLED"
	result := &Outcome{
		Status:                StatusPaymentConfirmedOrderCancelled,
		Reason:                reason,
		InsufficientProductID: res.InsufficientProductID,
	}

	refundID, refundErr := uc.refund(ctx, cb.GatewayPaymentID, o.TotalAmount, o.Currency)
	if refundErr != nil {
		logger.Error("compensating_refund_failed",
			observability.F("gateway_payment_id", cb.GatewayPaymentID),
			observability.F("amount", o.TotalAmount),
			observability.F("error", refundErr.Error()),
		)
		result.RefundError = refundErr.Error()
	} else {
		logger.Info("compensating_refund_issued",
			observability.F("gateway_payment_id", cb.GatewayPaymentID),
			observability.F("refund_id", refundID),
			observability.F("amount", o.TotalAmount),
		)
		result.RefundID = refundID
	}

	uc.publishCancelled(ctx, cb.OrderID, reason, refundID)
	return result, nil
}

// cancelOrder commits the terminal cancellation in its own transaction so a
// concurrent reconciliation of the same order serializes against it. When the
// order turned terminal after the caller's read, nothing is written and the
// committed order is returned so the caller can replay its outcome.
func (uc *UseCase) cancelOrder(ctx context.Context, cb dompay.Callback, ps domord.PaymentStatus, reason string) (*domord.Order, error) {
	var terminal *domord.Order
	err := uc.runner.RunTransaction(ctx, func(txCtx context.Context) error {
		terminal = nil
		o, err := uc.orders.Get(txCtx, cb.OrderID)
		if err != nil {
			return err
		}
		if o.Terminal() {
			terminal = o
			return nil
		}
		if err := o.Cancel(ps, reason); err != nil {
			return err
		}
		o.RecordGatewayPayment(cb.GatewayPaymentID)
		return uc.orders.Update(txCtx, o)
	})
	if err != nil {
		return nil, err
	}
	return terminal, nil
}

// refund calls the gateway with a bounded timeout. It is never retried here:
// a timeout is an unknown outcome and blind retries risk double refunds; the
// idempotency key sent by the adapter is the safety net when the gateway
// supports it.
func (uc *UseCase) refund(ctx context.Context, gatewayPaymentID string, amount int64, currency string) (string, error) {
	refundCtx, cancel := context.WithTimeout(ctx, uc.refundTimeout)
	defer cancel()

	callStart := time.Now()
	callOutcome := "success"

	receipt, err := uc.gateway.Refund(refundCtx, gatewayPaymentID, amount, currency)
	if err != nil {
		callOutcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", refundEndpoint),
		observability.L("outcome", callOutcome),
	)
	uc.extHistogram.Observe(time.Since(callStart).Seconds(),
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", refundEndpoint),
	)

	if err != nil {
		return "", err
	}
	return receipt.RefundID, nil
}

func (uc *UseCase) publishCancelled(ctx context.Context, orderID, reason, refundID string) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, domord.NewOrderCancelledEvent(orderID, reason, refundID)); err != nil {
		logctx.FromOr(ctx, uc.log).Warn("event_publish_failed",
			observability.F("event", "order.cancelled"),
			observability.F("order_id", orderID),
			observability.F("error", err.Error()),
		)
	}
}

// replayOutcome reconstructs the response for a callback that arrives after
// the order already reached a terminal state.
func replayOutcome(o *domord.Order) *Outcome {
	if o.Status == domord.StatusConfirmed {
		return &Outcome{Status: StatusSuccess}
	}
	if o.PaymentStatus == domord.PaymentConfirmed || o.PaymentStatus == domord.PaymentCompleted {
		return &Outcome{
			Status: StatusPaymentConfirmedOrderCancelled,
			Reason: o.CancellationReason,
		}
	}
	return &Outcome{Status: StatusCancelled, Reason: o.CancellationReason}
}
