// Package reservation implements the stock reservation transaction: the only
// place where inventory is decremented, and the only mechanism preventing
// oversell under concurrent checkouts.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/apperr"
	domevent "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/event"
	dominv "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/inventory"
	domord "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/order"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	reservationService = "reservation-service"
	useCaseReserve     = "stock.reserve"
	spanPrefix         = "UC."
	publishPeer        = "event_bus"
	publishEndpoint    = "order.confirmed"
	publishTimeout     = 300 * time.Millisecond
)

// TxRunner executes fn inside one document-store transaction; conflicting
// commits rerun fn from scratch up to a bounded attempt count.
type TxRunner interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Line is one (product, quantity) pair to reserve.
type Line struct {
	ProductID string
	Quantity  int
}

// Input drives one reservation attempt. When Lines is empty the order's own
// line items are used (internal callers). PaymentStatus is recorded on the
// order at confirmation; GatewayPaymentID, when set, is persisted in the same
// commit.
type Input struct {
	OrderID          string
	PaymentStatus    domord.PaymentStatus
	Lines            []Line
	GatewayPaymentID string
}

// Result reports the business outcome. InsufficientProductID identifies the
// first line item (in input order) whose stock could not cover the request;
// when set, nothing was written.
type Result struct {
	Success               bool
	AlreadyProcessed      bool
	InsufficientProductID string
}

// UseCase runs the atomic check-and-decrement over the order and every line
// item's ledger entry.
type UseCase struct {
	runner    TxRunner
	orders    domord.Repository
	inventory dominv.Repository
	publisher domevent.Publisher
	tel       observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewUseCase(
	runner TxRunner,
	orders domord.Repository,
	inv dominv.Repository,
	publisher domevent.Publisher,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &UseCase{
		runner:       runner,
		orders:       orders,
		inventory:    inv,
		publisher:    publisher,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", reservationService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute performs the reservation transaction.
//
// Discipline inside the transaction: the order and every ledger item are read
// before any write is buffered; the store rejects interleaved reads, and the
// read set is what commit-time conflict detection validates. A concurrent
// transaction touching the same documents forces a rerun from scratch.
func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseReserve),
		observability.F("order_id", cmd.OrderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"ReserveStock",
		attribute.String("use_case", useCaseReserve),
		attribute.String("order.id", cmd.OrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var publishErr error

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
			observability.L("use_case", useCaseReserve),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseReserve),
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
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.OrderID == "" {
		outcome, statusText = "error", "ORDER_ID_REQUIRED"
		return nil, apperr.InvalidArgumentf("order id is required")
	}
	for _, line := range cmd.Lines {
		if line.ProductID == "" {
			outcome, statusText = "error", "PRODUCT_ID_REQUIRED"
			return nil, apperr.InvalidArgumentf("product id is required on every line")
		}
		if line.Quantity <= 0 {
			outcome, statusText = "error", "QUANTITY_INVALID"
			return nil, apperr.InvalidArgumentf("quantity must be greater than zero for %s", line.ProductID)
		}
	}

	result := &Result{}
	err = uc.runner.RunTransaction(ctx, func(txCtx context.Context) error {
		// Rerun from a clean slate: conflicting attempts must not leak
		// state into the next one.
		*result = Result{}

		o, getErr := uc.orders.Get(txCtx, cmd.OrderID)
		if getErr != nil {
			return getErr
		}

		// Re-entrancy guard: a duplicate invocation against a confirmed
		// order short-circuits as success with no writes, so gateway
		// redelivery can never double-decrement.
		if o.Status == domord.StatusConfirmed {
			result.Success = true
			result.AlreadyProcessed = true
			return nil
		}
		if o.Status == domord.StatusCancelled {
			return domord.ErrAlreadyProcessed
		}

		lines := cmd.Lines
		if len(lines) == 0 {
			lines = linesFromOrder(o)
		}
		if len(lines) == 0 {
			return apperr.InvalidArgumentf("order %s has no line items", o.ID)
		}
		lines = aggregate(lines)

		// Read phase: every ledger item, in input order. The first
		// insufficient item is remembered for reporting; reads continue so
		// the conflict-detection read set stays complete.
		items := make([]*dominv.Item, len(lines))
		var insufficient *dominv.InsufficientStockError
		for i, line := range lines {
			item, readErr := uc.inventory.Get(txCtx, line.ProductID)
			if errors.Is(readErr, dominv.ErrNotFound) {
				return fmt.Errorf("product %s: %w", line.ProductID, dominv.ErrNotFound)
			}
			if readErr != nil {
				return readErr
			}
			if insufficient == nil && !item.Sufficient(line.Quantity) {
				insufficient = &dominv.InsufficientStockError{
					ProductID: line.ProductID,
					Available: item.Quantity,
					Requested: line.Quantity,
				}
			}
			items[i] = item
		}
		if insufficient != nil {
			// Abort: the transaction commits nothing.
			return insufficient
		}

		// Write phase: the confirmation and every decrement in one unit.
		if confirmErr := o.Confirm(cmd.PaymentStatus); confirmErr != nil {
			return confirmErr
		}
		if cmd.GatewayPaymentID != "" {
			o.RecordGatewayPayment(cmd.GatewayPaymentID)
		}
		if updateErr := uc.orders.Update(txCtx, o); updateErr != nil {
			return updateErr
		}
		for i, line := range lines {
			if deductErr := items[i].Deduct(line.Quantity); deductErr != nil {
				return deductErr
			}
			if saveErr := uc.inventory.Save(txCtx, items[i]); saveErr != nil {
				return saveErr
			}
		}

		result.Success = true
		return nil
	})

	var stockErr *dominv.InsufficientStockError
	switch {
	case err == nil:
	case errors.As(err, &stockErr):
		// Expected business outcome, not a failure of this use case.
		err = nil
		statusText = "INSUFFICIENT_STOCK"
		span.SetAttributes(attribute.String("reservation.insufficient_product_id", stockErr.ProductID))
		return &Result{InsufficientProductID: stockErr.ProductID}, nil
	case errors.Is(err, domord.ErrNotFound):
		outcome, statusText = "error", "ORDER_NOT_FOUND"
		return nil, err
	case errors.Is(err, dominv.ErrNotFound):
		outcome, statusText = "error", "ITEM_NOT_FOUND"
		return nil, err
	case errors.Is(err, domord.ErrAlreadyProcessed):
		outcome, statusText = "error", "ALREADY_CANCELLED"
		return nil, err
	default:
		outcome, statusText = "error", "TRANSACTION_FAILED"
		return nil, err
	}

	if result.AlreadyProcessed {
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("reservation.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", cmd.OrderID)),
		)
		return result, nil
	}

	span.AddEvent("order.confirmed",
		trace.WithAttributes(attribute.String("order.id", cmd.OrderID)),
	)
	publishErr = uc.publishConfirmed(ctx, cmd)

	return result, nil
}

// publishConfirmed emits the confirmation event with a bounded timeout.
// Publish failure is recorded, never fatal: the commit already happened.
func (uc *UseCase) publishConfirmed(ctx context.Context, cmd Input) error {
	if uc.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pubStart := time.Now()
	pubOutcome := "success"
	err := uc.publisher.Publish(pubCtx, domord.NewOrderConfirmedEvent(cmd.OrderID, cmd.PaymentStatus))
	if err != nil {
		pubOutcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", publishEndpoint),
		observability.L("outcome", pubOutcome),
	)
	uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", publishEndpoint),
	)
	return err
}

func linesFromOrder(o *domord.Order) []Line {
	lines := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// aggregate merges duplicate product lines, preserving first-occurrence
// order, so one ledger read/write covers each product.
func aggregate(lines []Line) []Line {
	index := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}
