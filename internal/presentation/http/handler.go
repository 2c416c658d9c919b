package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/apperr"
	appcheckout "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/checkout"
	appreconcile "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/reconcile"
	appreservation "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/reservation"
	dominv "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/inventory"
	domord "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/order"
	dompay "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/payment"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/docstore"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

// Checkout, Reserver and Reconciler are the use-case ports the handler fronts.
type Checkout interface {
	Execute(ctx context.Context, cmd appcheckout.Input) (*appcheckout.Output, error)
}

type Reserver interface {
	Execute(ctx context.Context, cmd appreservation.Input) (*appreservation.Result, error)
}

type Reconciler interface {
	Execute(ctx context.Context, cmd appreconcile.Input) (*appreconcile.Outcome, error)
}

type Handler struct {
	checkout  Checkout
	reserver  Reserver
	reconcile Reconciler
	orders    domord.Repository
	inventory dominv.Repository
	log       observability.Logger
	tel       observability.Observability
}

func NewHandler(
	checkout Checkout,
	reserver Reserver,
	reconcile Reconciler,
	orders domord.Repository,
	inventory dominv.Repository,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		checkout:  checkout,
		reserver:  reserver,
		reconcile: reconcile,
		orders:    orders,
		inventory: inventory,
		log:       tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:       tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Per-route chain: Trace -> request logger -> HTTP metrics -> access log -> handler.
	h.muxHandle(mux, http.MethodPost, "/order", h.handlePlaceOrder)
	h.muxHandle(mux, http.MethodPost, "/order/reserve", h.handleReserve)
	h.muxHandle(mux, http.MethodPost, "/payment/verify", h.handleVerifyPayment)
	h.muxHandle(mux, http.MethodGet, "/order", h.handleGetOrder)
	h.muxHandle(mux, http.MethodPost, "/inventory", h.handleUpsertInventory)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	pattern := method + " " + route
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		// Stable route template keeps metric labels low-cardinality.
		ctx := contextWithRoute(r.Context(), pattern)
		r = r.WithContext(ctx)

		wrapped := h.withTrace(
			RequestLoggerMiddleware(
				logctx.FromOr(ctx, h.log),
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
			)(
				h.withHTTPMetrics(
					h.withAccessLog(http.HandlerFunc(handler)),
				),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req appcheckout.Input
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := h.checkout.Execute(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type reserveRequest struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus domord.PaymentStatus `json:"payment_status"`
	Lines         []reserveLine        `json:"lines,omitempty"`
}

type reserveLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type reserveResponse struct {
	Success          bool `json:"success"`
	AlreadyProcessed bool `json:"already_processed,omitempty"`
}

type reserveFailure struct {
	Error                 string `json:"error"`
	InsufficientProductID string `json:"insufficient_product_id"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ps := req.PaymentStatus
	if ps == "" {
		ps = domord.PaymentPending
	}
	if !ps.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown payment_status %q", ps))
		return
	}
	lines := make([]appreservation.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, appreservation.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	res, err := h.reserver.Execute(r.Context(), appreservation.Input{
		OrderID:       req.OrderID,
		PaymentStatus: ps,
		Lines:         lines,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if !res.Success {
		writeJSON(w, http.StatusBadRequest, reserveFailure{
			Error:                 "insufficient stock",
			InsufficientProductID: res.InsufficientProductID,
		})
		return
	}
	writeJSON(w, http.StatusOK, reserveResponse{
		Success:          true,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var cb dompay.Callback
	if err := decodeJSON(r, &cb); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := h.reconcile.Execute(r.Context(), appreconcile.Input{Callback: cb})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Cancellations included: the reconciliation reached a definitive state.
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id query parameter is required"))
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type upsertInventoryRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) handleUpsertInventory(w http.ResponseWriter, r *http.Request) {
	var req upsertInventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}
	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, errors.New("quantity must not be negative"))
		return
	}

	item, err := dominv.NewItem(req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.inventory.Save(r.Context(), item); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes, using
// the request-scoped logger injected by RequestLoggerMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var gwErr *dompay.GatewayError
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domord.ErrNotFound),
		errors.Is(err, dominv.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domord.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &gwErr):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, docstore.ErrConflict):
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so
// downstream metrics and logging rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
