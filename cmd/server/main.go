package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/checkout"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/notify"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/reconcile"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/application/reservation"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/config"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/docstore"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/eventbus"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/gateway"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/id"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/observability/oteltrace"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/observability/prometrics"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/observability/telemetry"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/infrastructure/observability/zaplogger"
	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
	httppresentation "github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/presentation/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("startup: " + err.Error() + "\n")
		os.Exit(1)
	}

	baseLogger := zaplogger.MustNew(
		observability.F("service", cfg.Service.Name),
		observability.F("env", cfg.Service.Env),
	)
	defer func() {
		if s, ok := baseLogger.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}()

	metricsReg := prometrics.New(cfg.Service.Name)
	tel := telemetry.New(
		oteltrace.New(cfg.Service.Name),
		baseLogger,
		buildCounters(metricsReg),
		buildHistograms(metricsReg),
	)

	store := docstore.NewMemory(docstore.WithMaxAttempts(cfg.Store.MaxTxnAttempts))
	orderRepo := docstore.NewOrderRepository(store)
	inventoryRepo := docstore.NewInventoryRepository(store)

	bus := eventbus.New(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	notify.NewWorker(baseLogger).Register(bus)

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret)
	ids := id.NewUUIDGenerator()

	reserveUC := reservation.NewUseCase(store, orderRepo, inventoryRepo, bus, tel)
	checkoutUC := checkout.NewUseCase(orderRepo, store, ids, reserveUC, gw, bus, cfg.Gateway.Currency, tel)
	reconcileUC := reconcile.NewUseCase(
		orderRepo, store, reserveUC, gw, bus,
		cfg.Gateway.WebhookSecret, tel,
		reconcile.WithRefundTimeout(cfg.Gateway.RefundTimeout),
	)

	handler := httppresentation.NewHandler(checkoutUC, reserveUC, reconcileUC, orderRepo, inventoryRepo, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}

func buildCounters(reg prometrics.Registry) map[observability.MetricKey]observability.Counter {
	return map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(observability.MUsecaseRequests,
			"Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: reg.Counter(observability.MHTTPRequests,
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MExternalRequests: reg.Counter(observability.MExternalRequests,
			"Total number of calls to external collaborators.", "peer", "endpoint", "outcome"),
	}
}

func buildHistograms(reg prometrics.Registry) map[observability.MetricKey]observability.Histogram {
	return map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(observability.MUsecaseDuration,
			"Duration of use case execution in seconds.", nil, "use_case"),
		observability.MHTTPRequestDuration: reg.Histogram(observability.MHTTPRequestDuration,
			"Duration of HTTP request handling in seconds.", nil, "method", "route", "status"),
		observability.MExternalRequestDuration: reg.Histogram(observability.MExternalRequestDuration,
			"Duration of external calls in seconds.", nil, "peer", "endpoint"),
	}
}
