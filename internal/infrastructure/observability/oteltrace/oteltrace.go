package oteltrace

import (
	"context"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New wraps the globally configured otel tracer behind the observability
// port. The process is expected to install a TracerProvider via
// otel.SetTracerProvider before spans are exported anywhere.
func New(name string) observability.Tracer {
	if name == "" {
		name = "bakery"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
