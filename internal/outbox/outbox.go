// Package outbox relays persisted notifications to the delivery queue until the
// publisher confirms them. Rows are leased while in flight, so a crashed relay only
// delays notifications; delivery is at least once.
package outbox

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// Record is one unsent notification claimed from the outbox.
type Record struct {
	ID           int64
	Notification domain.Notification
	// Headers carries the W3C trace context of the request that produced it.
	Headers  map[string]string
	Attempts int
}

// SpanContext restores the trace context captured when the record was written.
func (r Record) SpanContext() trace.SpanContext {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier(r.Headers))
	return trace.SpanContextFromContext(ctx)
}

// TraceHeaders captures the trace context of ctx for storing next to a notification.
func TraceHeaders(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}
