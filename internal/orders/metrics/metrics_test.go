package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return metrics, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestInitializeMetrics(t *testing.T) {
	t.Run("initializes all metric instruments successfully", func(t *testing.T) {
		metrics, _ := newTestMetrics(t)

		if metrics.ordersCreatedTotal == nil {
			t.Error("ordersCreatedTotal is nil")
		}
		if metrics.orderCreationDuration == nil {
			t.Error("orderCreationDuration is nil")
		}
		if metrics.paymentCallbacksTotal == nil {
			t.Error("paymentCallbacksTotal is nil")
		}
		if metrics.statusTransitions == nil {
			t.Error("statusTransitions is nil")
		}
		if metrics.autoCancelTotal == nil {
			t.Error("autoCancelTotal is nil")
		}
	})
}

func TestRecordOrderCreated(t *testing.T) {
	t.Run("records order creation count with success status", func(t *testing.T) {
		metrics, reader := newTestMetrics(t)
		ctx := context.Background()

		metrics.RecordOrderCreated(ctx, true, "COD")
		metrics.RecordOrderCreated(ctx, false, "COD")

		m, found := collect(t, reader, "orders_created_total")
		if !found {
			t.Fatal("orders_created_total metric not found")
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatal("Expected Sum[int64] data type")
		}
		if len(sum.DataPoints) != 2 {
			t.Errorf("Expected 2 data points, got %d", len(sum.DataPoints))
		}
	})
}

func TestRecordOrderCreationDuration(t *testing.T) {
	t.Run("records order creation duration", func(t *testing.T) {
		metrics, reader := newTestMetrics(t)
		ctx := context.Background()

		metrics.RecordOrderCreationDuration(ctx, 1.5)
		metrics.RecordOrderCreationDuration(ctx, 2.3)

		m, found := collect(t, reader, "order_creation_duration_seconds")
		if !found {
			t.Fatal("order_creation_duration_seconds metric not found")
		}
		histogram, ok := m.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatal("Expected Histogram[float64] data type")
		}
		if len(histogram.DataPoints) != 1 {
			t.Fatalf("Expected 1 data point, got %d", len(histogram.DataPoints))
		}
		if histogram.DataPoints[0].Count != 2 {
			t.Errorf("Expected count=2, got %d", histogram.DataPoints[0].Count)
		}
	})
}

func TestRecordPaymentCallback(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordPaymentCallback(ctx, "paid")
	metrics.RecordPaymentCallback(ctx, "paid")
	metrics.RecordPaymentCallback(ctx, "duplicate")

	m, found := collect(t, reader, "payment_callbacks_total")
	if !found {
		t.Fatal("payment_callbacks_total metric not found")
	}
	sum := m.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("Expected 2 data points, got %d", len(sum.DataPoints))
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("Expected total 3, got %d", total)
	}
}

func TestRecordTransitionsAndAutoCancel(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordStatusTransition(ctx, "PENDING", "CONFIRMED")
	metrics.RecordAutoCancel(ctx, "cancelled")

	if _, found := collect(t, reader, "order_status_transitions_total"); !found {
		t.Error("order_status_transitions_total metric not found")
	}
	if _, found := collect(t, reader, "order_auto_cancel_total"); !found {
		t.Error("order_auto_cancel_total metric not found")
	}
}
