package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/telemetry"
)

// ObservableStore traces and times every call of an order store, including the
// statements issued inside its transactions.
type ObservableStore struct {
	store   ports.OrderStore
	metrics *database.Metrics
}

func NewObservableStore(store ports.OrderStore, metrics *database.Metrics) *ObservableStore {
	return &ObservableStore{
		store:   store,
		metrics: metrics,
	}
}

func (s *ObservableStore) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.OrderTx) error) error {
	ctx, span := telemetry.StartSpan(ctx, "OrderStore.InTx")
	defer span.End()

	start := time.Now()
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.OrderTx) error {
		return fn(ctx, &observableTx{tx: tx, metrics: s.metrics})
	})
	s.metrics.RecordQuery(ctx, "order_tx", time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}

func (s *ObservableStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderStore.GetByID")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", id),
		attribute.String("operation", "get_by_id"),
	)

	start := time.Now()
	order, err := s.store.GetByID(ctx, id)
	s.metrics.RecordQuery(ctx, "get_order_by_id", time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	telemetry.SetSpanSuccess(span)
	return order, nil
}

func (s *ObservableStore) ListByUser(ctx context.Context, userID string, filter ports.ListFilter) ([]domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderStore.ListByUser")
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("operation", "list_by_user"),
		attribute.String("user.id", userID),
		attribute.Int("page", filter.Page),
		attribute.Int("page_size", filter.PageSize),
	}
	if filter.Status != nil {
		attrs = append(attrs, attribute.String("filter.status", string(*filter.Status)))
	}
	telemetry.AddSpanAttributes(span, attrs...)

	start := time.Now()
	orders, err := s.store.ListByUser(ctx, userID, filter)
	s.metrics.RecordQuery(ctx, "list_orders_by_user", time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	telemetry.AddSpanAttributes(span, attribute.Int("result.count", len(orders)))
	telemetry.SetSpanSuccess(span)
	return orders, nil
}

func (s *ObservableStore) UpdateShipping(ctx context.Context, id string, update domain.ShippingUpdate) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderStore.UpdateShipping")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", id),
		attribute.String("operation", "update_shipping"),
	)

	start := time.Now()
	order, err := s.store.UpdateShipping(ctx, id, update)
	s.metrics.RecordQuery(ctx, "update_order_shipping", time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	telemetry.SetSpanSuccess(span)
	return order, nil
}

type observableTx struct {
	tx      ports.OrderTx
	metrics *database.Metrics
}

func (t *observableTx) record(ctx context.Context, operation string, start time.Time, err error) {
	t.metrics.RecordQuery(ctx, operation, time.Since(start).Seconds(), err)
}

func (t *observableTx) LockVariant(ctx context.Context, productID, color string) (domain.StockVariant, error) {
	start := time.Now()
	result, err := t.tx.LockVariant(ctx, productID, color)
	t.record(ctx, "lock_variant", start, err)
	return result, err
}

func (t *observableTx) DecrementStock(ctx context.Context, productID, color string, quantity int) error {
	start := time.Now()
	err := t.tx.DecrementStock(ctx, productID, color, quantity)
	t.record(ctx, "decrement_stock", start, err)
	return err
}

func (t *observableTx) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	start := time.Now()
	result, err := t.tx.NextOrderSequence(ctx, day)
	t.record(ctx, "next_order_sequence", start, err)
	return result, err
}

func (t *observableTx) InsertOrder(ctx context.Context, order domain.Order) error {
	start := time.Now()
	err := t.tx.InsertOrder(ctx, order)
	t.record(ctx, "insert_order", start, err)
	return err
}

func (t *observableTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	start := time.Now()
	result, err := t.tx.LockOrder(ctx, id)
	t.record(ctx, "lock_order", start, err)
	return result, err
}

func (t *observableTx) SaveOrder(ctx context.Context, order domain.Order) error {
	start := time.Now()
	err := t.tx.SaveOrder(ctx, order)
	t.record(ctx, "save_order", start, err)
	return err
}
