package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type variantKey struct {
	productID string
	color     string
}

func (k variantKey) lockKey() string {
	return "variant:" + k.productID + "/" + k.color
}

// Store is an in-memory order store and stock ledger for local development and tests.
// Transactions hold per-row locks until they finish and undo their writes on error.
type Store struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	variants  map[variantKey]domain.StockVariant
	sequences map[string]int

	locks *keyedLocks
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		variants:  make(map[variantKey]domain.StockVariant),
		sequences: make(map[string]int),
		locks:     newKeyedLocks(),
	}
}

// SetStock seeds or overwrites a variant.
func (s *Store) SetStock(productID, productName, color string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variantKey{productID, color}] = domain.StockVariant{
		ProductID:   productID,
		ProductName: productName,
		Color:       color,
		Stock:       stock,
	}
}

// Stock returns the current stock of a variant, or -1 when it does not exist.
func (s *Store) Stock(productID, color string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[variantKey{productID, color}]
	if !ok {
		return -1
	}
	return v.Stock
}

// InTx runs fn with a transactional view of the store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.OrderTx) error) error {
	tx := &memoryTx{store: s, held: make(map[string]struct{})}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// GetByID fetches a single order by identifier.
func (s *Store) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := order.Clone()
	return &c, nil
}

// ListByUser returns a user's orders newest first. Pagination is 1-based.
func (s *Store) ListByUser(_ context.Context, userID string, filter ports.ListFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter = filter.Normalized()

	var result []domain.Order
	for _, order := range s.orders {
		if order.UserID != userID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := filter.Offset()
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := min(start+filter.PageSize, len(result))

	page := make([]domain.Order, 0, end-start)
	for _, o := range result[start:end] {
		page = append(page, o.Clone())
	}
	return page, nil
}

// UpdateShipping applies the carrier fields to an order. It waits for any transaction
// holding the order row.
func (s *Store) UpdateShipping(ctx context.Context, id string, update domain.ShippingUpdate) (*domain.Order, error) {
	if err := s.locks.lock(ctx, "order:"+id); err != nil {
		return nil, err
	}
	defer s.locks.unlock("order:" + id)

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	update.Apply(&order, time.Now().UTC())
	s.orders[id] = order

	c := order.Clone()
	return &c, nil
}

// Decrement subtracts quantity from a variant, refusing to go negative.
func (s *Store) Decrement(ctx context.Context, productID, color string, quantity int) error {
	key := variantKey{productID, color}
	if err := s.locks.lock(ctx, key.lockKey()); err != nil {
		return err
	}
	defer s.locks.unlock(key.lockKey())

	return s.adjustStock(key, -quantity)
}

// Restore adds quantity back to a variant.
func (s *Store) Restore(ctx context.Context, productID, color string, quantity int) error {
	key := variantKey{productID, color}
	if err := s.locks.lock(ctx, key.lockKey()); err != nil {
		return err
	}
	defer s.locks.unlock(key.lockKey())

	return s.adjustStock(key, quantity)
}

func (s *Store) adjustStock(key variantKey, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[key]
	if !ok {
		return fmt.Errorf("variant %s/%s: %w", key.productID, key.color, domain.ErrNotFound)
	}
	if v.Stock+delta < 0 {
		return &domain.InsufficientStockError{
			ProductID:   v.ProductID,
			ProductName: v.ProductName,
			Color:       v.Color,
			Requested:   -delta,
			Available:   v.Stock,
		}
	}
	v.Stock += delta
	s.variants[key] = v
	return nil
}

type memoryTx struct {
	store *Store
	held  map[string]struct{}
	order []string
	undo  []func()
}

func (tx *memoryTx) acquire(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	if err := tx.store.locks.lock(ctx, key); err != nil {
		return err
	}
	tx.held[key] = struct{}{}
	tx.order = append(tx.order, key)
	return nil
}

func (tx *memoryTx) release() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.store.locks.unlock(tx.order[i])
	}
	tx.order = nil
	tx.held = nil
}

func (tx *memoryTx) rollback() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) LockVariant(ctx context.Context, productID, color string) (domain.StockVariant, error) {
	key := variantKey{productID, color}
	if err := tx.acquire(ctx, key.lockKey()); err != nil {
		return domain.StockVariant{}, err
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	v, ok := tx.store.variants[key]
	if !ok {
		return domain.StockVariant{}, fmt.Errorf("variant %s/%s: %w", productID, color, domain.ErrNotFound)
	}
	return v, nil
}

func (tx *memoryTx) DecrementStock(ctx context.Context, productID, color string, quantity int) error {
	key := variantKey{productID, color}
	if err := tx.acquire(ctx, key.lockKey()); err != nil {
		return err
	}
	if err := tx.store.adjustStock(key, -quantity); err != nil {
		return err
	}
	tx.undo = append(tx.undo, func() {
		v := tx.store.variants[key]
		v.Stock += quantity
		tx.store.variants[key] = v
	})
	return nil
}

func (tx *memoryTx) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	dayKey := domain.OrderCodeDay(day).Format(time.DateOnly)
	if err := tx.acquire(ctx, "sequence:"+dayKey); err != nil {
		return 0, err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	prev := tx.store.sequences[dayKey]
	tx.store.sequences[dayKey] = prev + 1
	tx.undo = append(tx.undo, func() {
		tx.store.sequences[dayKey] = prev
	})
	return prev + 1, nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if err := tx.acquire(ctx, "order:"+order.ID); err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if _, exists := tx.store.orders[order.ID]; exists {
		return fmt.Errorf("insert order %s: already exists", order.ID)
	}
	for _, o := range tx.store.orders {
		if o.Code == order.Code {
			return fmt.Errorf("insert order: duplicate code %s", order.Code)
		}
	}
	tx.store.orders[order.ID] = order.Clone()
	tx.undo = append(tx.undo, func() {
		delete(tx.store.orders, order.ID)
	})
	return nil
}

func (tx *memoryTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := tx.acquire(ctx, "order:"+id); err != nil {
		return nil, err
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	order, ok := tx.store.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := order.Clone()
	return &c, nil
}

func (tx *memoryTx) SaveOrder(ctx context.Context, order domain.Order) error {
	if err := tx.acquire(ctx, "order:"+order.ID); err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	prev, ok := tx.store.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	tx.store.orders[order.ID] = order.Clone()
	tx.undo = append(tx.undo, func() {
		tx.store.orders[order.ID] = prev
	})
	return nil
}
