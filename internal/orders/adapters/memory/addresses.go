package memory

import (
	"context"
	"sync"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// Addresses is an in-memory address book.
type Addresses struct {
	mu    sync.RWMutex
	items map[string]domain.Address
}

func NewAddresses() *Addresses {
	return &Addresses{items: make(map[string]domain.Address)}
}

func (a *Addresses) Put(addr domain.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[addr.ID] = addr
}

func (a *Addresses) Get(_ context.Context, addressID, userID string) (domain.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	addr, ok := a.items[addressID]
	if !ok {
		return domain.Address{}, domain.ErrNotFound
	}
	if addr.UserID != userID {
		return domain.Address{}, domain.ErrUnauthorized
	}
	return addr, nil
}
