package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// Carts is an in-memory cart collaborator.
type Carts struct {
	mu    sync.RWMutex
	lines map[string][]domain.CartLine
}

func NewCarts() *Carts {
	return &Carts{lines: make(map[string][]domain.CartLine)}
}

// Put adds or replaces a line in the user's cart.
func (c *Carts) Put(userID string, line domain.CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := c.lines[userID]
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = line
			return
		}
	}
	c.lines[userID] = append(lines, line)
}

func (c *Carts) Snapshot(_ context.Context, userID string) (domain.CartSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.CartSnapshot{
		UserID: userID,
		Lines:  slices.Clone(c.lines[userID]),
	}, nil
}

func (c *Carts) RemoveLine(_ context.Context, userID, lineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[userID] = slices.DeleteFunc(c.lines[userID], func(l domain.CartLine) bool {
		return l.ID == lineID
	})
	return nil
}
