package store

import (
	"context"
	"sync"

	"github.com/openexch/simex/pkg/core"
)

// OrderStore is the registry of open orders, order_id to Order. It is
// owned by the exchange and passed in explicitly rather than reached
// as ambient state.
type OrderStore interface {
	Get(orderID string) *core.Order
	Put(order *core.Order)
	Delete(orderID string)
	List() []*core.Order
}

// Archive receives terminal orders once they have been reported to
// their client at least once. Implementations may persist them.
type Archive interface {
	Archive(ctx context.Context, order *core.Order) error
	Load(ctx context.Context, orderID string) (*core.Order, error)
	List(ctx context.Context, clientID string) ([]*core.Order, error)
	Close() error
}

// MemoryStore implements OrderStore with a mutex-guarded map.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*core.Order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*core.Order)}
}

// Get returns the order with the given ID, nil if absent.
func (s *MemoryStore) Get(orderID string) *core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[orderID]
}

// Put stores or replaces an order.
func (s *MemoryStore) Put(order *core.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID()] = order
}

// Delete removes an order.
func (s *MemoryStore) Delete(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
}

// List returns all registered orders.
func (s *MemoryStore) List() []*core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// MemoryArchive implements Archive in memory, for tests and for
// deployments without Redis.
type MemoryArchive struct {
	mu     sync.RWMutex
	orders map[string]*core.Order
}

// NewMemoryArchive creates an empty MemoryArchive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{orders: make(map[string]*core.Order)}
}

// Archive stores a terminal order.
func (a *MemoryArchive) Archive(_ context.Context, order *core.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders[order.ID()] = order
	return nil
}

// Load returns an archived order, ErrOrderNotFound if absent.
func (a *MemoryArchive) Load(_ context.Context, orderID string) (*core.Order, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.orders[orderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	return o, nil
}

// List returns archived orders for one client; empty clientID matches all.
func (a *MemoryArchive) List(_ context.Context, clientID string) ([]*core.Order, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*core.Order, 0)
	for _, o := range a.orders {
		if clientID == "" || o.ClientID() == clientID {
			out = append(out, o)
		}
	}
	return out, nil
}

// Close implements Archive.
func (a *MemoryArchive) Close() error { return nil }
