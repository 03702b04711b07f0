package memory

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"sync"
)

// Store keeps products and orders in memory. It satisfies orders.Store,
// orders.TxManager, stock.Ledger and catalog.Lookup, so one value backs a
// whole engine in tests and local runs.
type Store struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
	orders   map[string]*orders.Order
}

func NewStore() *Store {
	return &Store{
		products: make(map[string]catalog.Product),
		orders:   make(map[string]*orders.Order),
	}
}

// A transaction holds the write lock for its whole duration and marks the
// context so nested calls skip their own locking.
type txKey struct{}

func isTx(ctx context.Context) bool {
	b, ok := ctx.Value(txKey{}).(bool)
	return ok && b
}

func (s *Store) rlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.RLock()
	}
}

func (s *Store) runlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.RUnlock()
	}
}

func (s *Store) wlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.Lock()
	}
}

func (s *Store) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		s.mu.Unlock()
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}
