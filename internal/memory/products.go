package memory

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
	"sort"
	"time"
)

var (
	_ stock.Ledger   = (*Store)(nil)
	_ catalog.Lookup = (*Store)(nil)
)

// PutProduct adds or replaces a catalog entry.
func (s *Store) PutProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Availability = stock.Availability(p.Stock)
	s.products[p.ID] = p
}

// DeleteProduct removes a product from the catalog.
func (s *Store) DeleteProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	s.rlock(ctx)
	defer s.runlock(ctx)
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	s.rlock(ctx)
	defer s.runlock(ctx)
	out := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Reserve(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, stock.ErrInvalidQuantity
	}
	s.wlock(ctx)
	defer s.wunlock(ctx)
	p, ok := s.products[productID]
	if !ok {
		return 0, fmt.Errorf("reserve %s: %w", productID, stock.ErrUnknownProduct)
	}
	if p.Stock < qty {
		return p.Stock, &stock.InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock}
	}
	s.setStock(p, p.Stock-qty)
	return p.Stock - qty, nil
}

func (s *Store) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, stock.ErrInvalidQuantity
	}
	s.wlock(ctx)
	defer s.wunlock(ctx)
	p, ok := s.products[productID]
	if !ok {
		return 0, fmt.Errorf("release %s: %w", productID, stock.ErrUnknownProduct)
	}
	s.setStock(p, p.Stock+qty)
	return p.Stock + qty, nil
}

func (s *Store) Stock(ctx context.Context, productID string) (int, error) {
	s.rlock(ctx)
	defer s.runlock(ctx)
	p, ok := s.products[productID]
	if !ok {
		return 0, fmt.Errorf("stock %s: %w", productID, stock.ErrUnknownProduct)
	}
	return p.Stock, nil
}

// caller holds the write lock
func (s *Store) setStock(p catalog.Product, n int) {
	p.Stock = n
	p.Availability = stock.Availability(n)
	p.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = p
}
