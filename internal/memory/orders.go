package memory

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"sort"
)

var (
	_ orders.Store     = (*Store)(nil)
	_ orders.TxManager = (*Store)(nil)
)

func (s *Store) Insert(ctx context.Context, o *orders.Order) error {
	s.wlock(ctx)
	defer s.wunlock(ctx)
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	s.rlock(ctx)
	defer s.runlock(ctx)
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// GetForUpdate relies on the transaction's write lock for exclusivity.
func (s *Store) GetForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return s.Get(ctx, id)
}

func (s *Store) Update(ctx context.Context, o *orders.Order) error {
	s.wlock(ctx)
	defer s.wunlock(ctx)
	if _, ok := s.orders[o.ID]; !ok {
		return orders.ErrOrderNotFound
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.wlock(ctx)
	defer s.wunlock(ctx)
	if _, ok := s.orders[id]; !ok {
		return orders.ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *Store) List(ctx context.Context, f orders.ListFilter) ([]*orders.Order, error) {
	s.rlock(ctx)
	defer s.runlock(ctx)
	out := make([]*orders.Order, 0)
	for _, o := range s.orders {
		if f.BuyerID != "" && o.BuyerID != f.BuyerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
