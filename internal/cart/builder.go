// Package cart turns a buyer's cart into frozen order line items.
package cart

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"iter"
)

type Entry struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
}

// ProductUnavailableError is returned when a cart references a product the
// catalog no longer has.
type ProductUnavailableError struct{ ProductID string }

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is no longer available", e.ProductID)
}

func (e *ProductUnavailableError) Unwrap() error { return catalog.ErrProductNotFound }

func (e *ProductUnavailableError) Is(target error) bool { return target == orders.ErrValidation }

// BuildLineItems yields one line item per cart entry with the catalog's
// current name and price copied in. Stock is not consulted. The sequence
// stops after the first error.
func BuildLineItems(ctx context.Context, entries []Entry, lookup catalog.Lookup) iter.Seq2[orders.LineItem, error] {
	return func(yield func(orders.LineItem, error) bool) {
		for i, e := range entries {
			if e.ProductID == "" || e.Quantity <= 0 {
				yield(orders.LineItem{}, &orders.ValidationError{
					Field:  fmt.Sprintf("items[%d]", i),
					Reason: "needs a product_id and a positive quantity",
				})
				return
			}
			p, err := lookup.GetProduct(ctx, e.ProductID)
			if errors.Is(err, catalog.ErrProductNotFound) {
				yield(orders.LineItem{}, &ProductUnavailableError{ProductID: e.ProductID})
				return
			}
			if err != nil {
				yield(orders.LineItem{}, err)
				return
			}
			li := orders.LineItem{
				ProductID:      p.ID,
				Name:           p.Name,
				UnitPriceCents: p.PriceCents,
				Size:           e.Size,
				Quantity:       e.Quantity,
			}
			if !yield(li, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[orders.LineItem, error]) ([]orders.LineItem, error) {
	var out []orders.LineItem
	for li, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, nil
}
