package stock

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// InsufficientStockError names the product that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	who := e.ProductID
	if e.Name != "" {
		who = fmt.Sprintf("%s (%s)", e.Name, e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", who, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Ledger mutates per-product stock counters. Reserve and Release are single
// atomic updates; stock never goes below zero.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) (remaining int, err error)
	Release(ctx context.Context, productID string, qty int) (remaining int, err error)
	Stock(ctx context.Context, productID string) (int, error)
}
