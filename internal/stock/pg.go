package stock

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// availabilityExpr recomputes the label from the new stock value inside the
// same UPDATE that changes it. $2 is the signed delta.
var availabilityExpr = fmt.Sprintf(
	`CASE WHEN stock + $2 <= 0 THEN '%s' WHEN stock + $2 <= %d THEN '%s' ELSE '%s' END`,
	OutOfStock, LowStockThreshold, LowStock, Available,
)

var adjustSQL = `UPDATE products
	SET stock = stock + $2, availability = ` + availabilityExpr + `, updated_at = now()
	WHERE id = $1 AND stock + $2 >= 0
	RETURNING stock`

// PGLedger applies stock changes with one conditional UPDATE per call, joining
// the caller's transaction when there is one.
type PGLedger struct {
	DB      *pgxpool.Pool
	Metrics *metrics.Metrics
}

var _ Ledger = (*PGLedger)(nil)

func (l *PGLedger) Reserve(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	var remaining int
	err := postgres.Conn(ctx, l.DB).QueryRow(ctx, adjustSQL, productID, -qty).Scan(&remaining)
	if err == nil {
		l.Metrics.StockMutation("reserve", "ok")
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		l.Metrics.StockMutation("reserve", "error")
		return 0, fmt.Errorf("reserve %s: %w", productID, err)
	}
	// Nothing matched: either the product is gone or the guard rejected it.
	current, serr := l.Stock(ctx, productID)
	if serr != nil {
		l.Metrics.StockMutation("reserve", "error")
		return 0, serr
	}
	l.Metrics.StockMutation("reserve", "insufficient")
	return current, &InsufficientStockError{ProductID: productID, Requested: qty, Available: current}
}

func (l *PGLedger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	var remaining int
	err := postgres.Conn(ctx, l.DB).QueryRow(ctx, adjustSQL, productID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		l.Metrics.StockMutation("release", "unknown_product")
		return 0, fmt.Errorf("release %s: %w", productID, ErrUnknownProduct)
	}
	if err != nil {
		l.Metrics.StockMutation("release", "error")
		return 0, fmt.Errorf("release %s: %w", productID, err)
	}
	l.Metrics.StockMutation("release", "ok")
	return remaining, nil
}

func (l *PGLedger) Stock(ctx context.Context, productID string) (int, error) {
	var n int
	err := postgres.Conn(ctx, l.DB).QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("stock %s: %w", productID, ErrUnknownProduct)
	}
	if err != nil {
		return 0, fmt.Errorf("stock %s: %w", productID, err)
	}
	return n, nil
}
