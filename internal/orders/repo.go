package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"strings"
)

// Repo is the Postgres Store. It joins the transaction carried by ctx.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const orderColumns = `id, buyer_id, address, amount_cents, currency, payment_method, payment_confirmed,
	gateway_ref, status, cancellation_reason, return_reason, reconciliation_error,
	stock_applied, stock_released, created_at, updated_at`

func (r *Repo) Insert(ctx context.Context, o *Order) error {
	q := postgres.Conn(ctx, r.DB)
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.BuyerID, addr, o.AmountCents, o.Currency, o.PaymentMethod, o.PaymentConfirmed,
		o.GatewayRef, o.Status, o.CancellationReason, o.ReturnReason, o.ReconciliationError,
		o.StockApplied, o.StockReleased, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, unit_price_cents, size, qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, i, it.ProductID, it.Name, it.UnitPriceCents, it.Size, it.Quantity,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return r.appendHistory(ctx, q, o)
}

// appendHistory writes history entries not stored yet. Entries are append-only,
// so existing sequence numbers are skipped.
func (r *Repo) appendHistory(ctx context.Context, q postgres.Querier, o *Order) error {
	for i, h := range o.History {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_status_history (order_id, seq, status, note, at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (order_id, seq) DO NOTHING`,
			o.ID, i, h.Status, h.Note, h.At,
		); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, id, "")
}

func (r *Repo) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	if !postgres.InTx(ctx) {
		return nil, errors.New("GetForUpdate outside transaction")
	}
	return r.get(ctx, id, lockForUpdate)
}

// lockForUpdate holds the order row until the transaction ends, so racing
// operations on one order run one after the other.
const lockForUpdate = " FOR UPDATE"

func selectOrderSQL(lock string) string {
	return `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + lock
}

func (r *Repo) get(ctx context.Context, id, lock string) (*Order, error) {
	q := postgres.Conn(ctx, r.DB)
	o, err := scanOrder(q.QueryRow(ctx, selectOrderSQL(lock), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadChildren(ctx, q, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) Update(ctx context.Context, o *Order) error {
	q := postgres.Conn(ctx, r.DB)
	ct, err := q.Exec(ctx, `
		UPDATE orders SET
			payment_confirmed = $2, gateway_ref = $3, status = $4,
			cancellation_reason = $5, return_reason = $6, reconciliation_error = $7,
			stock_applied = $8, stock_released = $9, updated_at = $10
		WHERE id = $1`,
		o.ID, o.PaymentConfirmed, o.GatewayRef, o.Status,
		o.CancellationReason, o.ReturnReason, o.ReconciliationError,
		o.StockApplied, o.StockReleased, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return r.appendHistory(ctx, q, o)
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	var where []string
	var args []any
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	q := postgres.Conn(ctx, r.DB)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var addr []byte
	if err := row.Scan(
		&o.ID, &o.BuyerID, &addr, &o.AmountCents, &o.Currency, &o.PaymentMethod, &o.PaymentConfirmed,
		&o.GatewayRef, &o.Status, &o.CancellationReason, &o.ReturnReason, &o.ReconciliationError,
		&o.StockApplied, &o.StockReleased, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	return &o, nil
}

// loadChildren fills items and history for a batch of orders with two queries.
func (r *Repo) loadChildren(ctx context.Context, q postgres.Querier, batch []*Order) error {
	if len(batch) == 0 {
		return nil
	}
	byID := make(map[string]*Order, len(batch))
	ids := make([]string, 0, len(batch))
	for _, o := range batch {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, name, unit_price_cents, size, qty
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for rows.Next() {
		var oid string
		var it LineItem
		if err := rows.Scan(&oid, &it.ProductID, &it.Name, &it.UnitPriceCents, &it.Size, &it.Quantity); err != nil {
			rows.Close()
			return err
		}
		byID[oid].Items = append(byID[oid].Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT order_id, status, note, at
		FROM order_status_history WHERE order_id = ANY($1) ORDER BY order_id, seq`, ids)
	if err != nil {
		return fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var oid string
		var h StatusChange
		if err := rows.Scan(&oid, &h.Status, &h.Note, &h.At); err != nil {
			return err
		}
		byID[oid].History = append(byID[oid].History, h)
	}
	return rows.Err()
}
