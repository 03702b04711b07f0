package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
	"go.uber.org/zap"
	"strings"
)

const (
	labelPaymentSuccessful = "Payment Successful"
	labelPaymentFailed     = "Payment Failed and Order Cancelled"
)

type CreateOrderInput struct {
	BuyerID       string
	Items         []LineItem
	Address       Address
	PaymentMethod PaymentMethod
}

func (in CreateOrderInput) validate() error {
	if strings.TrimSpace(in.BuyerID) == "" {
		return &ValidationError{Field: "buyer_id", Reason: "is required"}
	}
	if !in.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Reason: fmt.Sprintf("%q is not supported", in.PaymentMethod)}
	}
	if len(in.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for i, li := range in.Items {
		switch {
		case li.ProductID == "":
			return &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "is required"}
		case li.Quantity <= 0:
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		case li.UnitPriceCents < 0:
			return &ValidationError{Field: fmt.Sprintf("items[%d].unit_price_cents", i), Reason: "must not be negative"}
		}
	}
	return in.Address.Validate()
}

// CreateOrder persists a new order. Cash on delivery orders commit stock
// right away and start in Order Placed; hosted checkout orders start in
// Pending Payment and commit stock only once the gateway confirms.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (o *Order, err error) {
	ctx, log, done := e.begin(ctx, "CreateOrder", "")
	defer func() {
		id := ""
		if o != nil {
			id = o.ID
		}
		done(id, err)
	}()

	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := e.checkAvailable(ctx, in.Items); err != nil {
		return nil, err
	}

	now := e.now()
	order := &Order{
		ID:            e.newID(),
		BuyerID:       in.BuyerID,
		Items:         append([]LineItem(nil), in.Items...),
		Address:       in.Address,
		AmountCents:   totalCents(in.Items, e.policy.DeliveryChargeCents),
		Currency:      e.policy.Currency,
		PaymentMethod: in.PaymentMethod,
		CreatedAt:     now,
	}
	initial := StatusPendingPayment
	if in.PaymentMethod == PaymentCOD {
		initial = StatusOrderPlaced
	}
	order.moveTo(initial, now, "")

	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.store.Insert(ctx, order); err != nil {
			return err
		}
		if in.PaymentMethod != PaymentCOD {
			return nil
		}
		if err := e.commitStock(ctx, log, order); err != nil {
			if derr := e.store.Delete(ctx, order.ID); derr != nil {
				log.Error("delete order after failed stock commit", zap.String("order_id", order.ID), zap.Error(derr))
			}
			return err
		}
		order.StockApplied = true
		return e.store.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	e.after(ctx, log, order, EventOrderCreated, "", "", string(order.Status))
	return order.Clone(), nil
}

// checkAvailable rejects quantities above the current stock, per product.
func (e *Engine) checkAvailable(ctx context.Context, items []LineItem) error {
	want := make(map[string]int, len(items))
	names := make(map[string]string, len(items))
	var ids []string
	for _, li := range items {
		if _, seen := want[li.ProductID]; !seen {
			ids = append(ids, li.ProductID)
		}
		want[li.ProductID] += li.Quantity
		names[li.ProductID] = li.Name
	}
	for _, id := range ids {
		have, err := e.ledger.Stock(ctx, id)
		if errors.Is(err, stock.ErrUnknownProduct) {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("product %s does not exist", id)}
		}
		if err != nil {
			return err
		}
		if want[id] > have {
			return &stock.InsufficientStockError{ProductID: id, Name: names[id], Requested: want[id], Available: have}
		}
	}
	return nil
}

// RecordCheckoutSession links a pending order to the gateway session opened for it.
func (e *Engine) RecordCheckoutSession(ctx context.Context, orderID, gatewayRef string) (*Order, error) {
	var out *Order
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != StatusPendingPayment {
			return &TransitionError{From: cur.Status, To: StatusPendingPayment, Reason: "checkout already settled"}
		}
		cur.GatewayRef = gatewayRef
		cur.UpdatedAt = e.now()
		out = cur
		return e.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmPayment commits stock for a paid hosted checkout order. Repeated
// confirmations are successful no-ops. If stock ran out after the buyer
// paid, the order moves to Reconciliation Required and the returned error
// wraps ErrInsufficientStock.
func (e *Engine) ConfirmPayment(ctx context.Context, orderID, gatewayRef string) (o *Order, err error) {
	ctx, log, done := e.begin(ctx, "ConfirmPayment", orderID)
	defer func() { done(orderID, err) }()

	var changed bool
	var stockErr, replayErr error
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		o = cur
		// a replay must report the same stock failure as the first call
		if cur.Status == StatusReconciliationRequired {
			replayErr = fmt.Errorf("order %s needs reconciliation (%s): %w", cur.ID, cur.ReconciliationError, ErrInsufficientStock)
			return nil
		}
		if cur.PaymentConfirmed || cur.StockApplied {
			return nil
		}
		if gatewayRef != "" && cur.GatewayRef != "" && gatewayRef != cur.GatewayRef {
			return &ValidationError{Field: "gateway_ref", Reason: "does not match the order's checkout session"}
		}
		if cur.Status != StatusPendingPayment {
			return &TransitionError{From: cur.Status, To: StatusProcessing, Reason: "order is no longer awaiting payment"}
		}

		now := e.now()
		cur.PaymentConfirmed = true
		if cur.GatewayRef == "" {
			cur.GatewayRef = gatewayRef
		}
		if serr := e.commitStock(ctx, log, cur); serr != nil {
			if !errors.Is(serr, stock.ErrInsufficientStock) && !errors.Is(serr, stock.ErrUnknownProduct) {
				return serr
			}
			stockErr = serr
			cur.ReconciliationError = serr.Error()
			cur.moveTo(StatusReconciliationRequired, now, "payment captured but stock could not be committed")
			changed = true
			return e.store.Update(ctx, cur)
		}
		cur.StockApplied = true
		cur.moveTo(StatusProcessing, now, "payment confirmed")
		changed = true
		return e.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if replayErr != nil {
		return o.Clone(), replayErr
	}

	if stockErr != nil {
		log.Error("payment captured but stock could not be committed",
			zap.String("order_id", o.ID), zap.String("gateway_ref", o.GatewayRef),
			zap.Int64("amount_cents", o.AmountCents), zap.Error(stockErr))
		e.metrics.ReconciliationFailure("insufficient_stock")
		e.after(ctx, log, o, EventReconciliationRequired, StatusPendingPayment, o.ReconciliationError, string(o.Status))
		return o.Clone(), fmt.Errorf("order %s needs reconciliation: %w", o.ID, stockErr)
	}
	if changed {
		if e.carts != nil {
			if err := e.carts.ClearCart(ctx, o.BuyerID); err != nil {
				log.Warn("clear cart failed", zap.String("buyer_id", o.BuyerID), zap.Error(err))
			}
		}
		e.after(ctx, log, o, EventPaymentConfirmed, StatusPendingPayment, "", labelPaymentSuccessful)
	}
	return o.Clone(), nil
}

// FailPayment drops an unpaid order. It reports whether this call deleted
// it; missing or already confirmed orders are left alone.
func (e *Engine) FailPayment(ctx context.Context, orderID string) (deleted bool, err error) {
	ctx, log, done := e.begin(ctx, "FailPayment", orderID)
	defer func() { done(orderID, err) }()

	var victim *Order
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if errors.Is(err, ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.PaymentConfirmed || cur.StockApplied || cur.Status != StatusPendingPayment {
			return nil
		}
		victim = cur
		return e.store.Delete(ctx, cur.ID)
	})
	if err != nil || victim == nil {
		return false, err
	}
	victim.moveTo(StatusCancelled, e.now(), "payment failed")
	e.after(ctx, log, victim, EventPaymentFailed, StatusPendingPayment, "", labelPaymentFailed)
	return true, nil
}

// AdvanceFulfillment moves an order one step along the shipping sequence.
// Asking for the status the order already has is a no-op.
func (e *Engine) AdvanceFulfillment(ctx context.Context, orderID string, next Status) (o *Order, err error) {
	ctx, log, done := e.begin(ctx, "AdvanceFulfillment", orderID)
	defer func() { done(orderID, err) }()

	var from Status
	var changed bool
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		o, from = cur, cur.Status
		if cur.Status == next {
			return nil
		}
		want, ok := nextFulfillment[cur.Status]
		if !ok || want != next {
			return &TransitionError{From: cur.Status, To: next}
		}
		cur.moveTo(next, e.now(), "")
		changed = true
		return e.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.after(ctx, log, o, EventStatusChanged, from, "", string(o.Status))
	}
	return o.Clone(), nil
}

// Cancel cancels an order. Buyers may cancel their own orders before
// processing starts; admins may cancel any order that has not finished.
// Committed stock is restored once, subject to the dispatch policy.
func (e *Engine) Cancel(ctx context.Context, orderID, reason string, actor Actor) (o *Order, err error) {
	ctx, log, done := e.begin(ctx, "Cancel", orderID)
	defer func() { done(orderID, err) }()

	reason = strings.TrimSpace(reason)

	var from Status
	var changed bool
	var note string
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.canSee(cur) {
			return ErrOrderNotFound
		}
		o, from = cur, cur.Status
		if cur.Status == StatusCancelled {
			return nil
		}
		if reason == "" {
			return &ValidationError{Field: "reason", Reason: "is required"}
		}
		if actor.IsAdmin() {
			if !CanTransition(cur.Status, StatusCancelled) {
				return &TransitionError{From: cur.Status, To: StatusCancelled}
			}
		} else if cur.Status != StatusOrderPlaced && cur.Status != StatusPendingPayment {
			return &TransitionError{From: cur.Status, To: StatusCancelled, Reason: "orders can only be cancelled before processing starts"}
		}

		note = reason
		if cur.StockApplied && !cur.StockReleased {
			if cur.Status.dispatched() && !e.policy.RestockDispatchedOnCancel {
				note = reason + " (stock not restored: goods already dispatched)"
				log.Warn("cancelled dispatched order without restocking", zap.String("order_id", cur.ID), zap.String("status", string(cur.Status)))
			} else {
				e.restoreStock(ctx, log, cur)
			}
		}
		cur.CancellationReason = reason
		cur.moveTo(StatusCancelled, e.now(), note)
		changed = true
		return e.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.after(ctx, log, o, EventStatusChanged, from, note, string(o.Status))
	}
	return o.Clone(), nil
}

// RequestReturn opens a return for a delivered order within the return window.
func (e *Engine) RequestReturn(ctx context.Context, orderID, reason string, actor Actor) (o *Order, err error) {
	ctx, log, done := e.begin(ctx, "RequestReturn", orderID)
	defer func() { done(orderID, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "is required"}
	}

	var changed bool
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.canSee(cur) {
			return ErrOrderNotFound
		}
		o = cur
		if cur.Status == StatusReturnRequested {
			return nil
		}
		if cur.Status != StatusDelivered {
			return &TransitionError{From: cur.Status, To: StatusReturnRequested}
		}
		now := e.now()
		if at, ok := cur.EnteredAt(StatusDelivered); ok && e.policy.ReturnWindow > 0 && now.Sub(at) > e.policy.ReturnWindow {
			return &TransitionError{From: cur.Status, To: StatusReturnRequested, Reason: "return window has closed"}
		}
		cur.ReturnReason = reason
		cur.moveTo(StatusReturnRequested, now, reason)
		changed = true
		return e.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.after(ctx, log, o, EventStatusChanged, StatusDelivered, reason, string(o.Status))
	}
	return o.Clone(), nil
}

// ResolveReturn approves or rejects a requested return. Approval restores
// the order's stock once.
func (e *Engine) ResolveReturn(ctx context.Context, orderID string, approve bool, reason string) (o *Order, err error) {
	ctx, log, done := e.begin(ctx, "ResolveReturn", orderID)
	defer func() { done(orderID, err) }()

	target := StatusReturnRejected
	if approve {
		target = StatusReturnApproved
	}
	reason = strings.TrimSpace(reason)

	var changed bool
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.store.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		o = cur
		if cur.Status == target {
			return nil
		}
		if cur.Status != StatusReturnRequested {
			return &TransitionError{From: cur.Status, To: target}
		}
		if approve {
			e.restoreStock(ctx, log, cur)
		}
		cur.moveTo(target, e.now(), reason)
		changed = true
		return e.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.after(ctx, log, o, EventStatusChanged, StatusReturnRequested, reason, string(o.Status))
	}
	return o.Clone(), nil
}

// UpdateStatus is the admin entry point: it routes a requested target status
// to cancellation, return resolution or fulfillment.
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, target Status, reason string, actor Actor) (*Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrOrderNotFound
	}
	switch target {
	case StatusCancelled:
		return e.Cancel(ctx, orderID, reason, actor)
	case StatusReturnApproved:
		return e.ResolveReturn(ctx, orderID, true, reason)
	case StatusReturnRejected:
		return e.ResolveReturn(ctx, orderID, false, reason)
	default:
		return e.AdvanceFulfillment(ctx, orderID, target)
	}
}
