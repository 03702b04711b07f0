package payment

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"go.uber.org/zap"
	"net/http"
	"net/url"
)

// Lifecycle is the part of the order engine the reconciler drives.
type Lifecycle interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, error)
	RecordCheckoutSession(ctx context.Context, orderID, gatewayRef string) (*orders.Order, error)
	ConfirmPayment(ctx context.Context, orderID, gatewayRef string) (*orders.Order, error)
	FailPayment(ctx context.Context, orderID string) (bool, error)
	GetOrder(ctx context.Context, orderID string, actor orders.Actor) (*orders.Order, error)
}

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Reconciler turns gateway redirects and webhooks into engine calls. Every
// path ends in the idempotent ConfirmPayment/FailPayment, so duplicates and
// reordering between redirect and webhook are harmless.
type Reconciler struct {
	Orders      Lifecycle
	Gateways    map[orders.PaymentMethod]Gateway
	Dedup       Deduper // optional
	FrontendURL string
	Log         *zap.Logger
	Metrics     *metrics.Metrics
}

func NewReconciler(lc Lifecycle, frontendURL string, gateways ...Gateway) *Reconciler {
	r := &Reconciler{Orders: lc, FrontendURL: frontendURL, Gateways: make(map[orders.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.Gateways[g.Method()] = g
	}
	return r
}

func (r *Reconciler) logger(ctx context.Context) *zap.Logger {
	fallback := r.Log
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return logging.FromContextOr(ctx, fallback)
}

func (r *Reconciler) gateway(m orders.PaymentMethod) (Gateway, error) {
	g, ok := r.Gateways[m]
	if !ok || g == nil {
		return nil, &orders.ValidationError{Field: "payment_method", Reason: "gateway " + string(m) + " is not enabled"}
	}
	return g, nil
}

type Placement struct {
	Order      *orders.Order `json:"order"`
	SessionURL string        `json:"session_url,omitempty"`
}

// PlaceOrder creates the order and, for hosted methods, opens the checkout
// session. An unpaid order whose session could not be opened is dropped.
func (r *Reconciler) PlaceOrder(ctx context.Context, in orders.CreateOrderInput) (*Placement, error) {
	var gw Gateway
	if in.PaymentMethod.Hosted() {
		g, err := r.gateway(in.PaymentMethod)
		if err != nil {
			return nil, err
		}
		gw = g
	}

	o, err := r.Orders.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		return &Placement{Order: o}, nil
	}

	sess, err := gw.CreateCheckoutSession(ctx, o, r.returnURLs(o.ID))
	if err != nil {
		r.logger(ctx).Warn("checkout session failed, dropping order",
			zap.String("order_id", o.ID), zap.String("gateway", string(gw.Method())), zap.Error(err))
		if _, ferr := r.Orders.FailPayment(context.WithoutCancel(ctx), o.ID); ferr != nil {
			r.logger(ctx).Error("drop unpaid order", zap.String("order_id", o.ID), zap.Error(ferr))
		}
		return nil, err
	}
	recorded, err := r.Orders.RecordCheckoutSession(ctx, o.ID, sess.Ref)
	if err != nil {
		return nil, err
	}
	return &Placement{Order: recorded, SessionURL: sess.URL}, nil
}

func (r *Reconciler) returnURLs(orderID string) ReturnURLs {
	id := url.QueryEscape(orderID)
	return ReturnURLs{
		Success: r.FrontendURL + "/verify?success=true&orderId=" + id,
		Cancel:  r.FrontendURL + "/verify?success=false&orderId=" + id,
	}
}

type RedirectResult struct {
	Outcome Outcome       `json:"outcome"`
	Order   *orders.Order `json:"order,omitempty"`
}

// VerifyRedirect settles an order when the buyer comes back from the
// gateway. success is what the redirect claims; the gateway has the final word.
func (r *Reconciler) VerifyRedirect(ctx context.Context, orderID string, actor orders.Actor, success bool) (RedirectResult, error) {
	o, err := r.Orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		return RedirectResult{}, err
	}
	if o.Status == orders.StatusReconciliationRequired {
		return RedirectResult{Outcome: NeedsReconciliation, Order: o},
			fmt.Errorf("order %s needs reconciliation: %w", o.ID, orders.ErrInsufficientStock)
	}
	if o.PaymentMethod == orders.PaymentCOD || o.PaymentConfirmed || o.Status != orders.StatusPendingPayment {
		return RedirectResult{Outcome: settledOutcome(o), Order: o}, nil
	}
	gw, err := r.gateway(o.PaymentMethod)
	if err != nil {
		return RedirectResult{}, err
	}

	v := Verification{OrderID: o.ID, Outcome: Pending}
	if o.GatewayRef != "" {
		v, err = gw.Verify(ctx, Callback{OrderID: o.ID, Ref: o.GatewayRef, Abandoned: !success})
		if err != nil {
			return RedirectResult{}, err
		}
	} else if !success {
		v.Outcome = Failed
	}

	switch v.Outcome {
	case Confirmed:
		got, err := r.Orders.ConfirmPayment(ctx, v.OrderID, v.Ref)
		if errors.Is(err, orders.ErrInsufficientStock) {
			return RedirectResult{Outcome: NeedsReconciliation, Order: got}, err
		}
		return RedirectResult{Outcome: Confirmed, Order: got}, err
	case Failed:
		if _, err := r.Orders.FailPayment(ctx, v.OrderID); err != nil {
			return RedirectResult{}, err
		}
		return RedirectResult{Outcome: Failed}, nil
	default:
		return RedirectResult{Outcome: Pending, Order: o}, nil
	}
}

func settledOutcome(o *orders.Order) Outcome {
	switch o.Status {
	case orders.StatusPendingPayment:
		return Pending
	case orders.StatusReconciliationRequired:
		return NeedsReconciliation
	}
	if o.Status == orders.StatusCancelled && !o.PaymentConfirmed && o.PaymentMethod.Hosted() {
		return Failed
	}
	return Confirmed
}

// HandleWebhook authenticates, dedups and settles one gateway notification.
// A nil return means the gateway may stop retrying.
func (r *Reconciler) HandleWebhook(ctx context.Context, method orders.PaymentMethod, h http.Header, body []byte) error {
	gw, err := r.gateway(method)
	if err != nil {
		return err
	}
	cb, err := gw.ParseWebhook(h, body)
	if errors.Is(err, ErrIgnoredEvent) {
		return nil
	}
	if err != nil {
		return err
	}

	log := r.logger(ctx).With(zap.String("gateway", string(method)), zap.String("event_id", cb.EventID), zap.String("gateway_ref", cb.Ref))
	key := string(method) + ":" + cb.EventID
	if r.Dedup != nil && cb.EventID != "" {
		seen, err := r.Dedup.Seen(ctx, key)
		if err != nil {
			log.Warn("webhook dedup lookup failed", zap.Error(err))
		} else if seen {
			log.Debug("duplicate webhook skipped")
			return nil
		}
	}

	v, err := gw.Verify(ctx, cb)
	if err != nil {
		return err
	}
	if err := r.settle(ctx, log, v); err != nil {
		return err
	}

	if r.Dedup != nil && cb.EventID != "" {
		if err := r.Dedup.Mark(ctx, key); err != nil {
			log.Warn("webhook dedup mark failed", zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) settle(ctx context.Context, log *zap.Logger, v Verification) error {
	switch v.Outcome {
	case Confirmed:
		_, err := r.Orders.ConfirmPayment(ctx, v.OrderID, v.Ref)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, orders.ErrInsufficientStock):
			// already surfaced by the engine as Reconciliation Required
			return nil
		case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrValidation):
			log.Error("payment captured for an order that cannot accept it",
				zap.String("order_id", v.OrderID), zap.Int64("amount_cents", v.AmountCents),
				zap.String("reason", orders.ErrorCode(err)), zap.Error(err))
			r.Metrics.ReconciliationFailure("orphaned_payment")
			return nil
		default:
			return err
		}
	case Failed:
		_, err := r.Orders.FailPayment(ctx, v.OrderID)
		return err
	default:
		return nil
	}
}
