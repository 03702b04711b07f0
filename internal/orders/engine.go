package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

// Policy holds the business knobs of the lifecycle.
type Policy struct {
	Currency            string
	DeliveryChargeCents int64
	// ReturnWindow bounds how long after delivery a return may be requested. Zero disables the check.
	ReturnWindow time.Duration
	// RestockDispatchedOnCancel restores stock when an admin cancels an order
	// that already left the warehouse.
	RestockDispatchedOnCancel bool
}

// Engine drives orders through their lifecycle and owns every stock
// mutation caused by an order. Each mutating operation runs inside one
// transaction holding the order, so racing callers are serialized per order.
type Engine struct {
	store  Store
	tx     TxManager
	ledger stock.Ledger
	policy Policy

	notifier Notifier
	carts    CartClearer
	events   EventPublisher

	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }
func WithCartClearer(c CartClearer) Option { return func(e *Engine) { e.carts = c } }
func WithEvents(p EventPublisher) Option { return func(e *Engine) { e.events = p } }
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

func NewEngine(store Store, tx TxManager, ledger stock.Ledger, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		tx:     tx,
		ledger: ledger,
		policy: policy,
		log:    zap.NewNop(),
		tracer: otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/orders"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// begin opens a span and returns the function that closes it, records
// metrics and writes the use_case_done log line.
func (e *Engine) begin(ctx context.Context, useCase, orderID string) (context.Context, *zap.Logger, func(orderID string, err error)) {
	ctx, span := e.tracer.Start(ctx, "orders."+useCase, trace.WithAttributes(
		attribute.String("use_case", useCase),
		attribute.String("order.id", orderID),
	))
	start := time.Now()
	log := logging.FromContextOr(ctx, e.log).With(zap.String("use_case", useCase))

	return ctx, log, func(id string, err error) {
		outcome := ErrorCode(err)
		if id != "" {
			span.SetAttributes(attribute.String("order.id", id))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		e.metrics.ObserveUsecase(useCase, outcome, start)

		fields := []zap.Field{
			zap.String("order_id", id),
			zap.String("outcome", outcome),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		}
		switch outcome {
		case "ok":
			log.Info("use_case_done", fields...)
		case "InternalError", "GatewayError":
			log.Error("use_case_done", append(fields, zap.Error(err))...)
		default:
			log.Info("use_case_done", append(fields, zap.String("reason", err.Error()))...)
		}
	}
}

// commitStock reserves every line item. On failure the items already
// reserved are released again and the reserve error is returned.
func (e *Engine) commitStock(ctx context.Context, log *zap.Logger, o *Order) error {
	for i, li := range o.Items {
		if _, err := e.ledger.Reserve(ctx, li.ProductID, li.Quantity); err != nil {
			e.releaseItems(ctx, log, o.Items[:i])
			var ise *stock.InsufficientStockError
			if errors.As(err, &ise) {
				ise.Name = li.Name
			}
			return err
		}
	}
	return nil
}

func (e *Engine) releaseItems(ctx context.Context, log *zap.Logger, items []LineItem) {
	for _, li := range items {
		if _, err := e.ledger.Release(ctx, li.ProductID, li.Quantity); err != nil {
			log.Error("stock release failed",
				zap.String("product_id", li.ProductID), zap.Int("qty", li.Quantity), zap.Error(err))
		}
	}
}

// restoreStock puts an order's committed stock back at most once.
func (e *Engine) restoreStock(ctx context.Context, log *zap.Logger, o *Order) bool {
	if !o.StockApplied || o.StockReleased {
		return false
	}
	e.releaseItems(ctx, log, o.Items)
	o.StockReleased = true
	return true
}

// after runs the side effects of a committed change. None of them can fail the operation.
func (e *Engine) after(ctx context.Context, log *zap.Logger, o *Order, eventType string, from Status, note, label string) {
	if e.events != nil {
		ev := Event{Type: eventType, Order: o.Clone(), From: from, Note: note, At: o.UpdatedAt}
		if err := e.events.Publish(ctx, ev); err != nil {
			log.Warn("publish order event failed", zap.String("order_id", o.ID), zap.String("event", eventType), zap.Error(err))
		}
	}
	if label == "" || e.notifier == nil {
		return
	}
	n := Notification{UserID: o.BuyerID, OrderID: o.ID, Message: StatusMessage(o, label)}
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Warn("notify buyer failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// GetOrder returns an order visible to actor. Orders of other buyers look missing.
func (e *Engine) GetOrder(ctx context.Context, id string, actor Actor) (*Order, error) {
	o, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canSee(o) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ListOrders lists every order for admins and the caller's own orders for buyers.
func (e *Engine) ListOrders(ctx context.Context, actor Actor, f ListFilter) ([]*Order, error) {
	if !actor.IsAdmin() {
		f.BuyerID = actor.UserID
	}
	return e.store.List(ctx, f)
}
