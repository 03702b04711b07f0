package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventPaymentConfirmed       = "PaymentConfirmed"
	EventPaymentFailed          = "PaymentFailed"
	EventStatusChanged          = "OrderStatusChanged"
	EventReconciliationRequired = "ReconciliationRequired"
	EventNotificationRequested  = "NotificationRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Event is what the engine hands to an EventPublisher after a committed change.
type Event struct {
	Type  string
	Order *Order
	From  Status
	Note  string
	At    time.Time
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notification is one buyer-facing message.
type Notification struct {
	UserID  string
	OrderID string
	Message string
}

// Notifier delivers buyer notifications. Callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ---- payloads ----

type ItemPrice struct {
	ProductID  string `json:"product_id"`
	Size       string `json:"size,omitempty"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	BuyerID       string        `json:"buyer_id"`
	Items         []ItemPrice   `json:"items"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        Status        `json:"status"`
}

type PaymentPayload struct {
	OrderID     string `json:"order_id"`
	GatewayRef  string `json:"gateway_ref,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Note    string `json:"note,omitempty"`
}

type ReconciliationPayload struct {
	OrderID     string `json:"order_id"`
	GatewayRef  string `json:"gateway_ref,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Error       string `json:"error"`
}

type NotificationPayload struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

func itemPrices(items []LineItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Size: it.Size, Qty: it.Quantity, PriceCents: it.UnitPriceCents})
	}
	return out
}

// Payload builds the typed payload for an engine event.
func (e Event) Payload() any {
	o := e.Order
	switch e.Type {
	case EventOrderCreated:
		return OrderCreatedPayload{
			OrderID: o.ID, BuyerID: o.BuyerID, Items: itemPrices(o.Items),
			AmountCents: o.AmountCents, Currency: o.Currency, PaymentMethod: o.PaymentMethod, Status: o.Status,
		}
	case EventPaymentConfirmed, EventPaymentFailed:
		return PaymentPayload{OrderID: o.ID, GatewayRef: o.GatewayRef, AmountCents: o.AmountCents}
	case EventReconciliationRequired:
		return ReconciliationPayload{OrderID: o.ID, GatewayRef: o.GatewayRef, AmountCents: o.AmountCents, Error: o.ReconciliationError}
	default:
		return StatusChangedPayload{OrderID: o.ID, BuyerID: o.BuyerID, From: e.From, To: o.Status, Note: e.Note}
	}
}
