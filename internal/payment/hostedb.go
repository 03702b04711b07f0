package payment

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HostedB talks to the order style checkout: we open a gateway order whose
// receipt is our order id and the buyer pays against it.
type HostedB struct {
	c             client
	checkoutBase  string
	webhookSecret string
}

func NewHostedB(cfg config.GatewayConfig, timeout time.Duration) *HostedB {
	id, secret := cfg.KeyID, cfg.SecretKey
	return &HostedB{
		c: newClient("hosted_b", cfg.BaseURL, timeout, func(r *http.Request) {
			r.SetBasicAuth(id, secret)
		}),
		checkoutBase:  cfg.BaseURL + "/checkout/",
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *HostedB) Method() orders.PaymentMethod { return orders.PaymentHostedB }

type gwOrderReq struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type gwOrder struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"` // created, attempted, paid
}

func (g *HostedB) CreateCheckoutSession(ctx context.Context, o *orders.Order, urls ReturnURLs) (Session, error) {
	var out gwOrder
	err := g.c.do(ctx, "create_order", http.MethodPost, "/v1/orders", gwOrderReq{
		Amount:   o.AmountCents,
		Currency: strings.ToUpper(o.Currency),
		Receipt:  o.ID,
		Notes:    map[string]string{"user_id": o.BuyerID, "callback_url": urls.Success},
	}, &out)
	if err != nil {
		return Session{}, err
	}
	if out.ID == "" {
		return Session{}, &GatewayError{Gateway: "hosted_b", Op: "create_order", Err: fmt.Errorf("order without id")}
	}
	return Session{Ref: out.ID, URL: g.checkoutBase + url.PathEscape(out.ID)}, nil
}

func (g *HostedB) Verify(ctx context.Context, cb Callback) (Verification, error) {
	if cb.Ref == "" {
		return Verification{}, &orders.ValidationError{Field: "gateway_ref", Reason: "is required"}
	}
	var o gwOrder
	if err := g.c.do(ctx, "get_order", http.MethodGet, "/v1/orders/"+url.PathEscape(cb.Ref), nil, &o); err != nil {
		return Verification{}, err
	}
	if cb.OrderID != "" && o.Receipt != cb.OrderID {
		return Verification{}, &orders.ValidationError{Field: "order_id", Reason: "does not match the gateway order receipt"}
	}

	v := Verification{OrderID: o.Receipt, Ref: o.ID, AmountCents: o.AmountPaid, Outcome: Pending}
	switch {
	case o.Status == "paid":
		v.Outcome = Confirmed
	case o.Status == "attempted", cb.Abandoned:
		v.Outcome = Failed
	}
	return v, nil
}

type hostedBEvent struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Order struct {
			Entity gwOrder `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook checks X-Gateway-Signature (hex hmac of the raw body).
func (g *HostedB) ParseWebhook(h http.Header, body []byte) (Callback, error) {
	sig := h.Get("X-Gateway-Signature")
	if sig == "" || !hmac.Equal([]byte(signHex(g.webhookSecret, body)), []byte(sig)) {
		return Callback{}, ErrBadSignature
	}
	var ev hostedBEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Callback{}, &orders.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	eventID := ev.ID
	if eventID == "" {
		eventID = h.Get("X-Gateway-Event-Id")
	}
	cb := Callback{
		OrderID: ev.Payload.Order.Entity.Receipt,
		Ref:     ev.Payload.Order.Entity.ID,
		EventID: eventID,
	}
	switch ev.Event {
	case "order.paid":
	case "payment.failed":
		cb.Abandoned = true
	default:
		return Callback{}, ErrIgnoredEvent
	}
	return cb, nil
}
