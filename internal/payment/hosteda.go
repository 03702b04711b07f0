package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HostedA talks to the session style checkout: the buyer pays on a
// checkout session page and the session is polled or pushed back to us.
type HostedA struct {
	c             client
	webhookSecret string
	// Tolerance bounds the age of a signed webhook timestamp.
	Tolerance time.Duration
	now       func() time.Time
}

func NewHostedA(cfg config.GatewayConfig, timeout time.Duration) *HostedA {
	secret := cfg.SecretKey
	return &HostedA{
		c: newClient("hosted_a", cfg.BaseURL, timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+secret)
		}),
		webhookSecret: cfg.WebhookSecret,
		Tolerance:     5 * time.Minute,
		now:           time.Now,
	}
}

func (g *HostedA) Method() orders.PaymentMethod { return orders.PaymentHostedA }

type sessionLine struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount"`
	Quantity    int    `json:"quantity"`
}

type sessionReq struct {
	Mode              string            `json:"mode"`
	Currency          string            `json:"currency"`
	LineItems         []sessionLine     `json:"line_items"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type sessionResp struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`         // open, complete, expired
	PaymentStatus     string            `json:"payment_status"` // unpaid, paid
	AmountTotal       int64             `json:"amount_total"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func (g *HostedA) CreateCheckoutSession(ctx context.Context, o *orders.Order, urls ReturnURLs) (Session, error) {
	lines := make([]sessionLine, 0, len(o.Items)+1)
	var items int64
	for _, li := range o.Items {
		lines = append(lines, sessionLine{Name: li.Name, AmountCents: li.UnitPriceCents, Quantity: li.Quantity})
		items += li.SubtotalCents()
	}
	if delivery := o.AmountCents - items; delivery > 0 {
		lines = append(lines, sessionLine{Name: "Delivery Charges", AmountCents: delivery, Quantity: 1})
	}

	var out sessionResp
	err := g.c.do(ctx, "create_session", http.MethodPost, "/v1/checkout/sessions", sessionReq{
		Mode:              "payment",
		Currency:          o.Currency,
		LineItems:         lines,
		SuccessURL:        urls.Success,
		CancelURL:         urls.Cancel,
		ClientReferenceID: o.ID,
		Metadata:          map[string]string{"order_id": o.ID, "user_id": o.BuyerID},
	}, &out)
	if err != nil {
		return Session{}, err
	}
	if out.ID == "" || out.URL == "" {
		return Session{}, &GatewayError{Gateway: "hosted_a", Op: "create_session", Err: fmt.Errorf("session without id or url")}
	}
	return Session{Ref: out.ID, URL: out.URL}, nil
}

func (g *HostedA) Verify(ctx context.Context, cb Callback) (Verification, error) {
	if cb.Ref == "" {
		return Verification{}, &orders.ValidationError{Field: "gateway_ref", Reason: "is required"}
	}
	var s sessionResp
	if err := g.c.do(ctx, "get_session", http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(cb.Ref), nil, &s); err != nil {
		return Verification{}, err
	}
	orderID := s.Metadata["order_id"]
	if orderID == "" {
		orderID = s.ClientReferenceID
	}
	if cb.OrderID != "" && orderID != cb.OrderID {
		return Verification{}, &orders.ValidationError{Field: "order_id", Reason: "does not belong to this checkout session"}
	}

	v := Verification{OrderID: orderID, Ref: s.ID, AmountCents: s.AmountTotal, Outcome: Pending}
	switch {
	case s.PaymentStatus == "paid":
		v.Outcome = Confirmed
	case s.Status == "expired", cb.Abandoned:
		v.Outcome = Failed
	}
	return v, nil
}

type hostedAEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object sessionResp `json:"object"`
	} `json:"data"`
}

// ParseWebhook checks X-Signature ("t=<unix>,v1=<hex>") and extracts the session.
func (g *HostedA) ParseWebhook(h http.Header, body []byte) (Callback, error) {
	if err := g.checkSignature(h.Get("X-Signature"), body); err != nil {
		return Callback{}, err
	}
	var ev hostedAEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Callback{}, &orders.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	cb := Callback{
		OrderID: ev.Data.Object.Metadata["order_id"],
		Ref:     ev.Data.Object.ID,
		EventID: ev.ID,
	}
	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.expired":
	case "checkout.session.async_payment_failed":
		cb.Abandoned = true
	default:
		return Callback{}, ErrIgnoredEvent
	}
	return cb, nil
}

func (g *HostedA) checkSignature(header string, body []byte) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if age := g.now().Sub(time.Unix(unix, 0)); g.Tolerance > 0 && (age > g.Tolerance || age < -g.Tolerance) {
		return ErrBadSignature
	}
	want := signHex(g.webhookSecret, []byte(ts+"."), body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// signHex is hex(hmac-sha256(secret, parts...)).
func signHex(secret string, parts ...[]byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		m.Write(p)
	}
	return hex.EncodeToString(m.Sum(nil))
}
