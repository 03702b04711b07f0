package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"io"
	"net/http"
	"time"
)

type Outcome string

const (
	Confirmed Outcome = "confirmed"
	Failed    Outcome = "failed"
	Pending   Outcome = "pending"

	// NeedsReconciliation: the money moved but the order could not take the stock.
	NeedsReconciliation Outcome = "needs_reconciliation"
)

// Session is the hosted page a buyer is sent to.
type Session struct {
	Ref string
	URL string
}

type ReturnURLs struct {
	Success string
	Cancel  string
}

// Callback is what a redirect or webhook tells us about a payment. Nothing
// in it is trusted until Verify asks the gateway.
type Callback struct {
	OrderID   string
	Ref       string
	EventID   string
	Abandoned bool
}

type Verification struct {
	OrderID     string
	Ref         string
	Outcome     Outcome
	AmountCents int64
}

// Gateway is one hosted checkout provider.
type Gateway interface {
	Method() orders.PaymentMethod
	CreateCheckoutSession(ctx context.Context, o *orders.Order, urls ReturnURLs) (Session, error)
	Verify(ctx context.Context, cb Callback) (Verification, error)
	ParseWebhook(h http.Header, body []byte) (Callback, error)
}

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	// ErrIgnoredEvent marks webhook events that carry no payment outcome.
	ErrIgnoredEvent = errors.New("webhook event ignored")
)

// GatewayError wraps transport failures and non-2xx answers. It matches orders.ErrGateway.
type GatewayError struct {
	Gateway    string
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Gateway, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == orders.ErrGateway }

// client is the JSON-over-HTTP plumbing shared by the gateway adapters.
type client struct {
	name    string
	baseURL string
	http    *http.Client
	auth    func(*http.Request)
}

func newClient(name, baseURL string, timeout time.Duration, auth func(*http.Request)) client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return client{name: name, baseURL: baseURL, http: &http.Client{Timeout: timeout}, auth: auth}
}

func (c client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &GatewayError{Gateway: c.name, Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Gateway: c.name, Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Gateway: c.name, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{Gateway: c.name, Op: op, StatusCode: resp.StatusCode, Err: errors.New(string(bytes.TrimSpace(raw)))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Gateway: c.name, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
