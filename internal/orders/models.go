package orders

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentHostedA PaymentMethod = "hosted_a"
	PaymentHostedB PaymentMethod = "hosted_b"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentHostedA, PaymentHostedB:
		return true
	}
	return false
}

// Hosted reports whether the buyer pays on an external gateway page.
func (m PaymentMethod) Hosted() bool { return m == PaymentHostedA || m == PaymentHostedB }

// LineItem is frozen at purchase time; catalog changes never reach it.
type LineItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Size           string `json:"size,omitempty"`
	Quantity       int    `json:"quantity"`
}

func (li LineItem) SubtotalCents() int64 { return li.UnitPriceCents * int64(li.Quantity) }

type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Zipcode   string `json:"zipcode,omitempty"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

func (a Address) Validate() error {
	required := []struct{ field, value string }{
		{"address.first_name", a.FirstName},
		{"address.last_name", a.LastName},
		{"address.email", a.Email},
		{"address.street", a.Street},
		{"address.city", a.City},
		{"address.country", a.Country},
		{"address.phone", a.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "is required"}
		}
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return &ValidationError{Field: "address.email", Reason: "is not a valid email"}
	}
	return nil
}

type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type Order struct {
	ID                  string         `json:"id"`
	BuyerID             string         `json:"buyer_id"`
	Items               []LineItem     `json:"items"`
	Address             Address        `json:"address"`
	AmountCents         int64          `json:"amount_cents"`
	Currency            string         `json:"currency"`
	PaymentMethod       PaymentMethod  `json:"payment_method"`
	PaymentConfirmed    bool           `json:"payment_confirmed"`
	GatewayRef          string         `json:"gateway_ref,omitempty"`
	Status              Status         `json:"status"`
	CancellationReason  string         `json:"cancellation_reason,omitempty"`
	ReturnReason        string         `json:"return_reason,omitempty"`
	ReconciliationError string         `json:"reconciliation_error,omitempty"`
	StockApplied        bool           `json:"stock_applied"`
	StockReleased       bool           `json:"stock_released"`
	History             []StatusChange `json:"status_history"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ShortID is the prefix shown to buyers in notifications.
func (o *Order) ShortID() string {
	if len(o.ID) > 8 {
		return o.ID[:8]
	}
	return o.ID
}

// EnteredAt returns when the order last moved into s.
func (o *Order) EnteredAt(s Status) (time.Time, bool) {
	for i := len(o.History) - 1; i >= 0; i-- {
		if o.History[i].Status == s {
			return o.History[i].At, true
		}
	}
	return time.Time{}, false
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	cp.History = append([]StatusChange(nil), o.History...)
	return &cp
}

func (o *Order) moveTo(s Status, at time.Time, note string) {
	o.Status = s
	o.UpdatedAt = at
	o.History = append(o.History, StatusChange{Status: s, At: at, Note: note})
}

func totalCents(items []LineItem, delivery int64) int64 {
	var sum int64
	for _, li := range items {
		sum += li.SubtotalCents()
	}
	return sum + delivery
}

// StatusMessage is the text sent to the buyer when their order changes.
func StatusMessage(o *Order, label string) string {
	return fmt.Sprintf("Your order #%s is now: %s", o.ShortID(), label)
}
