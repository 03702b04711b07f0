package httpx

import (
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/go-chi/chi/v5"
	"io"
	"net/http"
	"strings"
)

// PaymentsHandler receives gateway webhooks. Gateways authenticate by
// signature, not by the session headers.
type PaymentsHandler struct {
	Payments *payment.Reconciler
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/{gateway}/webhook", h.webhook)
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	method := orders.PaymentMethod(strings.ReplaceAll(chi.URLParam(r, "gateway"), "-", "_"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, &orders.ValidationError{Field: "body", Reason: "could not be read"})
		return
	}
	if err := h.Payments.HandleWebhook(r.Context(), method, r.Header, body); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
