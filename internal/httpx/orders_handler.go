package httpx

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type CartSource interface {
	Get(ctx context.Context, userID string) ([]redisx.CartEntry, error)
}

type IdempotencyStore interface {
	Claim(ctx context.Context, buyerID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, buyerID, key, orderID string) error
	Release(ctx context.Context, buyerID, key string) error
}

type OrdersHandler struct {
	Orders   *orders.Engine
	Payments *payment.Reconciler
	Catalog  catalog.Lookup
	Carts    CartSource       // optional, used when the request carries no items
	Idem     IdempotencyStore // optional
}

type CreateOrderReq struct {
	Items         []cart.Entry         `json:"items"`
	Address       orders.Address       `json:"address"`
	PaymentMethod orders.PaymentMethod `json:"payment_method"`
}

type CreateOrderResp struct {
	Success    bool          `json:"success"`
	Order      *orders.Order `json:"order"`
	SessionURL string        `json:"session_url,omitempty"`
	Idempotent bool          `json:"idempotent"`
}

type orderResp struct {
	Success bool          `json:"success"`
	Order   *orders.Order `json:"order"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Authenticate)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/mine", h.listMine)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/confirm-payment", h.confirmPayment)
		r.Post("/orders/{id}/verify", h.verify)
		r.Post("/orders/{id}/fail-payment", h.failPayment)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Post("/orders/{id}/return", h.requestReturn)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/orders", h.listAll)
			r.Post("/orders/{id}/status", h.updateStatus)
		})
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	log := logging.FromContext(ctx)

	entries := req.Items
	if len(entries) == 0 && h.Carts != nil {
		stored, err := h.Carts.Get(ctx, actor.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, e := range stored {
			entries = append(entries, cart.Entry{ProductID: e.ProductID, Size: e.Size, Quantity: e.Quantity})
		}
	}
	if len(entries) == 0 {
		writeError(w, r, &orders.ValidationError{Field: "items", Reason: "cart is empty"})
		return
	}

	// Idempotency-Key replays return the order of the first request
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.Idem != nil {
		prev, claimed, err := h.Idem.Claim(ctx, actor.UserID, idemKey)
		switch {
		case err != nil:
			log.Warn("idempotency claim failed, continuing without it", zap.Error(err))
			idemKey = ""
		case !claimed && prev == "":
			writeFail(w, http.StatusConflict, "A request with this Idempotency-Key is still in progress", "RequestInProgress")
			return
		case !claimed:
			o, err := h.Orders.GetOrder(ctx, prev, actor)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, CreateOrderResp{Success: true, Order: o, Idempotent: true})
			return
		}
	}
	release := func() {
		if idemKey == "" || h.Idem == nil {
			return
		}
		if err := h.Idem.Release(context.WithoutCancel(ctx), actor.UserID, idemKey); err != nil {
			log.Warn("idempotency release failed", zap.Error(err))
		}
	}

	items, err := cart.Collect(cart.BuildLineItems(ctx, entries, h.Catalog))
	if err != nil {
		release()
		writeError(w, r, err)
		return
	}
	placed, err := h.Payments.PlaceOrder(ctx, orders.CreateOrderInput{
		BuyerID:       actor.UserID,
		Items:         items,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		release()
		writeError(w, r, err)
		return
	}
	if idemKey != "" && h.Idem != nil {
		if err := h.Idem.Complete(ctx, actor.UserID, idemKey, placed.Order.ID); err != nil {
			log.Warn("idempotency complete failed", zap.String("order_id", placed.Order.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{Success: true, Order: placed.Order, SessionURL: placed.SessionURL})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp{Success: true, Order: o})
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	h.list(w, r, orders.Buyer(actor.UserID))
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	h.list(w, r, actor)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request, actor orders.Actor) {
	var f orders.ListFilter
	if s := r.URL.Query().Get("status"); s != "" {
		st, ok := orders.ParseStatus(s)
		if !ok {
			writeError(w, r, &orders.ValidationError{Field: "status", Reason: "is not a known status"})
			return
		}
		f.Status = st
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, r, &orders.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		f.Limit = n
	}
	list, err := h.Orders.ListOrders(r.Context(), actor, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": list})
}

// confirmPayment is the buyer's success redirect. The gateway is asked
// before anything is confirmed.
func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	h.settleRedirect(w, r, true)
}

func (h *OrdersHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success bool `json:"success"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.settleRedirect(w, r, req.Success)
}

func (h *OrdersHandler) failPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	if !actor.IsAdmin() {
		h.settleRedirect(w, r, false)
		return
	}
	deleted, err := h.Orders.FailPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

func (h *OrdersHandler) settleRedirect(w http.ResponseWriter, r *http.Request, success bool) {
	actor, _ := actorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.VerifyRedirect(ctx, chi.URLParam(r, "id"), actor, success)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch res.Outcome {
	case payment.Confirmed:
		writeJSON(w, http.StatusOK, orderResp{Success: true, Order: res.Order})
	case payment.NeedsReconciliation:
		writeFail(w, http.StatusConflict, "This item just went out of stock", "InsufficientStock")
	case payment.Failed:
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Payment was not completed, the order was cancelled", "code": "PaymentFailed"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"success": false, "message": "Payment is still pending", "code": "PaymentPending", "order": res.Order})
	}
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req reasonReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp{Success: true, Order: o})
}

func (h *OrdersHandler) requestReturn(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req reasonReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.RequestReturn(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp{Success: true, Order: o})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	target, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, &orders.ValidationError{Field: "status", Reason: "is not a known status"})
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), target, req.Reason, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp{Success: true, Order: o})
}
