package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

type ProductsHandler struct {
	Products ProductLister
	Ledger   stock.Ledger
	Cache    CacheInvalidator // optional
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.With(Authenticate, RequireAdmin).Post("/products/{id}/restock", h.restock)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "products": ps})
}

// restock adds units through the ledger so it races safely with checkouts.
func (h *ProductsHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	n, err := h.Ledger.Release(r.Context(), id, req.Quantity)
	switch {
	case errors.Is(err, stock.ErrInvalidQuantity):
		writeError(w, r, &orders.ValidationError{Field: "quantity", Reason: "must be positive"})
		return
	case errors.Is(err, stock.ErrUnknownProduct):
		writeFail(w, http.StatusNotFound, "Product not found", "ProductNotFound")
		return
	case err != nil:
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(r.Context(), id); err != nil {
			logging.FromContext(r.Context()).Warn("catalog cache invalidate failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"product_id":   id,
		"stock":        n,
		"availability": stock.Availability(n),
	})
}
