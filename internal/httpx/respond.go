package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
	"go.uber.org/zap"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeFail(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, failure{Success: false, Message: msg, Code: code})
}

// writeError maps a domain error to its status code and a buyer-readable message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := orders.ErrorCode(err)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, payment.ErrBadSignature):
		status, code = http.StatusUnauthorized, "BadSignature"
	case code == "ValidationError":
		status = http.StatusBadRequest
	case code == "OrderNotFound":
		status, msg = http.StatusNotFound, "Order not found"
	case code == "InsufficientStock":
		status, msg = http.StatusConflict, "This item just went out of stock"
		var ise *stock.InsufficientStockError
		if errors.As(err, &ise) {
			name := ise.Name
			if name == "" {
				name = ise.ProductID
			}
			msg = fmt.Sprintf("%s just went out of stock (only %d left)", name, ise.Available)
		}
	case code == "InvalidTransition":
		status = http.StatusConflict
	case code == "GatewayError":
		status, msg = http.StatusBadGateway, "Payment provider is unavailable, please try again"
	default:
		msg = "Internal server error"
	}
	if status >= 500 {
		logging.FromContext(r.Context()).Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeFail(w, status, msg, code)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &orders.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	return nil
}
