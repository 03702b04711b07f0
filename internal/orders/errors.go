package orders

import (
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
)

var (
	ErrInsufficientStock = stock.ErrInsufficientStock
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrGateway           = errors.New("payment gateway error")
	ErrValidation        = errors.New("validation failed")
)

type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + " " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ErrorCode names the error kind for API bodies and metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientStock):
		return "InsufficientStock"
	case errors.Is(err, ErrOrderNotFound):
		return "OrderNotFound"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrGateway):
		return "GatewayError"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	default:
		return "InternalError"
	}
}
