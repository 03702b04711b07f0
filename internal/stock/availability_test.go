package stock

import (
	"errors"
	"testing"
)

func TestAvailability(t *testing.T) {
	cases := []struct {
		stock int
		want  string
	}{
		{0, OutOfStock},
		{-1, OutOfStock},
		{1, LowStock},
		{10, LowStock},
		{11, Available},
		{500, Available},
	}
	for _, c := range cases {
		if got := Availability(c.stock); got != c.want {
			t.Fatalf("Availability(%d) = %q, want %q", c.stock, got, c.want)
		}
	}
}

func TestInsufficientStockError(t *testing.T) {
	err := error(&InsufficientStockError{ProductID: "p1", Name: "Linen Shirt", Requested: 3, Available: 1})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock in chain")
	}
	var ise *InsufficientStockError
	if !errors.As(err, &ise) || ise.ProductID != "p1" {
		t.Fatalf("expected typed error, got %v", err)
	}
	if got := err.Error(); got != "insufficient stock for Linen Shirt (p1): requested 3, available 1" {
		t.Fatalf("message %q", got)
	}
}
