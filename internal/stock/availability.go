package stock

// Availability labels shown on the storefront, derived from the stock count.
const (
	OutOfStock = "Out of Stock"
	LowStock   = "Low Stock"
	Available  = "Available"

	LowStockThreshold = 10
)

func Availability(stock int) string {
	switch {
	case stock <= 0:
		return OutOfStock
	case stock <= LowStockThreshold:
		return LowStock
	default:
		return Available
	}
}
