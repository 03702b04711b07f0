package orders

import "strings"

// Status values are the labels buyers and admins see.
type Status string

const (
	StatusPendingPayment Status = "Pending Payment"
	StatusOrderPlaced    Status = "Order Placed"
	StatusProcessing     Status = "Processing"
	StatusPacked         Status = "Packed"
	StatusReadyForPickup Status = "Ready for Pickup"
	StatusPickedUp       Status = "Picked Up"
	StatusInTransit      Status = "In Transit"
	StatusOutForDelivery Status = "Out for Delivery"
	StatusDelivered      Status = "Delivered"
	StatusCancelled      Status = "Cancelled"

	StatusReturnRequested Status = "Return Requested"
	StatusReturnApproved  Status = "Return Approved"
	StatusReturnRejected  Status = "Return Rejected"

	// Payment was captured but stock could not be committed. Needs an operator.
	StatusReconciliationRequired Status = "Reconciliation Required"
)

var allStatuses = []Status{
	StatusPendingPayment, StatusOrderPlaced, StatusProcessing, StatusPacked,
	StatusReadyForPickup, StatusPickedUp, StatusInTransit, StatusOutForDelivery,
	StatusDelivered, StatusCancelled, StatusReturnRequested, StatusReturnApproved,
	StatusReturnRejected, StatusReconciliationRequired,
}

// nextFulfillment is the single forward step an admin may take from each state.
var nextFulfillment = map[Status]Status{
	StatusOrderPlaced:    StatusProcessing,
	StatusProcessing:     StatusPacked,
	StatusPacked:         StatusReadyForPickup,
	StatusReadyForPickup: StatusPickedUp,
	StatusPickedUp:       StatusInTransit,
	StatusInTransit:      StatusOutForDelivery,
	StatusOutForDelivery: StatusDelivered,
}

var validNext = func() map[Status]map[Status]bool {
	m := map[Status]map[Status]bool{
		StatusPendingPayment:  {StatusProcessing: true, StatusCancelled: true, StatusReconciliationRequired: true},
		StatusDelivered:       {StatusReturnRequested: true},
		StatusReturnRequested: {StatusReturnApproved: true, StatusReturnRejected: true},
	}
	for from, to := range nextFulfillment {
		m[from] = map[Status]bool{to: true, StatusCancelled: true}
	}
	return m
}()

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// NextFulfillment returns the state that follows s in the shipping sequence.
func NextFulfillment(s Status) (Status, bool) {
	n, ok := nextFulfillment[s]
	return n, ok
}

// IsTerminal reports whether no further fulfillment or cancellation is possible.
// Delivered is terminal but still accepts a return request.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturnApproved, StatusReturnRejected, StatusReconciliationRequired:
		return true
	}
	return false
}

// dispatched states: goods have left the warehouse.
func (s Status) dispatched() bool {
	switch s {
	case StatusPickedUp, StatusInTransit, StatusOutForDelivery:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts either the label ("Out for Delivery") or the
// identifier form ("OutForDelivery", "out_for_delivery").
func ParseStatus(s string) (Status, bool) {
	want := normalize(s)
	if want == "" {
		return "", false
	}
	for _, v := range allStatuses {
		if normalize(string(v)) == want {
			return v, true
		}
	}
	return "", false
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
