package laborder

import (
	"strconv"
	"strings"
)

// orderTransitions defines valid status transitions for LabOrder.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:             {OrderCollected, OrderCancelled},
	OrderCollected:           {OrderProcessing, OrderCancelled},
	OrderProcessing:          {OrderPendingApproval, OrderCancelled},
	OrderPendingApproval:     {OrderPreliminaryApproved, OrderApproved, OrderProcessing, OrderCancelled},
	OrderPreliminaryApproved: {OrderApproved, OrderPendingApproval, OrderCancelled},
	OrderApproved:            {OrderPendingApproval},
	OrderCancelled:           {},
}

// ValidateTransition checks if an order status transition is legal.
func ValidateTransition(from, to OrderStatus) error {
	allowed, ok := orderTransitions[from]
	if !ok {
		return &TransitionError{From: from, To: to}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// TransitionError names an illegal order status transition.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return "invalid order transition from " + string(e.From) + " to " + string(e.To)
}

// Classify buckets a result value against the item's reference bounds.
// Comparisons are strict: a value sitting exactly on a bound stays inside it.
// Critical bounds win over the normal range; non-numeric values are not
// classified.
func Classify(value string, refLow, refHigh, critLow, critHigh *float64) Classification {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return ClassNone
	}
	switch {
	case critLow != nil && v < *critLow:
		return ClassCriticalLow
	case critHigh != nil && v > *critHigh:
		return ClassCriticalHigh
	case refLow != nil && v < *refLow:
		return ClassLow
	case refHigh != nil && v > *refHigh:
		return ClassHigh
	}
	return ClassNormal
}

// ClassifyItem classifies the item's current value against its own bounds.
func ClassifyItem(item *LabOrderItem) Classification {
	if item.Value == nil {
		return ClassNone
	}
	return Classify(*item.Value, item.RefLow, item.RefHigh, item.CritLow, item.CritHigh)
}
