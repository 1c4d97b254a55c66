package domain

import (
	"slices"
	"strings"
	"time"
)

// OrderStatus captures the fulfilment lifecycle of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipping   OrderStatus = "SHIPPING"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefunded   OrderStatus = "REFUNDED"
)

// PaymentStatus captures the settlement state of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipping, StatusCancelled},
	StatusShipping:   {StatusDelivered, StatusCancelled},
	StatusDelivered:  {StatusRefunded},
}

// ParseOrderStatus normalizes s and reports whether it names a known status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipping,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return status, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransitionTo reports whether the table allows moving from s to target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return slices.Contains(orderTransitions[s], target)
}

// TransitionTo moves the order to target and applies the payment side of the move.
// The order is left untouched when the move is not allowed. An unpaid order settled by
// the provider callback is only confirmed by that callback.
func (o *Order) TransitionTo(target OrderStatus, reason string, now time.Time) error {
	if o.Status.IsTerminal() {
		return &InvalidTransitionError{From: o.Status, To: target, Reason: "order is final"}
	}
	if !o.Status.CanTransitionTo(target) {
		return &InvalidTransitionError{From: o.Status, To: target}
	}
	if target == StatusConfirmed && !o.PaymentMethod.SettlesImmediately() && o.PaymentStatus != PaymentPaid {
		return &InvalidTransitionError{From: o.Status, To: target, Reason: "awaiting payment confirmation"}
	}

	o.Status = target
	o.UpdatedAt = now

	switch target {
	case StatusDelivered:
		// collect-on-delivery settles here
		if o.PaymentStatus != PaymentPaid {
			o.PaymentStatus = PaymentPaid
			if o.PaidAt == nil {
				t := now
				o.PaidAt = &t
			}
		}
	case StatusRefunded:
		o.PaymentStatus = PaymentRefunded
	case StatusCancelled:
		o.CancelReason = strings.TrimSpace(reason)
		t := now
		o.CancelledAt = &t
	}

	return nil
}
