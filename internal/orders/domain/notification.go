package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationType selects the message the notification service renders.
type NotificationType string

const (
	NotifyOrderConfirmation NotificationType = "order.confirmation"
	NotifyOrderCancellation NotificationType = "order.cancellation"
	NotifyPaymentFailed     NotificationType = "payment.failed"
	NotifyPaymentSuccess    NotificationType = "payment.success"
)

// OrderSnapshot is the subset of an order a notification carries.
type OrderSnapshot struct {
	OrderID       string          `json:"order_id"`
	OrderCode     string          `json:"order_code"`
	UserID        string          `json:"user_id"`
	RecipientName string          `json:"recipient_name"`
	ShippingLine  string          `json:"shipping_line"`
	ItemCount     int             `json:"item_count"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"order_status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
}

// Notification is a fire-and-forget message about an order.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Order      OrderSnapshot    `json:"order"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Snapshot captures the notification view of the order.
func (o Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		OrderID:       o.ID,
		OrderCode:     o.Code,
		UserID:        o.UserID,
		RecipientName: o.Shipping.RecipientName,
		ShippingLine:  o.Shipping.Line(),
		ItemCount:     o.ItemCount,
		Total:         o.Total,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		CancelReason:  o.CancelReason,
	}
}
