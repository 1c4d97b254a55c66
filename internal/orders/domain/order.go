package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod selects when an order is considered settled.
type PaymentMethod string

const (
	// PaymentCOD is cash on delivery, settled at creation time.
	PaymentCOD PaymentMethod = "COD"
	// PaymentVNPay redirects the buyer to VNPay and settles on the provider callback.
	PaymentVNPay PaymentMethod = "VNPAY"
)

// Valid reports whether the method is one the engine knows how to settle.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentVNPay:
		return true
	default:
		return false
	}
}

// SettlesImmediately reports whether stock and cart are committed when the order is placed.
func (m PaymentMethod) SettlesImmediately() bool {
	return m == PaymentCOD
}

// ShippingAddress is the destination copied onto the order at creation time.
// It is never re-synced with the address book.
type ShippingAddress struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	Street        string `json:"street"`
	Ward          string `json:"ward"`
	District      string `json:"district"`
	City          string `json:"city"`
}

// Line renders the address on a single line for notifications and payment descriptions.
func (a ShippingAddress) Line() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.Ward, a.District, a.City} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// LineItem is the immutable snapshot of a cart line taken when the order is created.
type LineItem struct {
	CartLineID   string          `json:"cart_line_id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductImage string          `json:"product_image"`
	Color        string          `json:"color"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Order is the durable record produced from a cart checkout.
type Order struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	UserID           string          `json:"user_id"`
	Shipping         ShippingAddress `json:"shipping"`
	Items            []LineItem      `json:"items"`
	ItemCount        int             `json:"item_count"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	ShippingFee      decimal.Decimal `json:"shipping_fee"`
	Total            decimal.Decimal `json:"total"`
	DiscountCode     string          `json:"discount_code,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Status           OrderStatus     `json:"order_status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	TransactionRef   string          `json:"transaction_ref,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	ShippingProvider string          `json:"shipping_provider,omitempty"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ShippingUpdate carries the optional carrier fields of a shipping update.
// Nil fields are left unchanged.
type ShippingUpdate struct {
	Provider       *string `json:"shipping_provider,omitempty"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u ShippingUpdate) Empty() bool {
	return u.Provider == nil && u.TrackingNumber == nil
}

// Apply copies the set fields onto the order.
func (u ShippingUpdate) Apply(o *Order, now time.Time) {
	if u.Provider != nil {
		o.ShippingProvider = strings.TrimSpace(*u.Provider)
	}
	if u.TrackingNumber != nil {
		o.TrackingNumber = strings.TrimSpace(*u.TrackingNumber)
	}
	o.UpdatedAt = now
}

// Clone returns a copy that shares no mutable state with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return c
}

// OwnedBy reports whether userID placed the order.
func (o Order) OwnedBy(userID string) bool {
	return o.UserID != "" && o.UserID == userID
}

// CartLineIDs lists the cart lines that were converted into this order.
func (o Order) CartLineIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.CartLineID != "" {
			ids = append(ids, item.CartLineID)
		}
	}
	return ids
}

// MarkPaid records a confirmed payment. A pending order is confirmed; an order in any
// other status keeps it.
func (o *Order) MarkPaid(transactionRef string, paidAt time.Time) {
	o.PaymentStatus = PaymentPaid
	o.TransactionRef = transactionRef
	t := paidAt
	o.PaidAt = &t
	if o.Status == StatusPending {
		o.Status = StatusConfirmed
	}
	o.UpdatedAt = paidAt
}

// MarkPaymentFailed records a failed attempt. It reports false when nothing changed,
// which is the case for an already failed or already paid order.
func (o *Order) MarkPaymentFailed(now time.Time) bool {
	if o.PaymentStatus == PaymentFailed || o.PaymentStatus == PaymentPaid {
		return false
	}
	o.PaymentStatus = PaymentFailed
	o.UpdatedAt = now
	return true
}

// Expirable reports whether the auto-cancel job may cancel the order.
func (o Order) Expirable() bool {
	return o.Status == StatusPending && (o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentFailed)
}

// StockVariant is the available quantity of one product colour.
type StockVariant struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Color       string `json:"color"`
	Stock       int    `json:"stock"`
}
