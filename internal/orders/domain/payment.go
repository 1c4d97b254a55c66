package domain

import "github.com/shopspring/decimal"

// PaymentRequest describes the redirect a buyer follows to pay for an order.
type PaymentRequest struct {
	OrderID   string
	OrderCode string
	Amount    decimal.Decimal
	ClientIP  string
}

// PaymentCallback is a verified, provider-neutral payment notification.
type PaymentCallback struct {
	OrderID       string
	Amount        decimal.Decimal
	ResponseCode  string
	TransactionID string
	BankCode      string
	Success       bool
}

// ReconcileOutcome names what a callback did to the order.
type ReconcileOutcome string

const (
	OutcomePaid        ReconcileOutcome = "paid"
	OutcomeDuplicate   ReconcileOutcome = "duplicate"
	OutcomeFailed      ReconcileOutcome = "failed"
	OutcomeLatePayment ReconcileOutcome = "late_payment"
)

// WithinTolerance reports whether paid matches expected within tolerance.
func WithinTolerance(expected, paid, tolerance decimal.Decimal) bool {
	return expected.Sub(paid).Abs().LessThanOrEqual(tolerance)
}
