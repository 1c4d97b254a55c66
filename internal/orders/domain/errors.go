package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is returned for malformed or stale input; no state is changed.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when an order, address or cart line does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a user acts on another user's order or address.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientStock is returned when a variant cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition is returned when the status table forbids a move.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidSignature is returned for payment callbacks that fail verification.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrAmountMismatch is returned when the paid amount does not match the order total.
	ErrAmountMismatch = errors.New("payment amount mismatch")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientStockError reports the deficient variant and what is left of it.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Color       string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d",
		name, e.Color, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError reports both ends of a rejected move. Reason is set when the
// table allows the move but the order's payment state does not.
type InvalidTransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot transition order from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// AmountMismatchError reports the expected and the paid amounts.
type AmountMismatchError struct {
	Expected decimal.Decimal
	Paid     decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("paid amount %s does not match order total %s", e.Paid.String(), e.Expected.String())
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }
