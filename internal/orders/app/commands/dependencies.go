package commands

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/retry"
)

// Dependencies are the ports shared by the order command handlers.
type Dependencies struct {
	Store     ports.OrderStore
	Stock     ports.StockLedger
	Carts     ports.CartStore
	Addresses ports.AddressBook
	Gateway   ports.PaymentGateway
	Scheduler ports.CancellationScheduler
	Notifier  ports.Notifier
	Logger    *slog.Logger
}

// Options tune the order lifecycle.
type Options struct {
	Pricing         domain.PricingPolicy
	AutoCancelAfter time.Duration
	// AmountTolerance is the largest accepted gap between the paid amount and the total.
	AmountTolerance decimal.Decimal
	Retry           retry.Policy
	Clock           func() time.Time
}

// DefaultOptions returns the storefront defaults.
func DefaultOptions() Options {
	return Options{
		Pricing:         domain.DefaultPricingPolicy(),
		AutoCancelAfter: 24 * time.Hour,
		AmountTolerance: decimal.NewFromInt(1),
		Retry:           retry.DefaultPolicy(),
	}
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock().UTC()
	}
	return time.Now().UTC()
}

func (o Options) autoCancelAfter() time.Duration {
	if o.AutoCancelAfter > 0 {
		return o.AutoCancelAfter
	}
	return 24 * time.Hour
}
