package ports

import (
	"context"
	"net/url"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// PaymentGateway is the boundary to the hosted payment provider.
type PaymentGateway interface {
	CreateRedirectURL(ctx context.Context, req domain.PaymentRequest) (string, error)
	// VerifyCallback checks the provider signature and normalizes the parameters.
	// A bad signature yields domain.ErrInvalidSignature.
	VerifyCallback(ctx context.Context, params url.Values) (domain.PaymentCallback, error)
}
