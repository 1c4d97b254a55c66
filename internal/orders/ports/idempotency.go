package ports

import (
	"context"
	"errors"
)

// ErrReservationLost is returned by Complete when the key is no longer held by the caller.
var ErrReservationLost = errors.New("idempotency key is no longer reserved")

// StoredResponse contains the response data to replay for a reused key.
type StoredResponse struct {
	StatusCode int
	Body       []byte
	OrderID    string
}

// IdempotencyStore lets clients retry order creation safely. Keys are scoped per user,
// so two users may reuse the same key without colliding.
type IdempotencyStore interface {
	// Reserve claims the key before the request runs. When reserved is false the key is
	// taken: a non-nil response means it completed, nil means another request holds it.
	Reserve(ctx context.Context, userID, key string) (response *StoredResponse, reserved bool, err error)
	// Complete stores the response for a key reserved by the caller.
	Complete(ctx context.Context, userID, key string, response StoredResponse) error
	// Release drops an uncompleted reservation so the key can be used again.
	Release(ctx context.Context, userID, key string) error
}
