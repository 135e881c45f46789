package checkout

import (
	"context"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modeldto"
)

// Checkout opens provider-hosted payments for credit packs.
type Checkout interface {
	CreateCheckout(ctx context.Context, provider, userID string, credits int64) (*modeldto.CheckoutResponse, error)
}
