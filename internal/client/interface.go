// Package client defines the payment gateway contract used by checkout and reconciliation.
package client

import (
	"context"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
)

// Gateway creates provider-side orders and reports their payment state.
type Gateway interface {
	Provider() string
	CreateOrder(ctx context.Context, req modelpayment.OrderRequest) (*modelpayment.ProviderOrder, error)
	FetchStatus(ctx context.Context, orderID string) (*modelpayment.ProviderStatus, error)
}
