package settlement

import (
	"context"
	"net/http"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
)

// Settler applies confirmed payments to orders and the credit ledger.
type Settler interface {
	Webhook(ctx context.Context, provider string, body []byte, headers http.Header) (*modelpayment.Event, error)
	Confirm(ctx context.Context, orderID, paymentID, signature string) error
	Settle(ctx context.Context, provider, orderID, paymentID string) (bool, error)
	Fail(ctx context.Context, provider, orderID string) (bool, error)
}
