package settlement

import (
	"net/http"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
)

// Adapter turns a provider webhook into a verified Event.
type Adapter interface {
	Provider() string
	ParseWebhook(body []byte, headers http.Header) (*modelpayment.Event, error)
}

// OrderConfirmer verifies client-relayed order confirmations.
type OrderConfirmer interface {
	VerifyOrder(orderID, paymentID, signature string) bool
}
