package settlement

import (
	"encoding/json"
	"net/http"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1"
	verifierScheme "github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1/verifier"
)

const RazorpaySignatureHeader = "X-Razorpay-Signature"

// RazorpayAdapter verifies Razorpay webhooks and checkout widget callbacks.
type RazorpayAdapter struct {
	verifier      verifier.Verifier
	keySecret     string
	webhookSecret string
}

func NewRazorpayAdapter(v verifier.Verifier, keySecret, webhookSecret string) *RazorpayAdapter {
	return &RazorpayAdapter{verifier: v, keySecret: keySecret, webhookSecret: webhookSecret}
}

func (a *RazorpayAdapter) Provider() string {
	return modelpayment.ProviderRazorpay
}

// VerifyOrder checks the orderId|paymentId signature returned by the checkout widget.
func (a *RazorpayAdapter) VerifyOrder(orderID, paymentID, signature string) bool {
	return a.verifier.Verify(verifierScheme.OrderPayload(orderID, paymentID), signature, a.keySecret, verifierScheme.SchemeOrder)
}

func (a *RazorpayAdapter) ParseWebhook(body []byte, headers http.Header) (*modelpayment.Event, error) {
	if !a.verifier.Verify(body, headers.Get(RazorpaySignatureHeader), a.webhookSecret, verifierScheme.SchemeWebhook) {
		return nil, &serviceErrors.ServiceSignatureError{Provider: modelpayment.ProviderRazorpay}
	}
	var webhook modelpayment.RazorpayWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		return nil, &serviceErrors.ServiceValidationError{Msg: "malformed razorpay webhook: " + err.Error()}
	}
	payment := webhook.Payload.Payment.Entity
	event := &modelpayment.Event{Type: webhook.Event, OrderID: payment.OrderID, PaymentID: payment.ID}
	switch webhook.Event {
	case "payment.captured":
		event.Kind = modelpayment.EventCaptured
	case "order.paid":
		event.Kind = modelpayment.EventCaptured
		if event.OrderID == "" {
			event.OrderID = webhook.Payload.Order.Entity.ID
		}
	case "payment.failed":
		event.Kind = modelpayment.EventFailed
	default:
		event.Kind = modelpayment.EventIgnored
		return event, nil
	}
	if event.OrderID == "" {
		return nil, &serviceErrors.ServiceValidationError{Msg: "razorpay webhook " + webhook.Event + " carries no order id"}
	}
	return event, nil
}
