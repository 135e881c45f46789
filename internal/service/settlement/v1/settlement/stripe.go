package settlement

import (
	"encoding/json"
	"net/http"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1"
	verifierScheme "github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1/verifier"
)

const StripeSignatureHeader = "Stripe-Signature"

// StripeAdapter verifies Stripe Checkout webhooks.
type StripeAdapter struct {
	verifier      verifier.Verifier
	webhookSecret string
}

func NewStripeAdapter(v verifier.Verifier, webhookSecret string) *StripeAdapter {
	return &StripeAdapter{verifier: v, webhookSecret: webhookSecret}
}

func (a *StripeAdapter) Provider() string {
	return modelpayment.ProviderStripe
}

func (a *StripeAdapter) ParseWebhook(body []byte, headers http.Header) (*modelpayment.Event, error) {
	if !a.verifier.Verify(body, headers.Get(StripeSignatureHeader), a.webhookSecret, verifierScheme.SchemeStripe) {
		return nil, &serviceErrors.ServiceSignatureError{Provider: modelpayment.ProviderStripe}
	}
	var stripeEvent modelpayment.StripeEvent
	if err := json.Unmarshal(body, &stripeEvent); err != nil {
		return nil, &serviceErrors.ServiceValidationError{Msg: "malformed stripe event: " + err.Error()}
	}
	session := stripeEvent.Data.Object
	paymentID := session.PaymentIntent
	if paymentID == "" {
		paymentID = session.ID
	}
	event := &modelpayment.Event{Type: stripeEvent.Type, OrderID: session.ID, PaymentID: paymentID, Kind: modelpayment.EventIgnored}
	switch stripeEvent.Type {
	case "checkout.session.completed":
		// delayed payment methods complete the session before the money arrives
		if session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required" {
			event.Kind = modelpayment.EventCaptured
		}
	case "checkout.session.async_payment_succeeded":
		event.Kind = modelpayment.EventCaptured
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		event.Kind = modelpayment.EventFailed
	}
	if event.Kind != modelpayment.EventIgnored && event.OrderID == "" {
		return nil, &serviceErrors.ServiceValidationError{Msg: "stripe event " + stripeEvent.Type + " carries no session id"}
	}
	return event, nil
}
