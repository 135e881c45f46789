// Package modelpayment provides types exchanged with payment gateways.
package modelpayment

const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// PaymentState is the provider-side state of an order.
type PaymentState int

const (
	StatePending PaymentState = iota
	StateCaptured
	StateFailed
)

func (s PaymentState) String() string {
	switch s {
	case StateCaptured:
		return "captured"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// EventKind classifies a verified webhook event.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventCaptured
	EventFailed
)

type (
	// OrderRequest describes a provider order to be created. Amount is in minor currency units.
	OrderRequest struct {
		UserID   string
		Credits  int64
		Amount   int64
		Currency string
		Receipt  string
	}
	// ProviderOrder is the provider's answer to an order request.
	ProviderOrder struct {
		ID          string
		Provider    string
		Amount      int64
		Currency    string
		CheckoutURL string
		KeyID       string
	}
	ProviderStatus struct {
		State     PaymentState
		PaymentID string
	}
	// Event is a provider webhook reduced to what settlement needs.
	Event struct {
		Kind      EventKind
		Type      string
		OrderID   string
		PaymentID string
	}
)

// Razorpay wire types.
type (
	RazorpayOrder struct {
		ID       string            `json:"id"`
		Entity   string            `json:"entity"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Receipt  string            `json:"receipt"`
		Status   string            `json:"status"`
		Notes    map[string]string `json:"notes,omitempty"`
	}
	RazorpayOrderRequest struct {
		Amount         int64             `json:"amount"`
		Currency       string            `json:"currency"`
		Receipt        string            `json:"receipt"`
		PaymentCapture bool              `json:"payment_capture"`
		Notes          map[string]string `json:"notes,omitempty"`
	}
	RazorpayPayment struct {
		ID       string `json:"id"`
		Entity   string `json:"entity"`
		OrderID  string `json:"order_id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	RazorpayPayments struct {
		Count int               `json:"count"`
		Items []RazorpayPayment `json:"items"`
	}
	RazorpayWebhook struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity RazorpayPayment `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity RazorpayOrder `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	RazorpayError struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
)

// Stripe wire types.
type (
	StripeCheckoutSession struct {
		ID            string            `json:"id"`
		Object        string            `json:"object"`
		URL           string            `json:"url"`
		Status        string            `json:"status"`
		PaymentStatus string            `json:"payment_status"`
		PaymentIntent string            `json:"payment_intent"`
		AmountTotal   int64             `json:"amount_total"`
		Currency      string            `json:"currency"`
		Metadata      map[string]string `json:"metadata"`
	}
	StripeEvent struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object StripeCheckoutSession `json:"object"`
		} `json:"data"`
	}
	StripeError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
)
