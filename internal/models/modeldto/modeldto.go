// Package modeldto provides request and response bodies of the REST API.
package modeldto

type (
	User struct {
		Login    string `json:"login" validate:"required,notblank"`
		Password string `json:"password" validate:"required,notblank"`
	}
	Credits struct {
		Credits int64 `json:"credits"`
	}
	Order struct {
		OrderID     string `json:"orderId"`
		Provider    string `json:"provider"`
		Credits     int64  `json:"credits"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Status      string `json:"status"`
		CreatedAt   string `json:"createdAt"`
		CompletedAt string `json:"completedAt,omitempty"`
		FailedAt    string `json:"failedAt,omitempty"`
		PaymentID   string `json:"paymentId,omitempty"`
	}
	CheckoutRequest struct {
		CreditQuantity int64 `json:"creditQuantity" validate:"required,gt=0"`
	}
	CheckoutOrder struct {
		ID       string `json:"id"`
		Provider string `json:"provider"`
		Credits  int64  `json:"credits"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		KeyID    string `json:"keyId,omitempty"`
	}
	CheckoutResponse struct {
		CheckoutURL string         `json:"checkoutUrl,omitempty"`
		Order       *CheckoutOrder `json:"order,omitempty"`
	}
	PaymentConfirmation struct {
		OrderID   string `json:"orderId" validate:"required"`
		PaymentID string `json:"paymentId" validate:"required"`
		Signature string `json:"signature" validate:"required"`
	}
	ConfirmResponse struct {
		Verified bool   `json:"verified"`
		Error    string `json:"error,omitempty"`
	}
	WebhookResponse struct {
		Received bool `json:"received"`
	}
	InterviewStartResponse struct {
		Success bool `json:"success"`
	}
	ErrorResponse struct {
		Error string `json:"error"`
	}
)
