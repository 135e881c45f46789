package verifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const secret = "whsec_test"

func flipByte(signature string) string {
	b := []byte(signature)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	return string(b)
}

func TestSignatureVerifier_Verify(t *testing.T) {
	v := NewVerifier(DefaultTolerance)
	body := []byte(`{"event":"payment.captured"}`)
	orderSig := SignOrder("order_1", "pay_1", secret)
	webhookSig := SignWebhook(body, secret)

	var tests = []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		scheme    Scheme
		want      bool
	}{
		{name: "order signature", payload: OrderPayload("order_1", "pay_1"), signature: orderSig, secret: secret, scheme: SchemeOrder, want: true},
		{name: "order signature other payment", payload: OrderPayload("order_1", "pay_2"), signature: orderSig, secret: secret, scheme: SchemeOrder},
		{name: "order signature flipped byte", payload: OrderPayload("order_1", "pay_1"), signature: flipByte(orderSig), secret: secret, scheme: SchemeOrder},
		{name: "webhook signature", payload: body, signature: webhookSig, secret: secret, scheme: SchemeWebhook, want: true},
		{name: "webhook tampered body", payload: []byte(`{"event":"payment.failed"}`), signature: webhookSig, secret: secret, scheme: SchemeWebhook},
		{name: "wrong secret", payload: body, signature: webhookSig, secret: "other", scheme: SchemeWebhook},
		{name: "empty signature", payload: body, signature: "", secret: secret, scheme: SchemeWebhook},
		{name: "empty secret", payload: body, signature: webhookSig, secret: "", scheme: SchemeWebhook},
		{name: "not hex", payload: body, signature: "zz", secret: secret, scheme: SchemeWebhook},
		{name: "unknown scheme", payload: body, signature: webhookSig, secret: secret, scheme: Scheme(42)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, v.Verify(tt.payload, tt.signature, tt.secret, tt.scheme))
		})
	}
}

func TestSignatureVerifier_VerifyStripe(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	v := &SignatureVerifier{tolerance: 5 * time.Minute, now: func() time.Time { return now }}
	body := []byte(`{"type":"checkout.session.completed"}`)

	var tests = []struct {
		name   string
		header string
		want   bool
	}{
		{name: "fresh signature", header: SignStripe(body, secret, now.Add(-time.Minute)), want: true},
		{name: "expired signature", header: SignStripe(body, secret, now.Add(-10*time.Minute))},
		{name: "future signature", header: SignStripe(body, secret, now.Add(10*time.Minute))},
		{name: "second v1 matches", header: "v1=deadbeef," + SignStripe(body, secret, now), want: true},
		{name: "missing timestamp", header: "v1=deadbeef"},
		{name: "garbage", header: "nonsense"},
		{name: "wrong secret", header: SignStripe(body, "other", now)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, v.Verify(body, tt.header, secret, SchemeStripe))
		})
	}
}
