// Package verifier provides HMAC-SHA256 signature checks for payment gateway callbacks.
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Scheme selects the payload a signature is computed over.
type Scheme int

const (
	// SchemeOrder signs orderId|paymentId, as relayed by the in-page checkout widget.
	SchemeOrder Scheme = iota
	// SchemeWebhook signs the raw webhook body.
	SchemeWebhook
	// SchemeStripe signs "<t>.<body>" and ships the result in a "t=...,v1=..." header.
	SchemeStripe
)

const DefaultTolerance = 300 * time.Second

// SignatureVerifier validates signatures. The zero value is usable and applies DefaultTolerance.
type SignatureVerifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier initializes a verifier with the given Stripe timestamp tolerance.
func NewVerifier(tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{tolerance: tolerance, now: time.Now}
}

// Verify reports whether signature matches payload under secret. It fails closed on any missing input.
func (v *SignatureVerifier) Verify(payload []byte, signature, secret string, scheme Scheme) bool {
	if signature == "" || secret == "" {
		return false
	}
	switch scheme {
	case SchemeOrder, SchemeWebhook:
		return equalHex(signature, computeHMAC(secret, payload))
	case SchemeStripe:
		return v.verifyStripe(payload, signature, secret)
	default:
		return false
	}
}

func (v *SignatureVerifier) verifyStripe(body []byte, header, secret string) bool {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	tolerance := v.tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	age := now().Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return false
	}
	expected := computeHMAC(secret, stripePayload(timestamp, body))
	matched := false
	for _, candidate := range candidates {
		if equalHex(candidate, expected) {
			matched = true
		}
	}
	return matched
}

// OrderPayload builds the SchemeOrder message for an order and payment pair.
func OrderPayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

// SignOrder returns the hex SchemeOrder signature.
func SignOrder(orderID, paymentID, secret string) string {
	return hex.EncodeToString(computeHMAC(secret, OrderPayload(orderID, paymentID)))
}

// SignWebhook returns the hex SchemeWebhook signature of body.
func SignWebhook(body []byte, secret string) string {
	return hex.EncodeToString(computeHMAC(secret, body))
}

// SignStripe returns a Stripe-Signature header value for body signed at t.
func SignStripe(body []byte, secret string, t time.Time) string {
	timestamp := strconv.FormatInt(t.Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(computeHMAC(secret, stripePayload(timestamp, body)))
}

func stripePayload(timestamp string, body []byte) []byte {
	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	return append(payload, body...)
}

func computeHMAC(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func equalHex(signature string, expected []byte) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}
