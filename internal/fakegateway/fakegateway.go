// Package fakegateway provides a local stand-in for the Razorpay and Stripe REST APIs. Payments are completed
// on demand and announced with webhooks signed the way the real providers sign them.
package fakegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1/verifier"
	"github.com/go-chi/chi"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the fake gateway parameters.
type Config struct {
	ServerAddress         string  `env:"RUN_ADDRESS"`
	PublicURL             string  `env:"FAKE_PUBLIC_URL" envDefault:"http://localhost:7070"`
	WebhookBaseURL        string  `env:"WEBHOOK_BASE_URL" envDefault:"http://localhost:8080/api/payments/webhook"`
	RazorpayKeySecret     string  `env:"RAZORPAY_KEY_SECRET" envDefault:"rzp_fake_secret"`
	RazorpayWebhookSecret string  `env:"RAZORPAY_WEBHOOK_SECRET" envDefault:"rzp_fake_webhook_secret"`
	StripeWebhookSecret   string  `env:"STRIPE_WEBHOOK_SECRET" envDefault:"whsec_fake"`
	FailureRate           float64 `env:"FAKE_FAILURE_RATE" envDefault:"0"`
}

// NewConfig reads the configuration from the environment.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type payment struct {
	provider  string
	orderID   string
	paymentID string
	amount    int64
	currency  string
	metadata  map[string]string
	state     modelpayment.PaymentState
	receipt   string
}

// Gateway keeps payments in memory.
type Gateway struct {
	cfg      *Config
	client   *resty.Client
	log      *zerolog.Logger
	mu       sync.Mutex
	payments map[string]*payment
	receipts map[string]string
	random   *rand.Rand
}

// PayResult is returned by the pay endpoint. For Razorpay orders it carries the widget callback
// fields accepted by /api/payments/confirm.
type PayResult struct {
	Provider      string                        `json:"provider"`
	State         string                        `json:"state"`
	Confirmation  *modeldto.PaymentConfirmation `json:"confirmation,omitempty"`
	WebhookStatus int                           `json:"webhookStatus,omitempty"`
}

func New(cfg *Config, log *zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		client:   resty.New().SetTimeout(10 * time.Second),
		log:      log,
		payments: make(map[string]*payment),
		receipts: make(map[string]string),
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Router exposes the provider endpoints used by the API clients plus the pay endpoint.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(g.requireAuth)
		r.Use(g.injectFailures)
		r.Post("/v1/orders", g.HandleRazorpayCreateOrder())
		r.Get("/v1/orders/{orderID}/payments", g.HandleRazorpayPayments())
		r.Post("/v1/checkout/sessions", g.HandleStripeCreateSession())
		r.Get("/v1/checkout/sessions/{sessionID}", g.HandleStripeGetSession())
	})
	r.Post("/fake/pay/{orderID}", g.HandlePay())
	return r
}

func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		fail := g.cfg.FailureRate > g.random.Float64()
		g.mu.Unlock()
		if fail {
			g.log.Info().Str("path", r.URL.Path).Msg("responding with error 500")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:14]
}

// HandleRazorpayCreateOrder mimics POST /v1/orders.
func (g *Gateway) HandleRazorpayCreateOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := ioutil.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, razorpayError(err.Error()))
			return
		}
		var req modelpayment.RazorpayOrderRequest
		if err = json.Unmarshal(b, &req); err != nil || req.Amount <= 0 || req.Currency == "" {
			writeJSON(w, http.StatusBadRequest, razorpayError("amount and currency are required"))
			return
		}
		g.mu.Lock()
		p := &payment{
			provider: modelpayment.ProviderRazorpay,
			orderID:  newID("order_"),
			amount:   req.Amount,
			currency: req.Currency,
			metadata: req.Notes,
			state:    modelpayment.StatePending,
			receipt:  req.Receipt,
		}
		g.payments[p.orderID] = p
		g.mu.Unlock()
		g.log.Info().Str("order_id", p.orderID).Int64("amount", p.amount).Msg("razorpay order created")
		writeJSON(w, http.StatusOK, g.razorpayOrder(p))
	}
}

// HandleRazorpayPayments mimics GET /v1/orders/{id}/payments.
func (g *Gateway) HandleRazorpayPayments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := g.lookup(chi.URLParam(r, "orderID"), modelpayment.ProviderRazorpay)
		if !ok {
			writeJSON(w, http.StatusBadRequest, razorpayError("The id provided does not exist"))
			return
		}
		payments := modelpayment.RazorpayPayments{Items: []modelpayment.RazorpayPayment{}}
		if p.paymentID != "" {
			payments.Items = append(payments.Items, razorpayPayment(&p))
		}
		payments.Count = len(payments.Items)
		writeJSON(w, http.StatusOK, payments)
	}
}

// HandleStripeCreateSession mimics POST /v1/checkout/sessions. Idempotency keys replay the first session.
func (g *Gateway) HandleStripeCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, stripeError(err.Error()))
			return
		}
		amount, err := strconv.ParseInt(r.PostForm.Get("line_items[0][price_data][unit_amount]"), 10, 64)
		currency := r.PostForm.Get("line_items[0][price_data][currency]")
		if err != nil || amount <= 0 || currency == "" {
			writeJSON(w, http.StatusBadRequest, stripeError("line item amount and currency are required"))
			return
		}
		key := r.Header.Get("Idempotency-Key")
		g.mu.Lock()
		if sessionID, ok := g.receipts[key]; ok && key != "" {
			p := g.payments[sessionID]
			g.mu.Unlock()
			writeJSON(w, http.StatusOK, g.stripeSession(p))
			return
		}
		p := &payment{
			provider: modelpayment.ProviderStripe,
			orderID:  newID("cs_test_"),
			amount:   amount,
			currency: currency,
			metadata: map[string]string{
				"userId":  r.PostForm.Get("metadata[userId]"),
				"credits": r.PostForm.Get("metadata[credits]"),
			},
			state:   modelpayment.StatePending,
			receipt: key,
		}
		g.payments[p.orderID] = p
		if key != "" {
			g.receipts[key] = p.orderID
		}
		g.mu.Unlock()
		g.log.Info().Str("order_id", p.orderID).Int64("amount", p.amount).Msg("stripe session created")
		writeJSON(w, http.StatusOK, g.stripeSession(p))
	}
}

// HandleStripeGetSession mimics GET /v1/checkout/sessions/{id}.
func (g *Gateway) HandleStripeGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := g.lookup(chi.URLParam(r, "sessionID"), modelpayment.ProviderStripe)
		if !ok {
			writeJSON(w, http.StatusNotFound, stripeError("No such checkout.session"))
			return
		}
		writeJSON(w, http.StatusOK, g.stripeSession(&p))
	}
}

// HandlePay completes a pending payment with ?outcome=captured (default) or ?outcome=failed and,
// unless ?webhook=0, delivers the signed webhook.
func (g *Gateway) HandlePay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderID")
		state := modelpayment.StateCaptured
		if r.URL.Query().Get("outcome") == "failed" {
			state = modelpayment.StateFailed
		}
		g.mu.Lock()
		p, ok := g.payments[orderID]
		if !ok {
			g.mu.Unlock()
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown order"})
			return
		}
		if p.state != modelpayment.StatePending {
			g.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{"error": "payment already " + p.state.String()})
			return
		}
		p.state = state
		p.paymentID = newID("pay_")
		if p.provider == modelpayment.ProviderStripe {
			p.paymentID = newID("pi_")
		}
		snapshot := *p
		g.mu.Unlock()

		result := PayResult{Provider: snapshot.provider, State: state.String()}
		if snapshot.provider == modelpayment.ProviderRazorpay && state == modelpayment.StateCaptured {
			result.Confirmation = &modeldto.PaymentConfirmation{
				OrderID:   snapshot.orderID,
				PaymentID: snapshot.paymentID,
				Signature: verifier.SignOrder(snapshot.orderID, snapshot.paymentID, g.cfg.RazorpayKeySecret),
			}
		}
		if r.URL.Query().Get("webhook") != "0" {
			status, err := g.sendWebhook(r.Context(), &snapshot)
			if err != nil {
				g.log.Error().Err(err).Str("order_id", orderID).Msg("webhook delivery failed")
			}
			result.WebhookStatus = status
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// sendWebhook posts the provider's notification for p to WebhookBaseURL/{provider}.
func (g *Gateway) sendWebhook(ctx context.Context, p *payment) (int, error) {
	body, header, signature, err := g.webhook(p)
	if err != nil {
		return 0, err
	}
	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(header, signature).
		SetBody(body).
		Post(strings.TrimRight(g.cfg.WebhookBaseURL, "/") + "/" + p.provider)
	if err != nil {
		return 0, err
	}
	g.log.Info().Str("order_id", p.orderID).Int("status", response.StatusCode()).Msg("webhook delivered")
	return response.StatusCode(), nil
}

func (g *Gateway) webhook(p *payment) ([]byte, string, string, error) {
	switch p.provider {
	case modelpayment.ProviderRazorpay:
		var event modelpayment.RazorpayWebhook
		event.Event = "payment.captured"
		if p.state == modelpayment.StateFailed {
			event.Event = "payment.failed"
		}
		event.Payload.Payment.Entity = razorpayPayment(p)
		event.Payload.Order.Entity = g.razorpayOrder(p)
		body, err := json.Marshal(event)
		if err != nil {
			return nil, "", "", err
		}
		return body, "X-Razorpay-Signature", verifier.SignWebhook(body, g.cfg.RazorpayWebhookSecret), nil
	case modelpayment.ProviderStripe:
		var event modelpayment.StripeEvent
		event.ID = newID("evt_")
		event.Type = "checkout.session.completed"
		if p.state == modelpayment.StateFailed {
			event.Type = "checkout.session.expired"
		}
		event.Data.Object = g.stripeSession(p)
		body, err := json.Marshal(event)
		if err != nil {
			return nil, "", "", err
		}
		return body, "Stripe-Signature", verifier.SignStripe(body, g.cfg.StripeWebhookSecret, time.Now()), nil
	default:
		return nil, "", "", fmt.Errorf("no webhook format for provider %q", p.provider)
	}
}

func (g *Gateway) lookup(orderID, provider string) (payment, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[orderID]
	if !ok || p.provider != provider {
		return payment{}, false
	}
	return *p, true
}

func (g *Gateway) razorpayOrder(p *payment) modelpayment.RazorpayOrder {
	status := "created"
	if p.state == modelpayment.StateCaptured {
		status = "paid"
	} else if p.paymentID != "" {
		status = "attempted"
	}
	return modelpayment.RazorpayOrder{
		ID:       p.orderID,
		Entity:   "order",
		Amount:   p.amount,
		Currency: p.currency,
		Receipt:  p.receipt,
		Status:   status,
		Notes:    p.metadata,
	}
}

func razorpayPayment(p *payment) modelpayment.RazorpayPayment {
	return modelpayment.RazorpayPayment{
		ID:       p.paymentID,
		Entity:   "payment",
		OrderID:  p.orderID,
		Status:   p.state.String(),
		Amount:   p.amount,
		Currency: p.currency,
	}
}

func (g *Gateway) stripeSession(p *payment) modelpayment.StripeCheckoutSession {
	session := modelpayment.StripeCheckoutSession{
		ID:            p.orderID,
		Object:        "checkout.session",
		URL:           strings.TrimRight(g.cfg.PublicURL, "/") + "/fake/pay/" + p.orderID,
		Status:        "open",
		PaymentStatus: "unpaid",
		AmountTotal:   p.amount,
		Currency:      p.currency,
		Metadata:      p.metadata,
	}
	switch p.state {
	case modelpayment.StateCaptured:
		session.Status = "complete"
		session.PaymentStatus = "paid"
		session.PaymentIntent = p.paymentID
	case modelpayment.StateFailed:
		session.Status = "expired"
	}
	return session
}

func razorpayError(description string) modelpayment.RazorpayError {
	var e modelpayment.RazorpayError
	e.Error.Code = "BAD_REQUEST_ERROR"
	e.Error.Description = description
	return e
}

func stripeError(message string) modelpayment.StripeError {
	var e modelpayment.StripeError
	e.Error.Type = "invalid_request_error"
	e.Error.Message = message
	return e
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	resBody, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(resBody)
}
