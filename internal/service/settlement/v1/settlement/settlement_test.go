package settlement

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1/verifier"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/inmemory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keySecret           = "rzp_key_secret"
	razorpayWebhookKey  = "rzp_webhook_secret"
	stripeWebhookSecret = "whsec_stripe"
)

type fixture struct {
	store   *inmemory.Storage
	service *Service
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	st := inmemory.InitStorage(&log)
	v := verifier.NewVerifier(5 * time.Minute)
	m := metrics.NewMetrics()
	svc, err := InitService(st, []Adapter{
		NewRazorpayAdapter(v, keySecret, razorpayWebhookKey),
		NewStripeAdapter(v, stripeWebhookSecret),
	}, 3, m, &log)
	require.NoError(t, err)
	return &fixture{store: st, service: svc, metrics: m}
}

func (f *fixture) addOrder(t *testing.T, orderID, provider, userID string, credits int64) {
	t.Helper()
	require.NoError(t, f.store.CreateOrder(context.Background(), modelstorage.OrderStorageEntry{
		OrderID: orderID, Provider: provider, UserID: userID, Credits: credits, Amount: credits * 100,
		Currency: "INR", Status: modelstorage.OrderCreated, CreatedAt: time.Now(),
	}))
}

func (f *fixture) credits(t *testing.T, userID string) int64 {
	t.Helper()
	credits, err := f.store.GetCredits(context.Background(), userID)
	require.NoError(t, err)
	return credits
}

func (f *fixture) status(t *testing.T, orderID string) modelstorage.OrderStatus {
	t.Helper()
	order, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func razorpayWebhook(event, orderID, paymentID string) ([]byte, http.Header) {
	body := []byte(`{"event":"` + event + `","payload":{"payment":{"entity":{"id":"` + paymentID + `","entity":"payment","order_id":"` + orderID + `","status":"captured","amount":9900,"currency":"INR"}}}}`)
	headers := http.Header{}
	headers.Set(RazorpaySignatureHeader, verifier.SignWebhook(body, razorpayWebhookKey))
	return body, headers
}

func stripeWebhook(eventType, sessionID, paymentStatus string) ([]byte, http.Header) {
	body := []byte(`{"id":"evt_1","type":"` + eventType + `","data":{"object":{"id":"` + sessionID + `","object":"checkout.session","payment_status":"` + paymentStatus + `","payment_intent":"pi_1","metadata":{"userId":"u1","credits":"100"}}}}`)
	headers := http.Header{}
	headers.Set(StripeSignatureHeader, verifier.SignStripe(body, stripeWebhookSecret, time.Now()))
	return body, headers
}

func TestService_RazorpayWebhookCaptured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)

	body, headers := razorpayWebhook("payment.captured", "order_1", "pay_1")
	event, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
	require.NoError(t, err)
	assert.Equal(t, modelpayment.EventCaptured, event.Kind)
	assert.Equal(t, int64(100), f.credits(t, "u1"))
	assert.Equal(t, modelstorage.OrderCompleted, f.status(t, "order_1"))

	// redelivery of the same event is absorbed
	_, err = f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.credits(t, "u1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SettlementsTotal.WithLabelValues(modelpayment.ProviderRazorpay, "duplicate")))
}

func TestService_RazorpayWebhookFailedThenCaptured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)

	body, headers := razorpayWebhook("payment.failed", "order_1", "pay_1")
	event, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
	require.NoError(t, err)
	assert.Equal(t, modelpayment.EventFailed, event.Kind)
	assert.Equal(t, modelstorage.OrderFailed, f.status(t, "order_1"))

	body, headers = razorpayWebhook("payment.captured", "order_1", "pay_2")
	_, err = f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
	var conflict *storageErrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, modelstorage.OrderFailed, f.status(t, "order_1"))
	assert.Equal(t, int64(0), f.credits(t, "u1"))
}

func TestService_WebhookRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)
		body, headers := razorpayWebhook("payment.captured", "order_1", "pay_1")
		headers.Set(RazorpaySignatureHeader, verifier.SignWebhook(body, "wrong"))
		_, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
		var signatureErr *serviceErrors.ServiceSignatureError
		require.ErrorAs(t, err, &signatureErr)
		assert.Equal(t, modelstorage.OrderCreated, f.status(t, "order_1"))
		assert.Equal(t, int64(0), f.credits(t, "u1"))
	})

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture(t)
		body, _ := razorpayWebhook("payment.captured", "order_1", "pay_1")
		_, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, http.Header{})
		var signatureErr *serviceErrors.ServiceSignatureError
		require.ErrorAs(t, err, &signatureErr)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		body, headers := razorpayWebhook("payment.captured", "order_missing", "pay_1")
		_, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
		var notFound *storageErrors.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t)
		f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)
		body, headers := razorpayWebhook("refund.created", "order_1", "pay_1")
		event, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
		require.NoError(t, err)
		assert.Equal(t, modelpayment.EventIgnored, event.Kind)
		assert.Equal(t, modelstorage.OrderCreated, f.status(t, "order_1"))
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)
		body := []byte(`{not json`)
		headers := http.Header{}
		headers.Set(RazorpaySignatureHeader, verifier.SignWebhook(body, razorpayWebhookKey))
		_, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
		var validationErr *serviceErrors.ServiceValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Webhook(ctx, "paypal", []byte(`{}`), http.Header{})
		var unknown *serviceErrors.ServiceUnknownProvider
		require.ErrorAs(t, err, &unknown)
	})
}

func TestService_Confirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)

	signature := verifier.SignOrder("order_1", "pay_1", keySecret)
	tampered := []byte(signature)
	if tampered[len(tampered)-1] == '0' {
		tampered[len(tampered)-1] = '1'
	} else {
		tampered[len(tampered)-1] = '0'
	}

	err := f.service.Confirm(ctx, "order_1", "pay_1", string(tampered))
	var signatureErr *serviceErrors.ServiceSignatureError
	require.ErrorAs(t, err, &signatureErr)
	assert.Equal(t, modelstorage.OrderCreated, f.status(t, "order_1"))
	assert.Equal(t, int64(0), f.credits(t, "u1"))

	require.NoError(t, f.service.Confirm(ctx, "order_1", "pay_1", signature))
	assert.Equal(t, int64(100), f.credits(t, "u1"))
	assert.Equal(t, modelstorage.OrderCompleted, f.status(t, "order_1"))

	var validationErr *serviceErrors.ServiceValidationError
	require.ErrorAs(t, f.service.Confirm(ctx, "order_1", "", signature), &validationErr)
}

func TestService_WebhookAndConfirmRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)
	body, headers := razorpayWebhook("payment.captured", "order_1", "pay_1")
	signature := verifier.SignOrder("order_1", "pay_1", keySecret)

	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, body, headers)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.service.Confirm(ctx, "order_1", "pay_1", signature))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), f.credits(t, "u1"))
	assert.Equal(t, modelstorage.OrderCompleted, f.status(t, "order_1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SettlementsTotal.WithLabelValues(modelpayment.ProviderRazorpay, "settled")))
}

func TestService_ConcurrentOrdersSameUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOrder(t, "order_1", modelpayment.ProviderRazorpay, "u1", 100)
	f.addOrder(t, "cs_2", modelpayment.ProviderStripe, "u1", 300)
	rzpBody, rzpHeaders := razorpayWebhook("payment.captured", "order_1", "pay_1")
	stripeBody, stripeHeaders := stripeWebhook("checkout.session.completed", "cs_2", "paid")

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.service.Webhook(ctx, modelpayment.ProviderRazorpay, rzpBody, rzpHeaders)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.service.Webhook(ctx, modelpayment.ProviderStripe, stripeBody, stripeHeaders)
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, int64(400), f.credits(t, "u1"))
}

func TestService_StripeWebhook(t *testing.T) {
	ctx := context.Background()

	var tests = []struct {
		name          string
		eventType     string
		paymentStatus string
		kind          modelpayment.EventKind
		status        modelstorage.OrderStatus
		credits       int64
	}{
		{name: "completed and paid", eventType: "checkout.session.completed", paymentStatus: "paid", kind: modelpayment.EventCaptured, status: modelstorage.OrderCompleted, credits: 100},
		{name: "completed but unpaid", eventType: "checkout.session.completed", paymentStatus: "unpaid", kind: modelpayment.EventIgnored, status: modelstorage.OrderCreated},
		{name: "async succeeded", eventType: "checkout.session.async_payment_succeeded", paymentStatus: "paid", kind: modelpayment.EventCaptured, status: modelstorage.OrderCompleted, credits: 100},
		{name: "async failed", eventType: "checkout.session.async_payment_failed", paymentStatus: "unpaid", kind: modelpayment.EventFailed, status: modelstorage.OrderFailed},
		{name: "expired", eventType: "checkout.session.expired", paymentStatus: "unpaid", kind: modelpayment.EventFailed, status: modelstorage.OrderFailed},
		{name: "unrelated", eventType: "customer.created", kind: modelpayment.EventIgnored, status: modelstorage.OrderCreated},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.addOrder(t, "cs_1", modelpayment.ProviderStripe, "u1", 100)
			body, headers := stripeWebhook(tt.eventType, "cs_1", tt.paymentStatus)
			event, err := f.service.Webhook(ctx, modelpayment.ProviderStripe, body, headers)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, tt.status, f.status(t, "cs_1"))
			assert.Equal(t, tt.credits, f.credits(t, "u1"))
		})
	}
}

func TestService_StripeWebhookBadSignature(t *testing.T) {
	f := newFixture(t)
	f.addOrder(t, "cs_1", modelpayment.ProviderStripe, "u1", 100)
	body, _ := stripeWebhook("checkout.session.completed", "cs_1", "paid")
	headers := http.Header{}
	headers.Set(StripeSignatureHeader, verifier.SignStripe(body, stripeWebhookSecret, time.Now().Add(-time.Hour)))
	_, err := f.service.Webhook(context.Background(), modelpayment.ProviderStripe, body, headers)
	var signatureErr *serviceErrors.ServiceSignatureError
	require.ErrorAs(t, err, &signatureErr)
	assert.Equal(t, modelstorage.OrderCreated, f.status(t, "cs_1"))
}

type conflictingStore struct {
	*inmemory.Storage
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) SettleOrder(ctx context.Context, orderID, paymentID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return nil, false, &storageErrors.TxConflictError{Err: errors.New("could not serialize access")}
	}
	c.mu.Unlock()
	return c.Storage.SettleOrder(ctx, orderID, paymentID, at)
}

func TestService_SettleRetriesTransactionConflicts(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	var tests = []struct {
		name      string
		conflicts int
		wantErr   bool
	}{
		{name: "recovers within retry budget", conflicts: 2},
		{name: "gives up after retry budget", conflicts: 5, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st := &conflictingStore{Storage: inmemory.InitStorage(&log), conflicts: tt.conflicts}
			require.NoError(t, st.CreateOrder(ctx, modelstorage.OrderStorageEntry{
				OrderID: "order_1", Provider: modelpayment.ProviderRazorpay, UserID: "u1", Credits: 10, Amount: 1900,
				Currency: "INR", Status: modelstorage.OrderCreated, CreatedAt: time.Now(),
			}))
			svc, err := InitService(st, nil, 3, metrics.NewMetrics(), &log)
			require.NoError(t, err)

			applied, err := svc.Settle(ctx, modelpayment.ProviderRazorpay, "order_1", "pay_1")
			if tt.wantErr {
				var txConflict *storageErrors.TxConflictError
				require.ErrorAs(t, err, &txConflict)
				assert.False(t, applied)
				return
			}
			require.NoError(t, err)
			assert.True(t, applied)
			credits, err := st.GetCredits(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(10), credits)
		})
	}
}

func TestService_ConfirmWithoutRazorpay(t *testing.T) {
	log := zerolog.Nop()
	svc, err := InitService(inmemory.InitStorage(&log), []Adapter{NewStripeAdapter(verifier.NewVerifier(0), stripeWebhookSecret)}, 0, nil, &log)
	require.NoError(t, err)
	var unknown *serviceErrors.ServiceUnknownProvider
	require.ErrorAs(t, svc.Confirm(context.Background(), "order_1", "pay_1", "sig"), &unknown)
}
