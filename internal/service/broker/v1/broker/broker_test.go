package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/client"
	"github.com/danilovkiri/dk-go-prepcredits/internal/client/mocks"
	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelqueue"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/settlement/v1/settlement"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/inmemory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *inmemory.Storage
	gateway *mocks.Gateway
	broker  *Broker
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

func newFixture(t *testing.T, cfg *config.QueueConfig) *fixture {
	t.Helper()
	log := zerolog.Nop()
	st := inmemory.InitStorage(&log)
	m := metrics.NewMetrics()
	settler, err := settlement.InitService(st, nil, 3, m, &log)
	require.NoError(t, err)
	gateway := &mocks.Gateway{Name: modelpayment.ProviderRazorpay}
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	b, err := InitBroker(ctx, st, settler, []client.Gateway{gateway}, cfg, m, &log, wg)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return &fixture{store: st, gateway: gateway, broker: b, cancel: cancel, wg: wg}
}

func (f *fixture) addOrder(t *testing.T, orderID string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.store.CreateOrder(context.Background(), modelstorage.OrderStorageEntry{
		OrderID: orderID, Provider: modelpayment.ProviderRazorpay, UserID: "u1", Credits: 100, Amount: 9900,
		Currency: "INR", Status: modelstorage.OrderCreated, CreatedAt: time.Now().Add(-age),
	}))
}

func TestBroker_Reconcile(t *testing.T) {
	ctx := context.Background()

	var tests = []struct {
		name     string
		status   *modelpayment.ProviderStatus
		fetchErr error
		outcome  string
		state    modelstorage.OrderStatus
		credits  int64
	}{
		{name: "captured", status: &modelpayment.ProviderStatus{State: modelpayment.StateCaptured, PaymentID: "pay_1"}, outcome: OutcomeSettled, state: modelstorage.OrderCompleted, credits: 100},
		{name: "failed", status: &modelpayment.ProviderStatus{State: modelpayment.StateFailed}, outcome: OutcomeFailed, state: modelstorage.OrderFailed},
		{name: "pending", status: &modelpayment.ProviderStatus{State: modelpayment.StatePending}, outcome: OutcomePending, state: modelstorage.OrderCreated},
		{name: "gateway error", fetchErr: errors.New("timeout"), outcome: OutcomeError, state: modelstorage.OrderCreated},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &config.QueueConfig{WorkerNumber: 1})
			f.addOrder(t, "order_1", time.Hour)
			if tt.fetchErr != nil {
				f.gateway.On("FetchStatus", mock.Anything, "order_1").Return(nil, tt.fetchErr).Once()
			} else {
				f.gateway.On("FetchStatus", mock.Anything, "order_1").Return(tt.status, nil).Once()
			}

			outcome, err := f.broker.Reconcile(ctx, modelqueue.ReconcileEntry{OrderID: "order_1", Provider: modelpayment.ProviderRazorpay})
			if tt.fetchErr != nil {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.outcome, outcome)

			order, err := f.store.GetOrder(ctx, "order_1")
			require.NoError(t, err)
			assert.Equal(t, tt.state, order.Status)
			credits, err := f.store.GetCredits(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.credits, credits)
			f.gateway.AssertExpectations(t)
		})
	}
}

func TestBroker_ReconcileUnknownProvider(t *testing.T) {
	f := newFixture(t, &config.QueueConfig{WorkerNumber: 1})
	outcome, err := f.broker.Reconcile(context.Background(), modelqueue.ReconcileEntry{OrderID: "cs_1", Provider: modelpayment.ProviderStripe})
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)
}

func TestBroker_Sweep(t *testing.T) {
	f := newFixture(t, &config.QueueConfig{WorkerNumber: 2, ReconcileAge: 15 * time.Minute, ReconcileBatch: 10})
	f.addOrder(t, "order_old", time.Hour)
	f.addOrder(t, "order_fresh", time.Minute)

	enqueued, err := f.broker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)

	// an order already queued is not enqueued twice
	enqueued, err = f.broker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)

	entry := <-f.broker.queue
	assert.Equal(t, "order_old", entry.OrderID)
}

func TestBroker_ListenAndProcess(t *testing.T) {
	f := newFixture(t, &config.QueueConfig{
		WorkerNumber:      2,
		ReconcileInterval: 10 * time.Millisecond,
		ReconcileAge:      time.Minute,
		ReconcileBatch:    10,
	})
	f.addOrder(t, "order_1", time.Hour)
	f.gateway.On("FetchStatus", mock.Anything, "order_1").
		Return(&modelpayment.ProviderStatus{State: modelpayment.StateCaptured, PaymentID: "pay_1"}, nil)

	f.broker.ListenAndProcess()

	require.Eventually(t, func() bool {
		order, err := f.store.GetOrder(context.Background(), "order_1")
		return err == nil && order.Status == modelstorage.OrderCompleted
	}, 2*time.Second, 10*time.Millisecond)

	f.cancel()
	f.wg.Wait()
	credits, err := f.store.GetCredits(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), credits)
}

func TestBroker_SweepReachesOrdersBehindPendingBacklog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &config.QueueConfig{WorkerNumber: 1, ReconcileAge: 15 * time.Minute, ReconcileBatch: 2})
	f.addOrder(t, "order_abandoned_1", 3*time.Hour)
	f.addOrder(t, "order_abandoned_2", 2*time.Hour)
	f.addOrder(t, "order_paid", time.Hour)
	pending := &modelpayment.ProviderStatus{State: modelpayment.StatePending}
	f.gateway.On("FetchStatus", mock.Anything, "order_abandoned_1").Return(pending, nil)
	f.gateway.On("FetchStatus", mock.Anything, "order_abandoned_2").Return(pending, nil)
	f.gateway.On("FetchStatus", mock.Anything, "order_paid").
		Return(&modelpayment.ProviderStatus{State: modelpayment.StateCaptured, PaymentID: "pay_1"}, nil).Once()

	for round := 0; round < 3; round++ {
		enqueued, err := f.broker.Sweep(ctx)
		require.NoError(t, err)
		require.LessOrEqual(t, enqueued, 2)
		for i := 0; i < enqueued; i++ {
			f.broker.process(ctx, 0, <-f.broker.queue)
		}
	}

	order, err := f.store.GetOrder(ctx, "order_paid")
	require.NoError(t, err)
	assert.Equal(t, modelstorage.OrderCompleted, order.Status)
	credits, err := f.store.GetCredits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), credits)
	f.gateway.AssertExpectations(t)
}
