// Package broker provides the reconciliation worker pool that settles orders whose webhooks never arrived.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/client"
	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelqueue"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/settlement/v1"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const fetchTimeout = 10 * time.Second

const (
	OutcomeSettled = "settled"
	OutcomeFailed  = "failed"
	OutcomePending = "pending"
	OutcomeError   = "error"
)

type Broker struct {
	ctx      context.Context
	log      *zerolog.Logger
	storage  storage.OrderStore
	settler  settlement.Settler
	gateways map[string]client.Gateway
	cfg      *config.QueueConfig
	metrics  *metrics.Metrics
	workers  int
	queue    chan modelqueue.ReconcileEntry
	inFlight sync.Map
	wg       *sync.WaitGroup
}

type ReconcileWorker struct {
	ID     int
	broker *Broker
}

func InitBroker(ctx context.Context, st storage.OrderStore, settler settlement.Settler, gateways []client.Gateway, cfg *config.QueueConfig, m *metrics.Metrics, log *zerolog.Logger, wg *sync.WaitGroup) (*Broker, error) {
	if st == nil || settler == nil || cfg == nil || log == nil || wg == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil argument was passed to broker initializer"}
	}
	registry := make(map[string]client.Gateway, len(gateways))
	for _, gateway := range gateways {
		registry[gateway.Provider()] = gateway
	}
	workers := cfg.WorkerNumber
	if workers <= 0 {
		workers = 1
	}
	return &Broker{
		ctx:      ctx,
		log:      log,
		storage:  st,
		settler:  settler,
		gateways: registry,
		cfg:      cfg,
		metrics:  m,
		workers:  workers,
		queue:    make(chan modelqueue.ReconcileEntry, workers*2),
		wg:       wg,
	}, nil
}

// ListenAndProcess starts the periodic sweep and the worker pool; both stop when the broker context ends.
func (b *Broker) ListenAndProcess() {
	b.wg.Add(1)
	go func() {
		b.log.Info().Msg("started reconciliation of stale orders")
		defer b.wg.Done()
		g, _ := errgroup.WithContext(b.ctx)
		for i := 0; i < b.workers; i++ {
			w := &ReconcileWorker{ID: i, broker: b}
			g.Go(w.processAsync)
		}
		g.Go(b.sweepPeriodically)
		err := g.Wait()
		if err != nil {
			b.log.Error().Err(err).Msg("closing errgroup failed")
		}
		b.log.Info().Msg("stopped reconciliation of stale orders")
	}()
}

func (b *Broker) sweepPeriodically() error {
	// the sweeper is the only sender, so it owns closing the queue
	defer close(b.queue)
	interval := b.cfg.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Sweep(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Error().Err(err).Msg("stale order sweep failed")
			}
		}
	}
}

// Sweep enqueues created orders older than the configured age and returns how many were enqueued.
func (b *Broker) Sweep(ctx context.Context) (int, error) {
	orders, err := b.storage.GetStaleOrders(ctx, time.Now().Add(-b.cfg.ReconcileAge), b.cfg.ReconcileBatch)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, order := range orders {
		if _, busy := b.inFlight.LoadOrStore(order.OrderID, struct{}{}); busy {
			continue
		}
		entry := modelqueue.ReconcileEntry{OrderID: order.OrderID, Provider: order.Provider, UserID: order.UserID, CreatedAt: order.CreatedAt}
		select {
		case <-ctx.Done():
			b.inFlight.Delete(order.OrderID)
			return enqueued, ctx.Err()
		case b.queue <- entry:
			enqueued++
		}
	}
	if enqueued > 0 {
		b.log.Info().Int("orders", enqueued).Msg("stale orders sent to reconciliation")
	}
	return enqueued, nil
}

func (w *ReconcileWorker) processAsync() error {
	for record := range w.broker.queue {
		w.broker.process(w.broker.ctx, w.ID, record)
	}
	return nil
}

func (b *Broker) process(ctx context.Context, worker int, record modelqueue.ReconcileEntry) {
	defer b.inFlight.Delete(record.OrderID)
	outcome, err := b.Reconcile(ctx, record)
	if err != nil {
		b.log.Warn().Err(err).Int("worker", worker).Str("order_id", record.OrderID).Msg("reconciliation failed, order stays queued for the next sweep")
		return
	}
	b.log.Debug().Int("worker", worker).Str("order_id", record.OrderID).Str("outcome", outcome).Msg("order reconciled")
}

// Reconcile asks the owning gateway for the order's state and applies it through the settlement service.
// The order is marked as checked whatever the outcome, so the next sweep moves on to other orders.
func (b *Broker) Reconcile(ctx context.Context, entry modelqueue.ReconcileEntry) (string, error) {
	defer b.markReconciled(ctx, entry.OrderID)
	gateway, ok := b.gateways[entry.Provider]
	if !ok {
		b.metrics.RecordReconciled(entry.Provider, OutcomeError)
		return OutcomeError, &serviceErrors.ServiceUnknownProvider{Provider: entry.Provider}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	status, err := gateway.FetchStatus(fetchCtx, entry.OrderID)
	if err != nil {
		b.metrics.RecordGatewayError(entry.Provider, "fetch_status")
		b.metrics.RecordReconciled(entry.Provider, OutcomeError)
		return OutcomeError, &serviceErrors.ServiceGatewayError{Provider: entry.Provider, Operation: "fetch status", Err: err}
	}
	outcome := OutcomePending
	switch status.State {
	case modelpayment.StateCaptured:
		outcome = OutcomeSettled
		_, err = b.settler.Settle(ctx, entry.Provider, entry.OrderID, status.PaymentID)
	case modelpayment.StateFailed:
		outcome = OutcomeFailed
		_, err = b.settler.Fail(ctx, entry.Provider, entry.OrderID)
	}
	if err != nil {
		b.metrics.RecordReconciled(entry.Provider, OutcomeError)
		return OutcomeError, err
	}
	b.metrics.RecordReconciled(entry.Provider, outcome)
	return outcome, nil
}

func (b *Broker) markReconciled(ctx context.Context, orderID string) {
	if err := b.storage.MarkReconciled(ctx, orderID, time.Now()); err != nil {
		b.log.Warn().Err(err).Str("order_id", orderID).Msg("marking order reconciled failed")
	}
}
