// Package metrics provides Prometheus collectors for checkout, settlement and ledger activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prepcredits"

// Metrics holds every collector of the service. All Record methods are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business Metrics
	CheckoutsTotal       *prometheus.CounterVec
	SettlementsTotal     *prometheus.CounterVec
	DebitsTotal          *prometheus.CounterVec
	CreditsGranted       prometheus.Counter
	Inconsistencies      *prometheus.CounterVec
	ReconciledOrders     *prometheus.CounterVec
	TxConflictRetries    *prometheus.CounterVec
	GatewayRequestErrors *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkouts_total",
				Help:      "Checkout attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Payment confirmations by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "debits_total",
				Help:      "Credit debits by outcome",
			},
			[]string{"outcome"},
		),
		CreditsGranted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_granted_total",
				Help:      "Credits added to user ledgers by settlement",
			},
		),
		Inconsistencies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inconsistencies_total",
				Help:      "Provider orders created without a local record",
			},
			[]string{"provider"},
		),
		ReconciledOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciled_orders_total",
				Help:      "Stale orders examined by the reconciler by outcome",
			},
			[]string{"provider", "outcome"},
		),
		TxConflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tx_conflict_retries_total",
				Help:      "Store transactions retried after a concurrent modification",
			},
			[]string{"operation"},
		),
		GatewayRequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_request_errors_total",
				Help:      "Failed requests to payment gateways",
			},
			[]string{"provider", "operation"},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration.Seconds())
}

func (m *Metrics) RecordCheckout(provider, outcome string) {
	if m == nil {
		return
	}
	m.CheckoutsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordSettlement(provider, outcome string) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordCreditsGranted(credits int64) {
	if m == nil {
		return
	}
	m.CreditsGranted.Add(float64(credits))
}

func (m *Metrics) RecordDebit(outcome string) {
	if m == nil {
		return
	}
	m.DebitsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordInconsistency(provider string) {
	if m == nil {
		return
	}
	m.Inconsistencies.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordReconciled(provider, outcome string) {
	if m == nil {
		return
	}
	m.ReconciledOrders.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordTxConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.TxConflictRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordGatewayError(provider, operation string) {
	if m == nil {
		return
	}
	m.GatewayRequestErrors.WithLabelValues(provider, operation).Inc()
}

// HTTPMetricsHandle records request count and latency labelled with the matched chi route pattern.
func (m *Metrics) HTTPMetricsHandle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, path, strconv.Itoa(status), time.Since(start))
	})
}
