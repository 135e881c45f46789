// Package rest provides functionality for initializing a server.
package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/handlers"
	"github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/middleware"
	"github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/validator"
	"github.com/danilovkiri/dk-go-prepcredits/internal/client"
	"github.com/danilovkiri/dk-go-prepcredits/internal/client/razorpay"
	"github.com/danilovkiri/dk-go-prepcredits/internal/client/stripe"
	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/broker/v1/broker"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/checkout/v1/checkout"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/ledger/v1/ledger"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/processor/v1/processor"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/secretary/v1/secretary"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/settlement/v1/settlement"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1/verifier"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/inmemory"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/inpsql"
	"github.com/go-chi/chi"
	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
)

// InitServer returns a http.Server object ready to be listening and serving along with the storage it uses,
// which the caller closes after shutdown.
func InitServer(ctx context.Context, cfg *config.Config, log *zerolog.Logger, wg *sync.WaitGroup) (*http.Server, storage.Storage, error) {
	m := metrics.NewMetrics()

	// initialize storage, in-memory when no DSN is configured
	var st storage.Storage
	if cfg.StorageConfig.DatabaseDSN != "" {
		psql, err := inpsql.InitStorage(ctx, cfg.StorageConfig, log)
		if err != nil {
			return nil, nil, err
		}
		st = psql
	} else {
		log.Warn().Msg("DATABASE_URI is empty, using in-memory storage")
		st = inmemory.InitStorage(log)
	}

	// initialize secretary
	secretaryService, err := secretary.NewSecretaryService(cfg.SecretConfig)
	if err != nil {
		return nil, nil, err
	}

	// initialize token handler
	tokenHandler, err := middleware.NewTokenHandler(secretaryService, log)
	if err != nil {
		return nil, nil, err
	}

	// initialize payment gateways and their webhook adapters
	signatureVerifier := verifier.NewVerifier(cfg.StripeConfig.SignatureTolerance)
	var gateways []client.Gateway
	var adapters []settlement.Adapter
	if cfg.RazorpayConfig.Enabled() {
		gateways = append(gateways, razorpay.InitClient(cfg.RazorpayConfig, log))
		adapters = append(adapters, settlement.NewRazorpayAdapter(signatureVerifier, cfg.RazorpayConfig.KeySecret, cfg.RazorpayConfig.WebhookSecret))
	} else {
		log.Warn().Msg("razorpay credentials are not configured, provider disabled")
	}
	if cfg.StripeConfig.Enabled() {
		gateways = append(gateways, stripe.InitClient(cfg.StripeConfig, cfg.ServerConfig.AppBaseURL, log))
		adapters = append(adapters, settlement.NewStripeAdapter(signatureVerifier, cfg.StripeConfig.WebhookSecret))
	} else {
		log.Warn().Msg("stripe credentials are not configured, provider disabled")
	}

	// initialize services
	mainService, err := processor.InitService(st, secretaryService)
	if err != nil {
		return nil, nil, err
	}
	checkoutService, err := checkout.InitService(st, gateways, cfg.LedgerConfig.Currency, m, log)
	if err != nil {
		return nil, nil, err
	}
	settlementService, err := settlement.InitService(st, adapters, cfg.LedgerConfig.RetryNumber, m, log)
	if err != nil {
		return nil, nil, err
	}
	ledgerService, err := ledger.InitService(st, cfg.LedgerConfig.InterviewCost, cfg.LedgerConfig.RetryNumber, m, log)
	if err != nil {
		return nil, nil, err
	}

	// initialize broker
	brokerService, err := broker.InitBroker(ctx, st, settlementService, gateways, cfg.QueueConfig, m, log, wg)
	if err != nil {
		return nil, nil, err
	}
	brokerService.ListenAndProcess()

	// initialize handlers
	requestValidator, err := validator.NewXValidator()
	if err != nil {
		return nil, nil, err
	}
	urlHandler, err := handlers.InitHandlers(mainService, checkoutService, settlementService, ledgerService, requestValidator, cfg.ServerConfig, log)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Addr:         cfg.ServerConfig.ServerAddress,
		Handler:      NewRouter(urlHandler, tokenHandler, m),
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv, st, nil
}

// NewRouter sets routing over initialized handlers.
func NewRouter(urlHandler *handlers.Handler, tokenHandler *middleware.TokenHandler, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(m.HTTPMetricsHandle)
	r.Use(chimiddleware.Compress(5, "application/json"))
	publicGroup := r.Group(nil)
	mainGroup := r.Group(nil)
	mainGroup.Use(tokenHandler.TokenHandle) // payment callbacks authenticate by signature, not by token
	publicGroup.Get("/ping", urlHandler.HandlePing())
	publicGroup.Method(http.MethodGet, "/metrics", m.Handler())
	publicGroup.Post("/api/user/register", urlHandler.HandleRegister())
	publicGroup.Post("/api/user/login", urlHandler.HandleLogin())
	publicGroup.Post("/api/payments/confirm", urlHandler.HandleConfirm())
	publicGroup.Post("/api/payments/webhook/{provider}", urlHandler.HandleWebhook())
	mainGroup.Get("/api/user/credits", urlHandler.HandleGetCredits())
	mainGroup.Get("/api/user/orders", urlHandler.HandleGetOrders())
	mainGroup.Post("/api/checkout/{provider}", urlHandler.HandleCheckout())
	mainGroup.Post("/api/interview/start", urlHandler.HandleStartInterview())
	return r
}
