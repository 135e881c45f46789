// Package checkout provides credit pack purchase initiation.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/client"
	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// persistTimeout bounds the local write that follows a successful provider call.
const persistTimeout = 5 * time.Second

// creditPacks maps credit quantity to its price in major currency units.
var creditPacks = map[int64]int64{
	10:   19,
	100:  99,
	300:  199,
	1000: 599,
}

// PackPrice returns the price of a pack in minor currency units.
func PackPrice(credits int64) (int64, bool) {
	price, ok := creditPacks[credits]
	return price * 100, ok
}

// Service defines attributes of a struct available to its methods.
type Service struct {
	storage  storage.OrderStore
	gateways map[string]client.Gateway
	currency string
	metrics  *metrics.Metrics
	log      *zerolog.Logger
	now      func() time.Time
}

// InitService initializes a checkout service over the given gateways.
func InitService(st storage.OrderStore, gateways []client.Gateway, currency string, m *metrics.Metrics, log *zerolog.Logger) (*Service, error) {
	if st == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil storage was passed to checkout initializer"}
	}
	if log == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil logger was passed to checkout initializer"}
	}
	registry := make(map[string]client.Gateway, len(gateways))
	for _, gateway := range gateways {
		if gateway == nil {
			return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil gateway was passed to checkout initializer"}
		}
		registry[gateway.Provider()] = gateway
	}
	return &Service{
		storage:  st,
		gateways: registry,
		currency: currency,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}, nil
}

// CreateCheckout creates a provider order for a credit pack and records it locally with status created.
func (s *Service) CreateCheckout(ctx context.Context, provider, userID string, credits int64) (*modeldto.CheckoutResponse, error) {
	gateway, ok := s.gateways[provider]
	if !ok {
		return nil, &serviceErrors.ServiceUnknownProvider{Provider: provider}
	}
	if userID == "" {
		return nil, &serviceErrors.ServiceValidationError{Msg: "user id must not be empty"}
	}
	amount, ok := PackPrice(credits)
	if !ok {
		s.metrics.RecordCheckout(provider, "invalid_pack")
		return nil, &serviceErrors.ServiceValidationError{Msg: fmt.Sprintf("%d credits is not an available pack", credits)}
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	providerOrder, err := gateway.CreateOrder(ctx, modelpayment.OrderRequest{
		UserID:   userID,
		Credits:  credits,
		Amount:   amount,
		Currency: s.currency,
		Receipt:  receipt,
	})
	if err != nil {
		s.metrics.RecordCheckout(provider, "gateway_error")
		s.metrics.RecordGatewayError(provider, "create_order")
		return nil, &serviceErrors.ServiceGatewayError{Provider: provider, Operation: "create order", Err: err}
	}

	order := modelstorage.OrderStorageEntry{
		OrderID:   providerOrder.ID,
		Provider:  provider,
		UserID:    userID,
		Credits:   credits,
		Amount:    amount,
		Currency:  s.currency,
		Status:    modelstorage.OrderCreated,
		CreatedAt: s.now().UTC(),
	}
	// the provider order already exists, so the local write must not be abandoned with the caller's request
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err = s.storage.CreateOrder(persistCtx, order); err != nil {
		s.metrics.RecordCheckout(provider, "inconsistent")
		s.metrics.RecordInconsistency(provider)
		s.log.Error().Err(err).
			Str("provider", provider).
			Str("order_id", providerOrder.ID).
			Str("user_id", userID).
			Int64("credits", credits).
			Int64("amount", amount).
			Str("currency", s.currency).
			Str("receipt", receipt).
			Msg("provider order created but not recorded, manual reconciliation required")
		return nil, &serviceErrors.ServiceInconsistencyError{Provider: provider, OrderID: providerOrder.ID, Err: err}
	}
	s.metrics.RecordCheckout(provider, "created")
	s.log.Info().Str("provider", provider).Str("order_id", order.OrderID).Str("user_id", userID).Int64("credits", credits).Msg("checkout created")

	if providerOrder.CheckoutURL != "" {
		return &modeldto.CheckoutResponse{CheckoutURL: providerOrder.CheckoutURL}, nil
	}
	return &modeldto.CheckoutResponse{
		Order: &modeldto.CheckoutOrder{
			ID:       providerOrder.ID,
			Provider: provider,
			Credits:  credits,
			Amount:   amount,
			Currency: s.currency,
			KeyID:    providerOrder.KeyID,
		},
	}, nil
}
