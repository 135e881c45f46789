// Package settlement provides payment settlement: signature-verified confirmations move an order to a
// terminal state and credit its owner exactly once.
package settlement

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/rs/zerolog"
)

// Service defines attributes of a struct available to its methods.
type Service struct {
	storage   storage.OrderStore
	adapters  map[string]Adapter
	confirmer OrderConfirmer
	retries   int
	metrics   *metrics.Metrics
	log       *zerolog.Logger
	now       func() time.Time
}

// InitService initializes a settlement service. The Razorpay adapter, when present, also serves Confirm.
func InitService(st storage.OrderStore, adapters []Adapter, retries int, m *metrics.Metrics, log *zerolog.Logger) (*Service, error) {
	if st == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil storage was passed to settlement initializer"}
	}
	if log == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil logger was passed to settlement initializer"}
	}
	s := &Service{
		storage:  st,
		adapters: make(map[string]Adapter, len(adapters)),
		retries:  retries,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
	for _, adapter := range adapters {
		if adapter == nil {
			return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil adapter was passed to settlement initializer"}
		}
		s.adapters[adapter.Provider()] = adapter
		if confirmer, ok := adapter.(OrderConfirmer); ok && adapter.Provider() == modelpayment.ProviderRazorpay {
			s.confirmer = confirmer
		}
	}
	return s, nil
}

// Webhook verifies and applies a provider webhook. Event types that do not affect orders are acknowledged
// and returned with EventIgnored.
func (s *Service) Webhook(ctx context.Context, provider string, body []byte, headers http.Header) (*modelpayment.Event, error) {
	adapter, ok := s.adapters[provider]
	if !ok {
		return nil, &serviceErrors.ServiceUnknownProvider{Provider: provider}
	}
	event, err := adapter.ParseWebhook(body, headers)
	if err != nil {
		var signatureErr *serviceErrors.ServiceSignatureError
		if errors.As(err, &signatureErr) {
			s.metrics.RecordSettlement(provider, "invalid_signature")
			s.log.Warn().Str("provider", provider).Int("body_size", len(body)).Msg("webhook signature rejected, potential forgery")
		}
		return nil, err
	}
	switch event.Kind {
	case modelpayment.EventCaptured:
		_, err = s.Settle(ctx, provider, event.OrderID, event.PaymentID)
	case modelpayment.EventFailed:
		_, err = s.Fail(ctx, provider, event.OrderID)
	default:
		s.metrics.RecordSettlement(provider, "ignored")
		s.log.Debug().Str("provider", provider).Str("event", event.Type).Msg("webhook event ignored")
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Confirm settles an order from the checkout widget callback after checking its orderId|paymentId signature.
func (s *Service) Confirm(ctx context.Context, orderID, paymentID, signature string) error {
	if s.confirmer == nil {
		return &serviceErrors.ServiceUnknownProvider{Provider: modelpayment.ProviderRazorpay}
	}
	if orderID == "" || paymentID == "" || signature == "" {
		return &serviceErrors.ServiceValidationError{Msg: "orderId, paymentId and signature are required"}
	}
	if !s.confirmer.VerifyOrder(orderID, paymentID, signature) {
		s.metrics.RecordSettlement(modelpayment.ProviderRazorpay, "invalid_signature")
		s.log.Warn().Str("order_id", orderID).Str("payment_id", paymentID).Msg("payment confirmation signature rejected, potential forgery")
		return &serviceErrors.ServiceSignatureError{Provider: modelpayment.ProviderRazorpay, OrderID: orderID}
	}
	_, err := s.Settle(ctx, modelpayment.ProviderRazorpay, orderID, paymentID)
	return err
}

// Settle completes an order and credits its owner. Callers must have authenticated the confirmation.
// It reports false when the order had already been completed.
func (s *Service) Settle(ctx context.Context, provider, orderID, paymentID string) (bool, error) {
	var order *modelstorage.OrderStorageEntry
	var applied bool
	err := storage.RetryOnConflict(ctx, s.retries, s.onRetry("settle", orderID), func() error {
		var err error
		order, applied, err = s.storage.SettleOrder(ctx, orderID, paymentID, s.now().UTC())
		return err
	})
	if err != nil {
		s.recordFailure(provider, orderID, "settle", err)
		return false, err
	}
	if !applied {
		s.metrics.RecordSettlement(provider, "duplicate")
		s.log.Info().Str("provider", provider).Str("order_id", orderID).Msg("duplicate payment confirmation absorbed")
		return false, nil
	}
	s.metrics.RecordSettlement(provider, "settled")
	s.metrics.RecordCreditsGranted(order.Credits)
	s.log.Info().
		Str("provider", provider).
		Str("order_id", orderID).
		Str("payment_id", paymentID).
		Str("user_id", order.UserID).
		Int64("credits", order.Credits).
		Msg("order settled")
	return true, nil
}

// Fail marks an order failed. It reports false when the order had already failed.
func (s *Service) Fail(ctx context.Context, provider, orderID string) (bool, error) {
	var applied bool
	err := storage.RetryOnConflict(ctx, s.retries, s.onRetry("fail", orderID), func() error {
		var err error
		_, applied, err = s.storage.FailOrder(ctx, orderID, s.now().UTC())
		return err
	})
	if err != nil {
		s.recordFailure(provider, orderID, "fail", err)
		return false, err
	}
	if !applied {
		s.metrics.RecordSettlement(provider, "duplicate")
		return false, nil
	}
	s.metrics.RecordSettlement(provider, "failed")
	s.log.Info().Str("provider", provider).Str("order_id", orderID).Msg("order failed")
	return true, nil
}

func (s *Service) onRetry(operation, orderID string) func(int, error) {
	return func(attempt int, err error) {
		s.metrics.RecordTxConflictRetry(operation)
		s.log.Warn().Err(err).Str("order_id", orderID).Int("attempt", attempt).Msg(operation + " retried after transaction conflict")
	}
}

func (s *Service) recordFailure(provider, orderID, operation string, err error) {
	var notFound *storageErrors.NotFoundError
	var conflict *storageErrors.ConflictError
	switch {
	case errors.As(err, &notFound):
		s.metrics.RecordSettlement(provider, "not_found")
		s.log.Warn().Err(err).Str("provider", provider).Str("order_id", orderID).Msg(operation + " refused for unknown order")
	case errors.As(err, &conflict):
		s.metrics.RecordSettlement(provider, "conflict")
		s.log.Warn().Err(err).Str("provider", provider).Str("order_id", orderID).Msg(operation + " refused for terminal order")
	default:
		s.metrics.RecordSettlement(provider, "error")
		s.log.Error().Err(err).Str("provider", provider).Str("order_id", orderID).Msg(operation + " failed")
	}
}
