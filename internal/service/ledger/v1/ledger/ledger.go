// Package ledger provides credit balance reads and guarded debits.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/metrics"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/rs/zerolog"
)

// Service defines attributes of a struct available to its methods.
type Service struct {
	storage       storage.Ledger
	interviewCost int64
	retries       int
	metrics       *metrics.Metrics
	log           *zerolog.Logger
	now           func() time.Time
}

// InitService initializes a ledger service.
func InitService(st storage.Ledger, interviewCost int64, retries int, m *metrics.Metrics, log *zerolog.Logger) (*Service, error) {
	if st == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil storage was passed to ledger initializer"}
	}
	if log == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil logger was passed to ledger initializer"}
	}
	if interviewCost <= 0 {
		return nil, &serviceErrors.ServiceValidationError{Msg: "interview cost must be positive"}
	}
	return &Service{
		storage:       st,
		interviewCost: interviewCost,
		retries:       retries,
		metrics:       m,
		log:           log,
		now:           time.Now,
	}, nil
}

// Balance returns the user's credits, zero for users that never bought any.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.storage.GetCredits(ctx, userID)
}

// Debit subtracts amount from the user's credits. It returns false without touching the balance when
// the balance is lower than amount.
func (s *Service) Debit(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, &serviceErrors.ServiceValidationError{Msg: "debit amount must be positive"}
	}
	var remaining int64
	err := storage.RetryOnConflict(ctx, s.retries, func(attempt int, err error) {
		s.metrics.RecordTxConflictRetry("debit")
		s.log.Warn().Err(err).Str("user_id", userID).Int("attempt", attempt).Msg("debit retried after transaction conflict")
	}, func() error {
		var err error
		remaining, err = s.storage.DebitCredits(ctx, userID, amount, s.now().UTC())
		return err
	})
	var insufficient *storageErrors.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		s.metrics.RecordDebit("insufficient")
		s.log.Info().Str("user_id", userID).Int64("requested", amount).Int64("available", insufficient.Available).Msg("debit refused")
		return false, nil
	case err != nil:
		s.metrics.RecordDebit("error")
		s.log.Error().Err(err).Str("user_id", userID).Int64("requested", amount).Msg("debit failed")
		return false, err
	}
	s.metrics.RecordDebit("ok")
	s.log.Info().Str("user_id", userID).Int64("debited", amount).Int64("remaining", remaining).Msg("credits debited")
	return true, nil
}

// StartInterview charges the interview cost.
func (s *Service) StartInterview(ctx context.Context, userID string) (bool, error) {
	return s.Debit(ctx, userID, s.interviewCost)
}
