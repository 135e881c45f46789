package storage

import (
	"context"
	"errors"

	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
)

// RetryOnConflict runs fn again while it fails with a transaction conflict, at most retries extra times.
// onRetry, when set, is called before every repeated attempt.
func RetryOnConflict(ctx context.Context, retries int, onRetry func(attempt int, err error), fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		var txConflict *storageErrors.TxConflictError
		if err == nil || !errors.As(err, &txConflict) || attempt >= retries {
			return err
		}
		if ctx.Err() != nil {
			return &storageErrors.ContextTimeoutExceededError{Err: ctx.Err()}
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
	}
}
