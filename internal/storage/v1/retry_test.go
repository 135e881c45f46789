package storage

import (
	"context"
	"errors"
	"testing"

	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryOnConflict(t *testing.T) {
	conflict := &storageErrors.TxConflictError{Err: errors.New("40001")}
	other := errors.New("boom")

	var tests = []struct {
		name          string
		retries       int
		failures      []error
		expectedCalls int
		expectedErr   error
	}{
		{name: "first attempt succeeds", retries: 3, expectedCalls: 1},
		{name: "conflict then success", retries: 3, failures: []error{conflict, conflict}, expectedCalls: 3},
		{name: "conflicts exhaust retries", retries: 2, failures: []error{conflict, conflict, conflict, conflict}, expectedCalls: 3, expectedErr: conflict},
		{name: "other error is not retried", retries: 3, failures: []error{other}, expectedCalls: 1, expectedErr: other},
		{name: "no retries", retries: 0, failures: []error{conflict}, expectedCalls: 1, expectedErr: conflict},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			retried := 0
			err := RetryOnConflict(context.Background(), tt.retries, func(int, error) { retried++ }, func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectedCalls, calls)
			assert.Equal(t, tt.expectedCalls-1, retried)
		})
	}
}
