package ledger

import "context"

// Ledger reads and spends user credits.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64) (bool, error)
	StartInterview(ctx context.Context, userID string) (bool, error)
}
