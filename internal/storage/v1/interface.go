// Package storage defines the persistence contract for users, orders and the credit ledger.
package storage

import (
	"context"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
)

type Register interface {
	AddNewUser(ctx context.Context, user modelstorage.UserStorageEntry) error
	GetUser(ctx context.Context, login string) (*modelstorage.UserStorageEntry, error)
}

// OrderStore keeps purchase orders. SettleOrder and FailOrder return the order as it is after the call and
// whether the call changed it; a duplicate terminal event yields (order, false, nil). GetStaleOrders puts
// orders never passed to MarkReconciled first, then the least recently marked.
type OrderStore interface {
	CreateOrder(ctx context.Context, order modelstorage.OrderStorageEntry) error
	GetOrder(ctx context.Context, orderID string) (*modelstorage.OrderStorageEntry, error)
	GetOrders(ctx context.Context, userID string) ([]modelstorage.OrderStorageEntry, error)
	GetStaleOrders(ctx context.Context, olderThan time.Time, limit int) ([]modelstorage.OrderStorageEntry, error)
	MarkReconciled(ctx context.Context, orderID string, at time.Time) error
	SettleOrder(ctx context.Context, orderID, paymentID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error)
	FailOrder(ctx context.Context, orderID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error)
}

// Ledger keeps per-user credit balances. DebitCredits returns the remaining balance.
type Ledger interface {
	GetCredits(ctx context.Context, userID string) (int64, error)
	DebitCredits(ctx context.Context, userID string, amount int64, at time.Time) (int64, error)
}

type Storage interface {
	Register
	OrderStore
	Ledger
	Close() error
}
