// Package modelstorage provides types for persisting users and orders.
package modelstorage

import (
	"errors"
	"time"
)

// OrderStatus is the lifecycle state of a purchase order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// ErrIllegalTransition is returned when an order in a terminal state receives a conflicting event.
var ErrIllegalTransition = errors.New("illegal order status transition")

type (
	UserStorageEntry struct {
		ID           uint   `db:"id"`
		UserID       string `db:"user_id"`
		Login        string `db:"login"`
		Password     string `db:"password"`
		RegisteredAt string `db:"registered_at"`
	}
	OrderStorageEntry struct {
		OrderID     string      `db:"order_id"`
		Provider    string      `db:"provider"`
		UserID      string      `db:"user_id"`
		Credits     int64       `db:"credits"`
		Amount      int64       `db:"amount"`
		Currency    string      `db:"currency"`
		Status      OrderStatus `db:"status"`
		CreatedAt   time.Time   `db:"created_at"`
		CompletedAt *time.Time  `db:"completed_at"`
		FailedAt    *time.Time  `db:"failed_at"`
		PaymentID   string      `db:"payment_id"`
	}
)

// Transition decides how an order reacts to a move into target.
// It returns apply=true when the move must be performed, apply=false when the order is already in target
// (a duplicate delivery), and ErrIllegalTransition when the order is terminal in the other state.
func (o *OrderStorageEntry) Transition(target OrderStatus) (apply bool, err error) {
	switch o.Status {
	case OrderCreated:
		if target == OrderCreated {
			return false, ErrIllegalTransition
		}
		return true, nil
	case target:
		return false, nil
	default:
		return false, ErrIllegalTransition
	}
}

// IsTerminal reports whether no further status transition is permitted.
func (o *OrderStorageEntry) IsTerminal() bool {
	return o.Status == OrderCompleted || o.Status == OrderFailed
}
