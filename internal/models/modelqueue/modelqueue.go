// Package modelqueue provides types for queueing orders awaiting reconciliation.
package modelqueue

import "time"

type ReconcileEntry struct {
	OrderID   string
	Provider  string
	UserID    string
	CreatedAt time.Time
}
