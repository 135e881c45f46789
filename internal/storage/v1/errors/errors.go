// Package errors provides custom storage error types.
package errors

import (
	"fmt"
)

type (
	StatementPSQLError struct {
		Err error
	}
	AlreadyExistsError struct {
		Err error
		ID  string
	}
	ExecutionPSQLError struct {
		Err error
	}
	ScanningPSQLError struct {
		Err error
	}
	ContextTimeoutExceededError struct {
		Err error
	}
	NotFoundError struct {
		Err error
		ID  string
	}
	ConflictError struct {
		OrderID string
		Status  string
		Target  string
	}
	InsufficientCreditsError struct {
		UserID    string
		Requested int64
		Available int64
	}
	TxConflictError struct {
		Err error
	}
)

func (e *StatementPSQLError) Error() string {
	return fmt.Sprintf("%s: could not compile", e.Err.Error())
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s: already exists", e.ID)
}

func (e *ExecutionPSQLError) Error() string {
	return fmt.Sprintf("%s: could not execute", e.Err.Error())
}

func (e *ScanningPSQLError) Error() string {
	return fmt.Sprintf("%s: could not scan", e.Err.Error())
}

func (e *ContextTimeoutExceededError) Error() string {
	return fmt.Sprintf("%s: context timeout exceeded", e.Err.Error())
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found", e.ID)
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.Status, e.Target)
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("user %s: %d credits requested, %d available", e.UserID, e.Requested, e.Available)
}

func (e *TxConflictError) Error() string {
	return fmt.Sprintf("%s: concurrent transaction conflict", e.Err.Error())
}
