// Package inpsql provides the PostgreSQL implementation of the storage contract.
package inpsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog"
)

const orderColumns = "order_id, provider, user_id, credits, amount, currency, status, created_at, completed_at, failed_at, payment_id"

const (
	queryInsertUser       = "INSERT INTO users (user_id, login, password, registered_at) VALUES ($1, $2, $3, $4)"
	querySelectUser       = "SELECT id, user_id, login, password, registered_at FROM users WHERE login = $1"
	queryInsertOrder      = "INSERT INTO orders (order_id, provider, user_id, credits, amount, currency, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"
	querySelectOrder      = "SELECT " + orderColumns + " FROM orders WHERE order_id = $1"
	querySelectOrderLock  = "SELECT " + orderColumns + " FROM orders WHERE order_id = $1 FOR UPDATE"
	querySelectUserOrders = "SELECT " + orderColumns + " FROM orders WHERE user_id = $1 ORDER BY created_at DESC"
	querySelectStale      = "SELECT " + orderColumns + " FROM orders WHERE status = 'created' AND created_at < $1 ORDER BY reconciled_at NULLS FIRST, created_at LIMIT $2"
	queryMarkReconciled   = "UPDATE orders SET reconciled_at = $2 WHERE order_id = $1 AND status = 'created'"
	queryCompleteOrder    = "UPDATE orders SET status = 'completed', payment_id = $2, completed_at = $3 WHERE order_id = $1 AND status = 'created'"
	queryFailOrder        = "UPDATE orders SET status = 'failed', failed_at = $2 WHERE order_id = $1 AND status = 'created'"
	queryCreditLedger     = "INSERT INTO ledger (user_id, credits, updated_at) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO UPDATE SET credits = ledger.credits + EXCLUDED.credits, updated_at = EXCLUDED.updated_at"
	querySelectCredits    = "SELECT credits FROM ledger WHERE user_id = $1"
	queryDebitLedger      = "UPDATE ledger SET credits = credits - $2, updated_at = $3 WHERE user_id = $1 AND credits >= $2 RETURNING credits"
)

// Storage defines attributes of a struct available to its methods.
type Storage struct {
	Cfg *config.StorageConfig
	DB  *sql.DB
	log *zerolog.Logger
}

type transition struct {
	order   *modelstorage.OrderStorageEntry
	applied bool
}

// InitStorage opens a PostgreSQL connection pool and makes sure the schema exists.
func InitStorage(ctx context.Context, cfg *config.StorageConfig, log *zerolog.Logger) (*Storage, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	st := NewStorage(db, log)
	st.Cfg = cfg
	if err = db.PingContext(ctx); err != nil {
		return nil, err
	}
	if err = st.createTables(ctx); err != nil {
		return nil, err
	}
	log.Info().Msg("PSQL DB connection was established")
	return st, nil
}

// NewStorage wraps an already opened connection pool.
func NewStorage(db *sql.DB, log *zerolog.Logger) *Storage {
	return &Storage{DB: db, log: log}
}

// runWithContext executes fn asynchronously and gives up as soon as ctx is done.
func runWithContext[T any](ctx context.Context, log *zerolog.Logger, operation string, fn func() (T, error)) (T, error) {
	chanOk := make(chan T, 1)
	chanEr := make(chan error, 1)
	go func() {
		value, err := fn()
		if err != nil {
			chanEr <- err
			return
		}
		chanOk <- value
	}()

	var zero T
	select {
	case <-ctx.Done():
		log.Error().Err(ctx.Err()).Msg(fmt.Sprintf("%s failed", operation))
		return zero, &storageErrors.ContextTimeoutExceededError{Err: ctx.Err()}
	case methodErr := <-chanEr:
		log.Error().Err(methodErr).Msg(fmt.Sprintf("%s failed", operation))
		return zero, methodErr
	case value := <-chanOk:
		log.Debug().Msg(fmt.Sprintf("%s done", operation))
		return value, nil
	}
}

func mapExecError(err error, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return &storageErrors.AlreadyExistsError{Err: err, ID: id}
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return &storageErrors.TxConflictError{Err: err}
		}
	}
	return &storageErrors.ExecutionPSQLError{Err: err}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*modelstorage.OrderStorageEntry, error) {
	var order modelstorage.OrderStorageEntry
	var status string
	var completedAt, failedAt sql.NullTime
	err := row.Scan(&order.OrderID, &order.Provider, &order.UserID, &order.Credits, &order.Amount, &order.Currency,
		&status, &order.CreatedAt, &completedAt, &failedAt, &order.PaymentID)
	if err != nil {
		return nil, err
	}
	order.Status = modelstorage.OrderStatus(status)
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		order.FailedAt = &failedAt.Time
	}
	return &order, nil
}

func (s *Storage) AddNewUser(ctx context.Context, user modelstorage.UserStorageEntry) error {
	newUserStmt, err := s.DB.PrepareContext(ctx, queryInsertUser)
	if err != nil {
		return &storageErrors.StatementPSQLError{Err: err}
	}
	defer newUserStmt.Close()
	_, err = runWithContext(ctx, s.log, "adding new user", func() (bool, error) {
		_, err := newUserStmt.ExecContext(ctx, user.UserID, user.Login, user.Password, time.Now().Format(time.RFC3339))
		if err != nil {
			return false, mapExecError(err, user.Login)
		}
		return true, nil
	})
	return err
}

func (s *Storage) GetUser(ctx context.Context, login string) (*modelstorage.UserStorageEntry, error) {
	selectStmt, err := s.DB.PrepareContext(ctx, querySelectUser)
	if err != nil {
		return nil, &storageErrors.StatementPSQLError{Err: err}
	}
	defer selectStmt.Close()
	return runWithContext(ctx, s.log, "getting user", func() (*modelstorage.UserStorageEntry, error) {
		var queryOutput modelstorage.UserStorageEntry
		var registeredAt time.Time
		err := selectStmt.QueryRowContext(ctx, login).Scan(&queryOutput.ID, &queryOutput.UserID, &queryOutput.Login, &queryOutput.Password, &registeredAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &storageErrors.NotFoundError{Err: err, ID: login}
			}
			return nil, &storageErrors.ScanningPSQLError{Err: err}
		}
		queryOutput.RegisteredAt = registeredAt.Format(time.RFC3339)
		return &queryOutput, nil
	})
}

func (s *Storage) CreateOrder(ctx context.Context, order modelstorage.OrderStorageEntry) error {
	_, err := runWithContext(ctx, s.log, "creating order "+order.OrderID, func() (bool, error) {
		_, err := s.DB.ExecContext(ctx, queryInsertOrder, order.OrderID, order.Provider, order.UserID, order.Credits,
			order.Amount, order.Currency, string(order.Status), order.CreatedAt)
		if err != nil {
			return false, mapExecError(err, order.OrderID)
		}
		return true, nil
	})
	return err
}

func (s *Storage) GetOrder(ctx context.Context, orderID string) (*modelstorage.OrderStorageEntry, error) {
	selectStmt, err := s.DB.PrepareContext(ctx, querySelectOrder)
	if err != nil {
		return nil, &storageErrors.StatementPSQLError{Err: err}
	}
	defer selectStmt.Close()
	return runWithContext(ctx, s.log, "getting order "+orderID, func() (*modelstorage.OrderStorageEntry, error) {
		order, err := scanOrder(selectStmt.QueryRowContext(ctx, orderID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &storageErrors.NotFoundError{Err: err, ID: orderID}
			}
			return nil, &storageErrors.ScanningPSQLError{Err: err}
		}
		return order, nil
	})
}

func (s *Storage) GetOrders(ctx context.Context, userID string) ([]modelstorage.OrderStorageEntry, error) {
	return s.queryOrders(ctx, "getting orders", querySelectUserOrders, userID)
}

func (s *Storage) GetStaleOrders(ctx context.Context, olderThan time.Time, limit int) ([]modelstorage.OrderStorageEntry, error) {
	return s.queryOrders(ctx, "getting stale orders", querySelectStale, olderThan, limit)
}

// MarkReconciled records when the reconciliation broker last checked a created order, so that stale sweeps
// rotate through the backlog instead of picking the same oldest orders every time.
func (s *Storage) MarkReconciled(ctx context.Context, orderID string, at time.Time) error {
	_, err := runWithContext(ctx, s.log, "marking order reconciled", func() (struct{}, error) {
		if _, err := s.DB.ExecContext(ctx, queryMarkReconciled, orderID, at); err != nil {
			return struct{}{}, mapExecError(err, orderID)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Storage) queryOrders(ctx context.Context, operation, query string, args ...any) ([]modelstorage.OrderStorageEntry, error) {
	selectStmt, err := s.DB.PrepareContext(ctx, query)
	if err != nil {
		return nil, &storageErrors.StatementPSQLError{Err: err}
	}
	defer selectStmt.Close()
	return runWithContext(ctx, s.log, operation, func() ([]modelstorage.OrderStorageEntry, error) {
		rows, err := selectStmt.QueryContext(ctx, args...)
		if err != nil {
			return nil, &storageErrors.ExecutionPSQLError{Err: err}
		}
		defer rows.Close()
		var queryOutput []modelstorage.OrderStorageEntry
		for rows.Next() {
			order, err := scanOrder(rows)
			if err != nil {
				return nil, &storageErrors.ScanningPSQLError{Err: err}
			}
			queryOutput = append(queryOutput, *order)
		}
		if err = rows.Err(); err != nil {
			return nil, &storageErrors.ScanningPSQLError{Err: err}
		}
		return queryOutput, nil
	})
}

// SettleOrder locks the order row, credits the owner's ledger row and completes the order in one transaction.
func (s *Storage) SettleOrder(ctx context.Context, orderID, paymentID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error) {
	res, err := runWithContext(ctx, s.log, "settling order "+orderID, func() (transition, error) {
		return s.transitionOrder(ctx, orderID, modelstorage.OrderCompleted, func(tx *sql.Tx, order *modelstorage.OrderStorageEntry) error {
			if _, err := tx.ExecContext(ctx, queryCreditLedger, order.UserID, order.Credits, at); err != nil {
				return mapExecError(err, order.UserID)
			}
			if _, err := tx.ExecContext(ctx, queryCompleteOrder, orderID, paymentID, at); err != nil {
				return mapExecError(err, orderID)
			}
			completedAt := at
			order.Status = modelstorage.OrderCompleted
			order.PaymentID = paymentID
			order.CompletedAt = &completedAt
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return res.order, res.applied, nil
}

// FailOrder marks the order failed; the ledger is left untouched.
func (s *Storage) FailOrder(ctx context.Context, orderID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error) {
	res, err := runWithContext(ctx, s.log, "failing order "+orderID, func() (transition, error) {
		return s.transitionOrder(ctx, orderID, modelstorage.OrderFailed, func(tx *sql.Tx, order *modelstorage.OrderStorageEntry) error {
			if _, err := tx.ExecContext(ctx, queryFailOrder, orderID, at); err != nil {
				return mapExecError(err, orderID)
			}
			failedAt := at
			order.Status = modelstorage.OrderFailed
			order.FailedAt = &failedAt
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return res.order, res.applied, nil
}

func (s *Storage) transitionOrder(ctx context.Context, orderID string, target modelstorage.OrderStatus, apply func(tx *sql.Tx, order *modelstorage.OrderStorageEntry) error) (transition, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return transition{}, &storageErrors.ExecutionPSQLError{Err: err}
	}
	defer tx.Rollback()

	order, err := scanOrder(tx.QueryRowContext(ctx, querySelectOrderLock, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transition{}, &storageErrors.NotFoundError{Err: err, ID: orderID}
		}
		return transition{}, mapExecError(err, orderID)
	}
	mustApply, err := order.Transition(target)
	if err != nil {
		return transition{}, &storageErrors.ConflictError{OrderID: orderID, Status: string(order.Status), Target: string(target)}
	}
	if !mustApply {
		return transition{order: order}, nil
	}
	if err = apply(tx, order); err != nil {
		return transition{}, err
	}
	if err = tx.Commit(); err != nil {
		return transition{}, mapExecError(err, orderID)
	}
	return transition{order: order, applied: true}, nil
}

func (s *Storage) GetCredits(ctx context.Context, userID string) (int64, error) {
	selectStmt, err := s.DB.PrepareContext(ctx, querySelectCredits)
	if err != nil {
		return 0, &storageErrors.StatementPSQLError{Err: err}
	}
	defer selectStmt.Close()
	return runWithContext(ctx, s.log, "getting credits", func() (int64, error) {
		var credits int64
		err := selectStmt.QueryRowContext(ctx, userID).Scan(&credits)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, nil
			}
			return 0, &storageErrors.ScanningPSQLError{Err: err}
		}
		return credits, nil
	})
}

// DebitCredits subtracts amount with a single conditional update so that the balance never goes negative.
func (s *Storage) DebitCredits(ctx context.Context, userID string, amount int64, at time.Time) (int64, error) {
	return runWithContext(ctx, s.log, "debiting credits", func() (int64, error) {
		var remaining int64
		err := s.DB.QueryRowContext(ctx, queryDebitLedger, userID, amount, at).Scan(&remaining)
		if err == nil {
			return remaining, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, mapExecError(err, userID)
		}
		var available int64
		err = s.DB.QueryRowContext(ctx, querySelectCredits, userID).Scan(&available)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, &storageErrors.ScanningPSQLError{Err: err}
		}
		return available, &storageErrors.InsufficientCreditsError{UserID: userID, Requested: amount, Available: available}
	})
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.DB.Close()
}

func (s *Storage) createTables(ctx context.Context) error {
	var queries []string
	query := `CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL   NOT NULL,
		user_id       TEXT        NOT NULL UNIQUE,
		login         TEXT        NOT NULL UNIQUE,
		password      TEXT        NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL
	);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS orders (
		order_id     TEXT        PRIMARY KEY,
		provider     TEXT        NOT NULL,
		user_id      TEXT        NOT NULL,
		credits      BIGINT      NOT NULL CHECK (credits > 0),
		amount       BIGINT      NOT NULL CHECK (amount > 0),
		currency     TEXT        NOT NULL,
		status       TEXT        NOT NULL CHECK (status IN ('created', 'completed', 'failed')),
		created_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		failed_at    TIMESTAMPTZ,
		payment_id   TEXT        NOT NULL DEFAULT ''
	);`
	queries = append(queries, query)
	query = `ALTER TABLE orders ADD COLUMN IF NOT EXISTS reconciled_at TIMESTAMPTZ;`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id, created_at DESC);`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status, created_at);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS ledger (
		user_id    TEXT        PRIMARY KEY,
		credits    BIGINT      NOT NULL CHECK (credits >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	);`
	queries = append(queries, query)
	for _, subquery := range queries {
		_, err := s.DB.ExecContext(ctx, subquery)
		if err != nil {
			return err
		}
	}
	return nil
}
