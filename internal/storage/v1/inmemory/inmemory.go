// Package inmemory provides a process-local implementation of the storage contract.
// One mutex guards users, orders and balances so that settlement and debit stay atomic.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/rs/zerolog"
)

// Storage defines attributes of a struct available to its methods.
type Storage struct {
	mu      sync.Mutex
	users   map[string]modelstorage.UserStorageEntry
	orders  map[string]modelstorage.OrderStorageEntry
	checked map[string]time.Time
	credits map[string]int64
	log     *zerolog.Logger
}

// InitStorage initializes an empty in-memory storage.
func InitStorage(log *zerolog.Logger) *Storage {
	log.Info().Msg("in-memory storage initialized")
	return &Storage{
		users:   make(map[string]modelstorage.UserStorageEntry),
		orders:  make(map[string]modelstorage.OrderStorageEntry),
		checked: make(map[string]time.Time),
		credits: make(map[string]int64),
		log:     log,
	}
}

func (s *Storage) AddNewUser(ctx context.Context, user modelstorage.UserStorageEntry) error {
	if err := ctx.Err(); err != nil {
		return &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Login]; ok {
		return &storageErrors.AlreadyExistsError{Err: errors.New("duplicate login"), ID: user.Login}
	}
	for _, u := range s.users {
		if u.UserID == user.UserID {
			return &storageErrors.AlreadyExistsError{Err: errors.New("duplicate user id"), ID: user.UserID}
		}
	}
	user.ID = uint(len(s.users) + 1)
	s.users[user.Login] = user
	return nil
}

func (s *Storage) GetUser(ctx context.Context, login string) (*modelstorage.UserStorageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[login]
	if !ok {
		return nil, &storageErrors.NotFoundError{ID: login}
	}
	return &user, nil
}

func (s *Storage) CreateOrder(ctx context.Context, order modelstorage.OrderStorageEntry) error {
	if err := ctx.Err(); err != nil {
		return &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.OrderID]; ok {
		return &storageErrors.AlreadyExistsError{Err: errors.New("duplicate order id"), ID: order.OrderID}
	}
	s.orders[order.OrderID] = order
	return nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID string) (*modelstorage.OrderStorageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, &storageErrors.NotFoundError{ID: orderID}
	}
	return &order, nil
}

func (s *Storage) GetOrders(ctx context.Context, userID string) ([]modelstorage.OrderStorageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	var orders []modelstorage.OrderStorageEntry
	for _, order := range s.orders {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}
	s.mu.Unlock()
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// GetStaleOrders returns created orders older than olderThan, the ones never checked first and then the ones
// checked least recently.
func (s *Storage) GetStaleOrders(ctx context.Context, olderThan time.Time, limit int) ([]modelstorage.OrderStorageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []modelstorage.OrderStorageEntry
	for _, order := range s.orders {
		if order.Status == modelstorage.OrderCreated && order.CreatedAt.Before(olderThan) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		ci, iok := s.checked[orders[i].OrderID]
		cj, jok := s.checked[orders[j].OrderID]
		if iok != jok {
			return !iok
		}
		if iok && !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// MarkReconciled records when a created order was last checked; terminal orders are left alone.
func (s *Storage) MarkReconciled(ctx context.Context, orderID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.IsTerminal() {
		return nil
	}
	s.checked[orderID] = at
	return nil
}

// SettleOrder marks the order completed and credits its owner in one critical section.
func (s *Storage) SettleOrder(ctx context.Context, orderID, paymentID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, false, &storageErrors.NotFoundError{ID: orderID}
	}
	apply, err := order.Transition(modelstorage.OrderCompleted)
	if err != nil {
		return &order, false, &storageErrors.ConflictError{OrderID: orderID, Status: string(order.Status), Target: string(modelstorage.OrderCompleted)}
	}
	if !apply {
		return &order, false, nil
	}
	completedAt := at
	order.Status = modelstorage.OrderCompleted
	order.PaymentID = paymentID
	order.CompletedAt = &completedAt
	s.credits[order.UserID] += order.Credits
	s.orders[orderID] = order
	s.log.Info().Str("order_id", orderID).Str("user_id", order.UserID).Int64("credits", order.Credits).Msg("order settled")
	return &order, true, nil
}

// FailOrder marks the order failed without touching the ledger.
func (s *Storage) FailOrder(ctx context.Context, orderID string, at time.Time) (*modelstorage.OrderStorageEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, false, &storageErrors.NotFoundError{ID: orderID}
	}
	apply, err := order.Transition(modelstorage.OrderFailed)
	if err != nil {
		return &order, false, &storageErrors.ConflictError{OrderID: orderID, Status: string(order.Status), Target: string(modelstorage.OrderFailed)}
	}
	if !apply {
		return &order, false, nil
	}
	failedAt := at
	order.Status = modelstorage.OrderFailed
	order.FailedAt = &failedAt
	s.orders[orderID] = order
	return &order, true, nil
}

func (s *Storage) GetCredits(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits[userID], nil
}

func (s *Storage) DebitCredits(ctx context.Context, userID string, amount int64, _ time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &storageErrors.ContextTimeoutExceededError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.credits[userID]
	if current < amount {
		return current, &storageErrors.InsufficientCreditsError{UserID: userID, Requested: amount, Available: current}
	}
	s.credits[userID] = current - amount
	return current - amount, nil
}

// Close is a no-op kept for parity with the PostgreSQL storage.
func (s *Storage) Close() error {
	return nil
}
