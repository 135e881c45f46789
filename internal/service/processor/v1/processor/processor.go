// Package processor provides intermediary layer functionality between the DB and account endpoint handlers.

package processor

import (
	"context"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelstorage"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/secretary/v1"
	"github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
)

// Processor defines attributes of a struct available to its methods.
type Processor struct {
	storage   storage.Storage
	secretary secretary.Secretary
}

// InitService initializes an intermediary service for data processing.
func InitService(st storage.Storage, sec secretary.Secretary) (*Processor, error) {
	if st == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil storage was passed to service initializer"}
	}
	if sec == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil secretary was passed to service initializer"}
	}
	processor := &Processor{
		storage:   st,
		secretary: sec,
	}
	return processor, nil
}

// AddNewUser processes user register requests.
func (proc *Processor) AddNewUser(ctx context.Context, credentials modeldto.User) (string, error) {
	hash, err := proc.secretary.HashPassword(credentials.Password)
	if err != nil {
		return "", err
	}
	userID := proc.secretary.NewUserID()
	err = proc.storage.AddNewUser(ctx, modelstorage.UserStorageEntry{
		UserID:   userID,
		Login:    credentials.Login,
		Password: hash,
	})
	if err != nil {
		return "", err
	}
	return proc.secretary.NewToken(userID)
}

// LoginUser processes user login requests.
func (proc *Processor) LoginUser(ctx context.Context, credentials modeldto.User) (string, error) {
	user, err := proc.storage.GetUser(ctx, credentials.Login)
	if err != nil {
		return "", err
	}
	if !proc.secretary.ComparePassword(user.Password, credentials.Password) {
		return "", &storageErrors.NotFoundError{ID: credentials.Login}
	}
	return proc.secretary.NewToken(user.UserID)
}

// GetOrders processes orders query requests, newest first.
func (proc *Processor) GetOrders(ctx context.Context, userID string) ([]modeldto.Order, error) {
	orders, err := proc.storage.GetOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	responseOrders := make([]modeldto.Order, 0, len(orders))
	for _, order := range orders {
		responseOrder := modeldto.Order{
			OrderID:   order.OrderID,
			Provider:  order.Provider,
			Credits:   order.Credits,
			Amount:    order.Amount,
			Currency:  order.Currency,
			Status:    string(order.Status),
			CreatedAt: order.CreatedAt.Format(time.RFC3339),
			PaymentID: order.PaymentID,
		}
		if order.CompletedAt != nil {
			responseOrder.CompletedAt = order.CompletedAt.Format(time.RFC3339)
		}
		if order.FailedAt != nil {
			responseOrder.FailedAt = order.FailedAt.Format(time.RFC3339)
		}
		responseOrders = append(responseOrders, responseOrder)
	}
	return responseOrders, nil
}
