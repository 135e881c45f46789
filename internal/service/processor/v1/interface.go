package processor

import (
	"context"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modeldto"
)

// Processor covers account and order history requests.
type Processor interface {
	AddNewUser(ctx context.Context, credentials modeldto.User) (string, error)
	LoginUser(ctx context.Context, credentials modeldto.User) (string, error)
	GetOrders(ctx context.Context, userID string) ([]modeldto.Order, error)
}
