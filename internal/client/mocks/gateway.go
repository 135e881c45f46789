package mocks

import (
	"context"

	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/stretchr/testify/mock"
)

// Gateway is a testify mock of client.Gateway for a fixed provider name.
type Gateway struct {
	mock.Mock
	Name string
}

func (m *Gateway) Provider() string {
	return m.Name
}

func (m *Gateway) CreateOrder(ctx context.Context, req modelpayment.OrderRequest) (*modelpayment.ProviderOrder, error) {
	ret := m.Called(ctx, req)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*modelpayment.ProviderOrder), ret.Error(1)
}

func (m *Gateway) FetchStatus(ctx context.Context, orderID string) (*modelpayment.ProviderStatus, error) {
	ret := m.Called(ctx, orderID)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*modelpayment.ProviderStatus), ret.Error(1)
}
