// Package razorpay implements a Razorpay Orders API client.
package razorpay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client defines attributes of a struct available to its methods.
type Client struct {
	client *resty.Client
	cfg    *config.RazorpayConfig
	log    *zerolog.Logger
}

// InitClient initializes a resty client authenticated with the Razorpay key pair.
func InitClient(cfg *config.RazorpayConfig, log *zerolog.Logger) *Client {
	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	log.Info().Msg("razorpay client initialized")
	return &Client{client: restyClient, cfg: cfg, log: log}
}

func (c *Client) Provider() string {
	return modelpayment.ProviderRazorpay
}

// CreateOrder creates a Razorpay order for req.Amount minor units.
func (c *Client) CreateOrder(ctx context.Context, req modelpayment.OrderRequest) (*modelpayment.ProviderOrder, error) {
	var order modelpayment.RazorpayOrder
	var apiErr modelpayment.RazorpayError
	response, err := c.client.R().
		SetContext(ctx).
		SetBody(modelpayment.RazorpayOrderRequest{
			Amount:         req.Amount,
			Currency:       req.Currency,
			Receipt:        req.Receipt,
			PaymentCapture: true,
			Notes: map[string]string{
				"credits": strconv.FormatInt(req.Credits, 10),
				"userId":  req.UserID,
			},
		}).
		SetResult(&order).
		SetError(&apiErr).
		Post("/v1/orders")
	if err != nil {
		c.log.Error().Err(err).Str("receipt", req.Receipt).Msg("razorpay order creation failed")
		return nil, err
	}
	if response.IsError() {
		err = fmt.Errorf("status %d: %s", response.StatusCode(), apiErr.Error.Description)
		c.log.Error().Err(err).Str("receipt", req.Receipt).Msg("razorpay order creation rejected")
		return nil, err
	}
	if order.ID == "" {
		return nil, errors.New("razorpay returned an order without id")
	}
	c.log.Info().Str("order_id", order.ID).Int64("amount", order.Amount).Msg("razorpay order created")
	return &modelpayment.ProviderOrder{
		ID:       order.ID,
		Provider: modelpayment.ProviderRazorpay,
		Amount:   order.Amount,
		Currency: order.Currency,
		KeyID:    c.cfg.KeyID,
	}, nil
}

// FetchStatus derives the order state from its payments: any captured payment wins, otherwise the order
// is failed only when every attempt failed.
func (c *Client) FetchStatus(ctx context.Context, orderID string) (*modelpayment.ProviderStatus, error) {
	var payments modelpayment.RazorpayPayments
	var apiErr modelpayment.RazorpayError
	response, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"orderID": orderID}).
		SetResult(&payments).
		SetError(&apiErr).
		Get("/v1/orders/{orderID}/payments")
	if err != nil {
		c.log.Error().Err(err).Str("order_id", orderID).Msg("razorpay status retrieval failed")
		return nil, err
	}
	if response.IsError() {
		return nil, fmt.Errorf("status %d: %s", response.StatusCode(), apiErr.Error.Description)
	}
	status := &modelpayment.ProviderStatus{State: modelpayment.StatePending}
	failed := 0
	for _, payment := range payments.Items {
		switch payment.Status {
		case "captured":
			return &modelpayment.ProviderStatus{State: modelpayment.StateCaptured, PaymentID: payment.ID}, nil
		case "failed":
			failed++
		}
	}
	if len(payments.Items) > 0 && failed == len(payments.Items) {
		status.State = modelpayment.StateFailed
	}
	return status, nil
}
