// Package stripe implements a Stripe Checkout Sessions API client.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelpayment"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client defines attributes of a struct available to its methods.
type Client struct {
	client     *resty.Client
	cfg        *config.StripeConfig
	appBaseURL string
	log        *zerolog.Logger
}

// InitClient initializes a resty client authenticated with the Stripe secret key.
func InitClient(cfg *config.StripeConfig, appBaseURL string, log *zerolog.Logger) *Client {
	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.SecretKey).
		SetTimeout(10 * time.Second)
	log.Info().Msg("stripe client initialized")
	return &Client{client: restyClient, cfg: cfg, appBaseURL: strings.TrimRight(appBaseURL, "/"), log: log}
}

func (c *Client) Provider() string {
	return modelpayment.ProviderStripe
}

// CreateOrder opens a hosted Checkout Session; the session id is the order id.
func (c *Client) CreateOrder(ctx context.Context, req modelpayment.OrderRequest) (*modelpayment.ProviderOrder, error) {
	credits := strconv.FormatInt(req.Credits, 10)
	var session modelpayment.StripeCheckoutSession
	var apiErr modelpayment.StripeError
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.Receipt).
		SetFormData(map[string]string{
			"mode":                    "payment",
			"payment_method_types[0]": "card",
			"line_items[0][price_data][currency]":           strings.ToLower(req.Currency),
			"line_items[0][price_data][product_data][name]": credits + " Credits",
			"line_items[0][price_data][unit_amount]":        strconv.FormatInt(req.Amount, 10),
			"line_items[0][quantity]":                       "1",
			"success_url":                                   c.appBaseURL + "/buy-credits?success=1",
			"cancel_url":                                    c.appBaseURL + "/buy-credits?canceled=1",
			"client_reference_id":                           req.UserID,
			"metadata[userId]":                              req.UserID,
			"metadata[credits]":                             credits,
		}).
		SetResult(&session).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		c.log.Error().Err(err).Str("receipt", req.Receipt).Msg("stripe session creation failed")
		return nil, err
	}
	if response.IsError() {
		err = fmt.Errorf("status %d: %s", response.StatusCode(), apiErr.Error.Message)
		c.log.Error().Err(err).Str("receipt", req.Receipt).Msg("stripe session creation rejected")
		return nil, err
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("stripe returned a session without id or url")
	}
	c.log.Info().Str("order_id", session.ID).Int64("amount", session.AmountTotal).Msg("stripe session created")
	return &modelpayment.ProviderOrder{
		ID:          session.ID,
		Provider:    modelpayment.ProviderStripe,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CheckoutURL: session.URL,
	}, nil
}

// FetchStatus maps the session's payment status onto a payment state.
func (c *Client) FetchStatus(ctx context.Context, orderID string) (*modelpayment.ProviderStatus, error) {
	var session modelpayment.StripeCheckoutSession
	var apiErr modelpayment.StripeError
	response, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"sessionID": orderID}).
		SetResult(&session).
		SetError(&apiErr).
		Get("/v1/checkout/sessions/{sessionID}")
	if err != nil {
		c.log.Error().Err(err).Str("order_id", orderID).Msg("stripe status retrieval failed")
		return nil, err
	}
	if response.IsError() {
		return nil, fmt.Errorf("status %d: %s", response.StatusCode(), apiErr.Error.Message)
	}
	return SessionStatus(&session), nil
}

// SessionStatus interprets a checkout session.
func SessionStatus(session *modelpayment.StripeCheckoutSession) *modelpayment.ProviderStatus {
	switch {
	case session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required":
		paymentID := session.PaymentIntent
		if paymentID == "" {
			paymentID = session.ID
		}
		return &modelpayment.ProviderStatus{State: modelpayment.StateCaptured, PaymentID: paymentID}
	case session.Status == "expired":
		return &modelpayment.ProviderStatus{State: modelpayment.StateFailed}
	default:
		return &modelpayment.ProviderStatus{State: modelpayment.StatePending}
	}
}
