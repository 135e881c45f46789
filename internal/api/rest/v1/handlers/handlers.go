// Package handlers provides API endpoint handling functionality.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"time"

	handlersErrors "github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/middleware"
	"github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/validator"
	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/checkout/v1"
	serviceErrors "github.com/danilovkiri/dk-go-prepcredits/internal/service/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/ledger/v1"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/processor/v1"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/settlement/v1"
	storageErrors "github.com/danilovkiri/dk-go-prepcredits/internal/storage/v1/errors"
	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 5 * time.Second
	maxWebhookBody = 1 << 20
)

// Handler defines attributes of a struct available to its methods.
type Handler struct {
	processor    processor.Processor
	checkout     checkout.Checkout
	settler      settlement.Settler
	ledger       ledger.Ledger
	validator    *validator.XValidator
	serverConfig *config.ServerConfig
	log          *zerolog.Logger
}

// InitHandlers initializes a handler object.
func InitHandlers(
	proc processor.Processor,
	co checkout.Checkout,
	settler settlement.Settler,
	led ledger.Ledger,
	v *validator.XValidator,
	serverConfig *config.ServerConfig,
	log *zerolog.Logger,
) (*Handler, error) {
	if proc == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil processor was passed to handlers initializer"}
	}
	if co == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil checkout was passed to handlers initializer"}
	}
	if settler == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil settler was passed to handlers initializer"}
	}
	if led == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil ledger was passed to handlers initializer"}
	}
	if v == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil validator was passed to handlers initializer"}
	}
	if serverConfig == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil server config was passed to handlers initializer"}
	}
	return &Handler{
		processor:    proc,
		checkout:     co,
		settler:      settler,
		ledger:       led,
		validator:    v,
		serverConfig: serverConfig,
		log:          log,
	}, nil
}

func (h *Handler) timeout() time.Duration {
	if h.serverConfig.RequestTimeout <= 0 {
		return defaultTimeout
	}
	return h.serverConfig.RequestTimeout
}

// HandleRegister processes user register requests.
func (h *Handler) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		var credentials modeldto.User
		if err := h.decode(r, &credentials); err != nil {
			h.log.Error().Err(err).Msg("HandleRegister failed")
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.log.Info().Str("login", credentials.Login).Msg("new user register request detected")
		accessToken, err := h.processor.AddNewUser(ctx, credentials)
		if err != nil {
			h.log.Error().Err(err).Msg("HandleRegister failed")
			h.writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Authorization", "Bearer "+accessToken)
		w.WriteHeader(http.StatusOK)
	}
}

// HandleLogin processes user login requests.
func (h *Handler) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		var credentials modeldto.User
		if err := h.decode(r, &credentials); err != nil {
			h.log.Error().Err(err).Msg("HandleLogin failed")
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.log.Info().Str("login", credentials.Login).Msg("new login request detected")
		accessToken, err := h.processor.LoginUser(ctx, credentials)
		if err != nil {
			h.log.Error().Err(err).Msg("HandleLogin failed")
			var notFoundError *storageErrors.NotFoundError
			if errors.As(err, &notFoundError) {
				h.writeError(w, http.StatusUnauthorized, errors.New("invalid login or password"))
				return
			}
			h.writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Authorization", "Bearer "+accessToken)
		w.WriteHeader(http.StatusOK)
	}
}

// HandleGetCredits processes credit balance queries.
func (h *Handler) HandleGetCredits() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
		credits, err := h.ledger.Balance(ctx, userID)
		if err != nil {
			h.log.Error().Err(err).Msg("HandleGetCredits failed")
			h.writeError(w, statusFor(err), err)
			return
		}
		h.writeJSON(w, http.StatusOK, modeldto.Credits{Credits: credits})
	}
}

// HandleGetOrders processes order history queries.
func (h *Handler) HandleGetOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
		orders, err := h.processor.GetOrders(ctx, userID)
		if err != nil {
			h.log.Error().Err(err).Msg("HandleGetOrders failed")
			h.writeError(w, statusFor(err), err)
			return
		}
		if len(orders) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeJSON(w, http.StatusOK, orders)
	}
}

// HandleCheckout creates a provider checkout for a credit pack.
func (h *Handler) HandleCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
		provider := chi.URLParam(r, "provider")
		var request modeldto.CheckoutRequest
		if err = h.decode(r, &request); err != nil {
			h.log.Error().Err(err).Str("provider", provider).Msg("HandleCheckout failed")
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		response, err := h.checkout.CreateCheckout(ctx, provider, userID, request.CreditQuantity)
		if err != nil {
			h.log.Error().Err(err).Str("provider", provider).Msg("HandleCheckout failed")
			h.writeError(w, statusFor(err), err)
			return
		}
		h.writeJSON(w, http.StatusOK, response)
	}
}

// HandleConfirm settles an order from a signed checkout widget callback.
func (h *Handler) HandleConfirm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		var confirmation modeldto.PaymentConfirmation
		if err := h.decode(r, &confirmation); err != nil {
			h.log.Error().Err(err).Msg("HandleConfirm failed")
			h.writeJSON(w, http.StatusBadRequest, modeldto.ConfirmResponse{Error: err.Error()})
			return
		}
		err := h.settler.Confirm(ctx, confirmation.OrderID, confirmation.PaymentID, confirmation.Signature)
		if err != nil {
			h.log.Error().Err(err).Str("order_id", confirmation.OrderID).Msg("HandleConfirm failed")
			status := statusFor(err)
			h.writeJSON(w, status, modeldto.ConfirmResponse{Error: errorMessage(status, err)})
			return
		}
		h.writeJSON(w, http.StatusOK, modeldto.ConfirmResponse{Verified: true})
	}
}

// HandleWebhook applies a provider payment notification. The raw body is passed on untouched
// since the signature covers its exact bytes.
func (h *Handler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		provider := chi.URLParam(r, "provider")
		b, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			h.log.Error().Err(err).Str("provider", provider).Msg("HandleWebhook failed")
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		event, err := h.settler.Webhook(ctx, provider, b, r.Header)
		var conflictError *storageErrors.ConflictError
		if errors.As(err, &conflictError) {
			// a terminal order cannot change any more, so redelivery would never succeed
			h.writeJSON(w, http.StatusOK, modeldto.WebhookResponse{Received: true})
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("provider", provider).Msg("HandleWebhook failed")
			h.writeError(w, statusFor(err), err)
			return
		}
		h.log.Debug().Str("provider", provider).Str("event", event.Type).Str("order_id", event.OrderID).Msg("webhook processed")
		h.writeJSON(w, http.StatusOK, modeldto.WebhookResponse{Received: true})
	}
}

// HandleStartInterview charges the interview cost before a session starts.
func (h *Handler) HandleStartInterview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
		ok, err := h.ledger.StartInterview(ctx, userID)
		if err != nil {
			h.log.Error().Err(err).Msg("HandleStartInterview failed")
			h.writeError(w, statusFor(err), err)
			return
		}
		if !ok {
			h.writeError(w, http.StatusPaymentRequired, errors.New("insufficient credits"))
			return
		}
		h.writeJSON(w, http.StatusOK, modeldto.InterviewStartResponse{Success: true})
	}
}

// HandlePing reports liveness.
func (h *Handler) HandlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	b, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(b, dst); err != nil {
		return err
	}
	return h.validator.Check(dst)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	resBody, err := json.Marshal(body)
	if err != nil {
		h.log.Error().Err(err).Msg("response encoding failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(resBody)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, modeldto.ErrorResponse{Error: errorMessage(status, err)})
}

// errorMessage hides internal failure details from clients.
func errorMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}

// statusFor maps service and storage errors onto response codes.
func statusFor(err error) int {
	var (
		validationError     *serviceErrors.ServiceValidationError
		signatureError      *serviceErrors.ServiceSignatureError
		unknownProvider     *serviceErrors.ServiceUnknownProvider
		inconsistencyError  *serviceErrors.ServiceInconsistencyError
		gatewayError        *serviceErrors.ServiceGatewayError
		authenticationError *handlersErrors.AuthenticationError
		timeoutError        *storageErrors.ContextTimeoutExceededError
		notFoundError       *storageErrors.NotFoundError
		alreadyExistsError  *storageErrors.AlreadyExistsError
		conflictError       *storageErrors.ConflictError
		insufficientError   *storageErrors.InsufficientCreditsError
	)
	switch {
	case errors.As(err, &inconsistencyError):
		return http.StatusInternalServerError
	case errors.As(err, &gatewayError):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	case errors.As(err, &validationError), errors.As(err, &signatureError):
		return http.StatusBadRequest
	case errors.As(err, &authenticationError):
		return http.StatusUnauthorized
	case errors.As(err, &insufficientError):
		return http.StatusPaymentRequired
	case errors.As(err, &unknownProvider), errors.As(err, &notFoundError):
		return http.StatusNotFound
	case errors.As(err, &alreadyExistsError), errors.As(err, &conflictError):
		return http.StatusConflict
	case errors.As(err, &timeoutError), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
