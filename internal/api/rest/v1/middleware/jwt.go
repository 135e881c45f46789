// Package middleware provides various middleware functionality.
package middleware

import (
	"context"
	"net/http"
	"strings"

	handlersErrors "github.com/danilovkiri/dk-go-prepcredits/internal/api/rest/v1/errors"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/secretary/v1"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// TokenHandler sets object structure.
type TokenHandler struct {
	sec secretary.Secretary
	log *zerolog.Logger
}

// NewTokenHandler initializes a new token handler.
func NewTokenHandler(sec secretary.Secretary, log *zerolog.Logger) (*TokenHandler, error) {
	if sec == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil secretary object was found"}
	}
	return &TokenHandler{
		sec: sec,
		log: log,
	}, nil
}

// TokenHandle resolves the bearer token into a user identifier stored in the request context.
func (c *TokenHandler) TokenHandle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if len(tokenString) == 0 {
			http.Error(w, "Token authorization required", http.StatusUnauthorized)
			return
		}
		tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
		userID, err := c.sec.ValidateToken(tokenString)
		if err != nil {
			c.log.Debug().Err(err).Msg("token rejected")
			http.Error(w, "Invalid access token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the caller resolved by TokenHandle.
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(ctxKey{}).(string)
	if !ok || userID == "" {
		return "", &handlersErrors.AuthenticationError{Msg: "unauthenticated request"}
	}
	return userID, nil
}
