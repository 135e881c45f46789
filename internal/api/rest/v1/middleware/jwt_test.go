package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/service/secretary/v1/secretary"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenHandler_TokenHandle(t *testing.T) {
	log := zerolog.Nop()
	sec, err := secretary.NewSecretaryService(&config.SecretConfig{SecretKey: "key", TokenTTL: time.Hour})
	require.NoError(t, err)
	th, err := NewTokenHandler(sec, &log)
	require.NoError(t, err)
	token, err := sec.NewToken("u1")
	require.NoError(t, err)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, err = UserIDFromContext(r.Context())
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	})

	var tests = []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid token", header: "Bearer " + token, want: http.StatusOK},
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "forged token", header: "Bearer abc.def.ghi", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/user/credits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			th.TokenHandle(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "u1", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := UserIDFromContext(req.Context())
	require.Error(t, err)
	userID, err := UserIDFromContext(WithUserID(req.Context(), "u2"))
	require.NoError(t, err)
	assert.Equal(t, "u2", userID)
}

func TestNewTokenHandler_NilSecretary(t *testing.T) {
	log := zerolog.Nop()
	_, err := NewTokenHandler(nil, &log)
	require.Error(t, err)
}
