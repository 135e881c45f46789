// Package secretary provides JWT issuing and bcrypt password hashing.
package secretary

import (
	"errors"
	"fmt"
	"time"

	"github.com/danilovkiri/dk-go-prepcredits/internal/config"
	"github.com/danilovkiri/dk-go-prepcredits/internal/models/modelclaims"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Secretary defines object structure and its attributes.
type Secretary struct {
	key []byte
	ttl time.Duration
}

// NewSecretaryService initializes a secretary service.
func NewSecretaryService(c *config.SecretConfig) (*Secretary, error) {
	if c == nil || c.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Secretary{key: []byte(c.SecretKey), ttl: ttl}, nil
}

func (s *Secretary) NewUserID() string {
	return uuid.New().String()
}

// NewToken signs an HS256 access token for userID.
func (s *Secretary) NewToken(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &modelclaims.Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
	})
	return token.SignedString(s.key)
}

// ValidateToken returns the user identifier carried by a valid token.
func (s *Secretary) ValidateToken(accessToken string) (string, error) {
	token, err := jwt.ParseWithClaims(accessToken, &modelclaims.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*modelclaims.Claims); ok && token.Valid && claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", errors.New("invalid access token")
}

func (s *Secretary) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Secretary) ComparePassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
