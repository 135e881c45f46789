// Package modelclaims provides types for token authorization.
package modelclaims

import "github.com/golang-jwt/jwt"

// Claims carries the caller identity inside an access token.
type Claims struct {
	UserID string `json:"userID"`
	jwt.StandardClaims
}
