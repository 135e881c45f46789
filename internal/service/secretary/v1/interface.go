// Package secretary provides methods for issuing access tokens and hashing passwords.
package secretary

// Secretary defines a set of methods for types implementing Secretary.
type Secretary interface {
	NewUserID() string
	NewToken(userID string) (string, error)
	ValidateToken(accessToken string) (string, error)
	HashPassword(password string) (string, error)
	ComparePassword(hash, password string) bool
}
