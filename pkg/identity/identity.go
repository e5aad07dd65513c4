// Package identity verifies caller identity on the inbound API.
//
// The posting engine does not issue credentials itself; the front end's
// auth provider mints HS256 tokens carrying a user id, and this package
// only verifies them and extracts the subject.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature,
// expiry, malformed claims.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the registered claims plus the caller's user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// Verifier checks inbound bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared HS256 secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("identity: signing secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// UserID verifies the token and returns its user id.
func (v *Verifier) UserID(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Issue mints a token for the user, used by tests and local tooling.
func Issue(userID string, secret []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID: userID,
	})
	return token.SignedString(secret)
}
