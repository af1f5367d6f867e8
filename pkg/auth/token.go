// Package auth mints the short-lived bearer tokens the HTTP notifier presents to the
// web UI's event endpoint.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	ErrEmptySecret = errors.New("secret key is empty")
	ErrEmptyUserID = errors.New("user id is empty")
	ErrBadToken    = errors.New("invalid token")
)

// Claims mirrors the web UI session token: the user id under "id".
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// MintToken signs an HS256 token for userID. A zero ttl produces a token without "exp".
func MintToken(secret, userID string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if userID == "" {
		return "", ErrEmptyUserID
	}

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// ParseToken verifies an HS256 token and returns the user id it carries.
func ParseToken(secret, token string, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", errors.Wrap(ErrBadToken, err.Error())
	}
	if !parsed.Valid || claims.UserID == "" {
		return "", ErrBadToken
	}
	return claims.UserID, nil
}
