package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoJWKS       = errors.New("no JWKS URL provided")
)

// StandardClaims represents the claims the service reads from a bearer token.
type StandardClaims struct {
	Sub    string `json:"sub"`
	UserId string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// OwnerID picks the identifier conversations are stored under: sub, then user_id, then email.
func (c *StandardClaims) OwnerID() (string, error) {
	switch {
	case c.Sub != "":
		return c.Sub, nil
	case c.UserId != "":
		return c.UserId, nil
	case c.Email != "":
		return c.Email, nil
	}
	return "", errors.Join(ErrInvalidToken, errors.New("no sub, user_id, or email found in token claims"))
}

// TokenValidator verifies a bearer token and returns the owner identifier it carries.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}
