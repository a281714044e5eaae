package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

const TokenTypeAccess = "access"

var (
	ErrSecretNotConfigured = errors.New("JWT secret not configured")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrWrongTokenType      = errors.New("invalid token type")
	ErrMissingSubject      = errors.New("token has no subject")
)

// Claims are the claims carried by tokens issued to wallet users.
type Claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenValidator checks HMAC-signed user tokens.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	if secret == "" {
		return &TokenValidator{}
	}
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses tokenStr and checks signature, expiry and, when
// expectedType is set, the typ claim. The subject must be present.
func (v *TokenValidator) Validate(tokenStr, expectedType string) (*Claims, error) {
	if v.secret == nil {
		return nil, ErrSecretNotConfigured
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if expectedType != "" && claims.Type != expectedType {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
