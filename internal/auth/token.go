// Package auth decodes bearer tokens issued by the upstream API. The gateway
// only reads the identity out of a token; it never rejects a request for
// missing or bad credentials.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret      = errors.New("no token secret configured")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Identity is who a valid token says the caller is.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	return &TokenParser{secret: []byte(secret)}
}

// Parse validates the signature and expiry of tokenString and returns the
// identity it carries. The user id is read from "user_id", falling back to
// "sub".
func (p *TokenParser) Parse(tokenString string) (Identity, error) {
	if len(p.secret) == 0 {
		return Identity{}, ErrNoSecret
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}

	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidClaims
	}

	id := Identity{
		UserID: stringClaim(claims, "user_id"),
		Email:  stringClaim(claims, "email"),
		Role:   stringClaim(claims, "role"),
	}
	if id.UserID == "" {
		id.UserID = stringClaim(claims, "sub")
	}

	return id, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
