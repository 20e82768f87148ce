package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-reminders/internal/common/errors"

	"github.com/golang-jwt/jwt/v4"
)

const issuer = "crm-reminders"

// JWTAuth validates HS256 tokens signed with the shared CRM secret.
type JWTAuth struct {
	key string
}

func NewJWTAuth(key string) *JWTAuth {
	return &JWTAuth{key: key}
}

// Decode parses and verifies a token. A "Bearer " prefix is accepted.
func (a *JWTAuth) Decode(tokenString string) (jwt.MapClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.key), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// Encode signs claims, adding iat, iss and a 24h exp when missing.
func (a *JWTAuth) Encode(customClaims jwt.MapClaims) (string, error) {
	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"iss": issuer,
	}
	for k, v := range customClaims {
		claims[k] = v
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(24 * time.Hour).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.key))
}

// Validate implements TokenValidator.
func (a *JWTAuth) Validate(_ context.Context, token string) (*Principal, error) {
	claims, err := a.Decode(token)
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}

	p := &Principal{}
	if sub, ok := claims["sub"].(string); ok {
		p.Subject = sub
	}
	if name, ok := claims["username"].(string); ok {
		p.Username = name
	} else if email, ok := claims["email"].(string); ok {
		p.Username = email
	}
	return p, nil
}
