// Package auth guards the reminder API.
package auth

import (
	"context"
	"fmt"

	"crm-reminders/internal/common/config"
	"crm-reminders/internal/common/errors"

	"github.com/gin-gonic/gin"
)

const principalKey = "auth.principal"

// Principal identifies the caller of an API request.
type Principal struct {
	Subject  string `json:"sub"`
	Username string `json:"username,omitempty"`
}

// TokenValidator turns a bearer token into a Principal or an error.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Principal, error)
}

// NewValidator builds the validator for the configured mode. It returns nil
// for mode "none".
func NewValidator(cfg config.AuthConfig) (TokenValidator, error) {
	switch cfg.Mode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeJWT:
		return NewJWTAuth(cfg.JWT.Secret), nil
	case config.AuthModeKeycloak:
		kc := cfg.Keycloak
		return NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// Middleware rejects requests without a valid Authorization header.
func Middleware(v TokenValidator, h *errors.ErrorHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			h.Respond(c, errors.NewUnauthorizedError("missing Authorization header"))
			return
		}

		p, err := v.Validate(c.Request.Context(), header)
		if err != nil {
			if !errors.HasCode(err, errors.ErrCodeUnauthorized) && !errors.HasCode(err, errors.ErrCodeInternal) {
				err = errors.NewUnauthorizedError(err.Error())
			}
			h.Respond(c, err)
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
