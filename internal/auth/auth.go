// Package auth verifies API credentials and exposes the authenticated
// principal to request handlers.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by verifiers for unknown users and wrong
// passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is the authenticated caller of a request.
type Principal struct {
	Username string
}

// Verifier checks a username and password.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (Principal, error)
}

// BcryptVerifier checks passwords against bcrypt hashes held in
// configuration.
type BcryptVerifier struct {
	hashes map[string][]byte

	// unknown is compared for unknown users so they take as long as a
	// wrong password.
	unknown []byte
}

// NewBcryptVerifier builds a verifier from username to bcrypt password hash,
// as printed by HashPassword.
func NewBcryptVerifier(users map[string]string) (*BcryptVerifier, error) {
	hashes := make(map[string][]byte, len(users))
	cost := bcrypt.MinCost
	for user, hash := range users {
		c, err := bcrypt.Cost([]byte(hash))
		if err != nil {
			return nil, fmt.Errorf("user %q: invalid bcrypt hash: %w", user, err)
		}
		cost = max(cost, c)
		hashes[user] = []byte(hash)
	}

	unknown, err := bcrypt.GenerateFromPassword([]byte("unknown user"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare verifier: %w", err)
	}
	return &BcryptVerifier{hashes: hashes, unknown: unknown}, nil
}

// Verify implements Verifier.
func (v *BcryptVerifier) Verify(_ context.Context, username, password string) (Principal, error) {
	hash, ok := v.hashes[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(v.unknown, []byte(password))
		return Principal{}, ErrInvalidCredentials
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, fmt.Errorf("user %q: %w", username, err)
	}
	return Principal{Username: username}, nil
}

// HashPassword returns the bcrypt hash stored under server.users.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

const principalKey = "principal"

// Middleware requires HTTP basic authentication checked by v. A nil verifier
// disables authentication.
func Middleware(v Verifier) echo.MiddlewareFunc {
	if v == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "Report Kapp",
		Validator: func(username, password string, c echo.Context) (bool, error) {
			principal, err := v.Verify(c.Request().Context(), username, password)
			if errors.Is(err, ErrInvalidCredentials) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			c.Set(principalKey, principal)
			return true, nil
		},
	})
}

// PrincipalFrom returns the principal stored by Middleware.
func PrincipalFrom(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalKey).(Principal)
	return p, ok
}
