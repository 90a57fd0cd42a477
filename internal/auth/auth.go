// Package auth validates the API keys presented to the HTTP surface.
package auth

import (
	"context"
	"errors"
	"strings"
)

// TokenPrefix is the required prefix for gitward API keys.
const TokenPrefix = "gwk_"

// prefixLen is how much of a key is stored in clear for lookup. The
// rest is only ever compared against its bcrypt hash.
const prefixLen = 12

// Principal identifies an authenticated caller.
type Principal struct {
	Name   string
	Source string
}

// Authenticator validates a presented API key.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ParseBearer extracts a gwk_ API key from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, TokenPrefix) {
		return "", ErrUnauthenticated
	}
	return token, nil
}
