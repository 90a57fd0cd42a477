package auth

import (
	"context"
	"crypto/subtle"
	"strings"
)

// StaticAuthenticator compares keys against a single configured value.
// With no value configured it runs in development mode and accepts any
// well-formed gwk_ key.
type StaticAuthenticator struct {
	token string
}

func NewStaticAuthenticator(token string) *StaticAuthenticator {
	return &StaticAuthenticator{token: token}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if a.token != "" {
		if subtle.ConstantTimeCompare([]byte(a.token), []byte(token)) != 1 {
			return nil, ErrUnauthenticated
		}
		return &Principal{Name: "static", Source: "static"}, nil
	}
	if !strings.HasPrefix(token, TokenPrefix) || len(token) < prefixLen {
		return nil, ErrUnauthenticated
	}
	return &Principal{Name: "dev-" + token[len(TokenPrefix):prefixLen], Source: "static"}, nil
}
