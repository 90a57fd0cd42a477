package auth

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// NewToken mints a fresh API key. The caller stores the hash and prefix
// via HashToken and hands the clear token to exactly one client.
func NewToken() string {
	u := uuid.New()
	return TokenPrefix + hex.EncodeToString(u[:])
}

// HashToken returns the lookup prefix and bcrypt hash to store for a
// token. The clear token is never persisted.
func HashToken(token string) (prefix, hash string, err error) {
	if len(token) < prefixLen {
		return "", "", fmt.Errorf("HashToken: token shorter than %d characters", prefixLen)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("HashToken: %w", err)
	}
	return token[:prefixLen], string(h), nil
}
