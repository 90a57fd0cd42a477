package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TokenStore abstracts the api_tokens lookup for testability.
type TokenStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*tokenRow, error)
}

type tokenRow struct {
	Name      string
	TokenHash string
	Disabled  bool
}

type sqlTokenStore struct {
	db *sql.DB
}

func (s *sqlTokenStore) LookupByPrefix(ctx context.Context, prefix string) (*tokenRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, token_hash, disabled
		FROM api_tokens
		WHERE token_prefix = $1
	`, prefix)

	var r tokenRow
	if err := row.Scan(&r.Name, &r.TokenHash, &r.Disabled); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresAuthenticator validates API keys against the api_tokens table.
type PostgresAuthenticator struct {
	store    TokenStore
	cache    *Cache
	logger   *zap.Logger
	failOpen bool
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	FailOpen bool
	Logger   *zap.Logger
}

func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:    &sqlTokenStore{db: cfg.DB},
		cache:    NewCache(ttl),
		logger:   cfg.Logger,
		failOpen: cfg.FailOpen,
	}
}

// newPostgresAuthenticatorWithStore injects a custom store for tests.
func newPostgresAuthenticatorWithStore(store TokenStore, cache *Cache, failOpen bool, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{
		store:    store,
		cache:    cache,
		logger:   logger,
		failOpen: failOpen,
	}
}

// Authenticate serves from cache when possible; an expired entry is
// served stale while one goroutine refreshes it. Fail-open applies only
// to infrastructure failures, never to a key that failed verification.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	cached := a.cache.Get(token)
	if cached.Hit {
		if cached.NeedsRefresh {
			go a.refreshInBackground(token)
		}
		return cached.Principal, nil
	}

	principal, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		if a.failOpen && !errors.Is(err, ErrUnauthenticated) {
			a.logger.Warn("auth lookup failed, degrading to fail-open", zap.Error(err))
			return &Principal{Name: "unknown", Source: "postgres"}, nil
		}
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	a.cache.Set(token, principal)
	return principal, nil
}

func (a *PostgresAuthenticator) authenticateFromDB(ctx context.Context, token string) (*Principal, error) {
	if len(token) < prefixLen {
		return nil, ErrUnauthenticated
	}
	prefix := token[:prefixLen]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("authenticateFromDB: %w", err)
	}
	if row.Disabled {
		return nil, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.TokenHash), []byte(token)); err != nil {
		return nil, ErrUnauthenticated
	}

	return &Principal{Name: row.Name, Source: "postgres"}, nil
}

// refreshInBackground re-validates an expired cache entry. On failure
// the entry is dropped so the next call authenticates synchronously.
func (a *PostgresAuthenticator) refreshInBackground(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	principal, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Delete(token)
		return
	}
	a.cache.Set(token, principal)
}
