package bog

import (
	"context"
	"sync"
	"time"
)

// refreshSkew is how long before expiry a cached token is treated as stale.
const refreshSkew = 60 * time.Second

type fetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one bearer token and its expiry. Refreshes are serialized
// so concurrent callers share a single upstream request.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewTokenCache(now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{now: now}
}

func (c *TokenCache) Token(ctx context.Context, fetch fetchFunc) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-refreshSkew)) {
		return c.token, nil
	}

	token, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl)
	return token, nil
}

// Invalidate drops the cached token, forcing the next call to refresh.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
