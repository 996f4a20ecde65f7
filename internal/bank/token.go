package bank

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc exchanges credentials for a bearer token and its absolute
// expiry instant
type RefreshFunc func(ctx context.Context) (token string, expiry time.Time, err error)

// TokenGuard caches an access token and refreshes it when absent or expired.
// The mutex is held across the refresh call, so concurrent callers that
// observe an expired token block behind the first refresher instead of each
// issuing their own authentication request.
type TokenGuard struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	clock  Clock
}

// NewTokenGuard creates an empty guard; the first Token call triggers a
// refresh
func NewTokenGuard(clock Clock) *TokenGuard {
	return &TokenGuard{clock: clock}
}

// Token returns a valid bearer token, calling refresh at most once across all
// concurrent callers when the cached one is missing or expired
func (g *TokenGuard) Token(ctx context.Context, refresh RefreshFunc) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && g.clock.Now().Before(g.expiry) {
		return g.token, nil
	}

	token, expiry, err := refresh(ctx)
	if err != nil {
		return "", err
	}
	g.token = token
	g.expiry = expiry
	return token, nil
}

// Invalidate drops the cached token so the next Token call refreshes
func (g *TokenGuard) Invalidate() {
	g.mu.Lock()
	g.token = ""
	g.expiry = time.Time{}
	g.mu.Unlock()
}
