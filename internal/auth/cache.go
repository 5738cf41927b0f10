package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-apns-client/pkg/dispatch"
)

// DefaultTokenTTL is how long a cached provider token is reused.
// APNs rejects tokens issued more than one hour ago.
const DefaultTokenTTL = 55 * time.Minute

// MaxTokenTTL is the hard upper bound APNs enforces.
const MaxTokenTTL = time.Hour

// BearerStore shares a provider token between processes.
type BearerStore interface {
	// Load returns the stored token; ok is false on a miss.
	Load(ctx context.Context) (tok dispatch.Token, ok bool, err error)
	Save(ctx context.Context, tok dispatch.Token, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// CachingIssuer is a decorator that reuses tokens from another issuer
// until they reach the configured TTL.
type CachingIssuer struct {
	next   dispatch.TokenIssuer
	store  BearerStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	current dispatch.Token
}

// NewCachingIssuer wraps next. store may be nil for a process-local cache.
func NewCachingIssuer(next dispatch.TokenIssuer, store BearerStore, ttl time.Duration, logger *slog.Logger) (*CachingIssuer, error) {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < 0 || ttl >= MaxTokenTTL {
		return nil, fmt.Errorf("token ttl %s must be positive and below %s", ttl, MaxTokenTTL)
	}
	return &CachingIssuer{
		next:   next,
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "CachingTokenIssuer"),
	}, nil
}

// Issue returns the cached token when still fresh, otherwise asks the
// shared store, and finally signs a new one.
// The lock is held while issuing so concurrent callers never sign twice.
func (c *CachingIssuer) Issue(ctx context.Context) (dispatch.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.fresh(c.current, now) {
		return c.current, nil
	}

	if c.store != nil {
		tok, ok, err := c.store.Load(ctx)
		switch {
		case err != nil:
			// Shared cache is an optimization; fall back to signing locally.
			c.logger.Warn("Bearer store load failed", "err", err)
		case ok && c.fresh(tok, now):
			c.current = tok
			return tok, nil
		}
	}

	tok, err := c.next.Issue(ctx)
	if err != nil {
		return dispatch.Token{}, err
	}
	c.current = tok

	if c.store != nil {
		remaining := c.ttl - now.Sub(tok.IssuedAt)
		if remaining > 0 {
			if err := c.store.Save(ctx, tok, remaining); err != nil {
				c.logger.Warn("Bearer store save failed", "err", err)
			}
		}
	}
	return tok, nil
}

// Invalidate forgets the current token, locally and in the shared store.
func (c *CachingIssuer) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = dispatch.Token{}
	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Warn("Bearer store clear failed", "err", err)
		}
	}
	c.logger.Info("Cached provider token invalidated")
}

func (c *CachingIssuer) fresh(tok dispatch.Token, now time.Time) bool {
	return tok.Bearer != "" && now.Sub(tok.IssuedAt) < c.ttl
}
