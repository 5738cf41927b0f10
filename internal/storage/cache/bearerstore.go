// Package cache keeps the APNs provider token in Redis so that several
// client processes sharing one signing key reuse a single token.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-apns-client/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns redis.Nil when the key does not exist.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// BearerStore implements auth.BearerStore on top of a CacheClient.
type BearerStore struct {
	cache CacheClient
	key   string
}

type bearerRecord struct {
	Bearer   string `json:"bearer"`
	IssuedAt int64  `json:"issued_at"`
}

// NewBearerStore scopes the cached token to one team and signing key.
func NewBearerStore(cache CacheClient, teamID, keyID string) *BearerStore {
	return &BearerStore{
		cache: cache,
		key:   fmt.Sprintf("apns:bearer:%s:%s", teamID, keyID),
	}
}

func (s *BearerStore) Load(ctx context.Context) (dispatch.Token, bool, error) {
	var rec bearerRecord
	err := s.cache.Get(ctx, s.key, &rec)
	if errors.Is(err, redis.Nil) {
		return dispatch.Token{}, false, nil
	}
	if err != nil {
		return dispatch.Token{}, false, fmt.Errorf("failed to load bearer %s: %w", s.key, err)
	}
	if rec.Bearer == "" {
		return dispatch.Token{}, false, nil
	}
	return dispatch.Token{Bearer: rec.Bearer, IssuedAt: time.Unix(rec.IssuedAt, 0)}, true, nil
}

func (s *BearerStore) Save(ctx context.Context, tok dispatch.Token, ttl time.Duration) error {
	rec := bearerRecord{Bearer: tok.Bearer, IssuedAt: tok.IssuedAt.Unix()}
	if err := s.cache.Set(ctx, s.key, rec, ttl); err != nil {
		return fmt.Errorf("failed to save bearer %s: %w", s.key, err)
	}
	return nil
}

func (s *BearerStore) Clear(ctx context.Context) error {
	return s.cache.Del(ctx, s.key)
}
