package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PaulFidika/spinauth/jwks"
)

// KeyCache shares fetched JWKS documents between processes through Redis.
// Only the raw document is stored; key sets are rebuilt on read.
type KeyCache struct {
	rdb       *redis.Client
	keyNS     string
	retention time.Duration
}

type envelope struct {
	Raw       json.RawMessage `json:"raw"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTLMillis int64           `json:"ttl_ms"`
}

// NewKeyCache creates a Redis-backed key cache. Keys expire after retention,
// which should cover both the cache TTL and the stale window.
func NewKeyCache(rdb *redis.Client, keyPrefix string, retention time.Duration) *KeyCache {
	if keyPrefix == "" {
		keyPrefix = "spinauth:jwks:"
	}
	if retention <= 0 {
		retention = jwks.DefaultCacheTTL + jwks.DefaultMaxStale
	}
	return &KeyCache{rdb: rdb, keyNS: keyPrefix, retention: retention}
}

func (c *KeyCache) key(environmentID string) string { return c.keyNS + environmentID }

func (c *KeyCache) Put(ctx context.Context, environmentID string, e *jwks.Entry) error {
	if e == nil || len(e.Raw) == 0 {
		return errors.New("redisstore: entry has no raw document")
	}
	b, err := json.Marshal(envelope{Raw: e.Raw, FetchedAt: e.FetchedAt, TTLMillis: e.TTL.Milliseconds()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(environmentID), b, c.retention).Err()
}

func (c *KeyCache) Get(ctx context.Context, environmentID string) (*jwks.Entry, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(environmentID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, false, err
	}
	e, err := jwks.ParseEntry(environmentID, env.Raw, env.FetchedAt, time.Duration(env.TTLMillis)*time.Millisecond)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (c *KeyCache) Del(ctx context.Context, environmentID string) error {
	return c.rdb.Del(ctx, c.key(environmentID)).Err()
}
