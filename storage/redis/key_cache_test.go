package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/spinauth/jwks"
	jwtkit "github.com/PaulFidika/spinauth/jwt"
	memorystore "github.com/PaulFidika/spinauth/storage/memory"
)

func newTestCache(t *testing.T, retention time.Duration) (*KeyCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewKeyCache(rdb, "", retention), mr
}

func testEntry(t *testing.T) *jwks.Entry {
	t.Helper()
	s, err := jwtkit.NewRSASigner(2048, "kid-1")
	require.NoError(t, err)
	raw, err := json.Marshal(jwtkit.JWKS{Keys: []jwtkit.JWK{s.JWK()}})
	require.NoError(t, err)
	e, err := jwks.ParseEntry("env", raw, time.Now().Truncate(time.Millisecond), 10*time.Minute)
	require.NoError(t, err)
	return e
}

func TestKeyCache_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	e := testEntry(t)

	require.NoError(t, c.Put(ctx, "env", e))
	assert.True(t, mr.Exists("spinauth:jwks:env"))

	got, ok, err := c.Get(ctx, "env")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "env", got.EnvironmentID)
	assert.True(t, e.FetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, e.TTL, got.TTL)
	_, found := got.Keys.LookupKeyID("kid-1")
	assert.True(t, found)
}

func TestKeyCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyCache_ExpiresAfterRetention(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "env", testEntry(t)))
	assert.Equal(t, time.Hour, mr.TTL("spinauth:jwks:env"))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err := c.Get(ctx, "env")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyCache_Del(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "env", testEntry(t)))
	require.NoError(t, c.Del(ctx, "env"))
	_, ok, err := c.Get(ctx, "env")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyCache_RejectsEntryWithoutRaw(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	assert.Error(t, c.Put(context.Background(), "env", &jwks.Entry{}))
}

func TestKeyCache_CorruptValue(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	require.NoError(t, mr.Set("spinauth:jwks:env", "not json"))
	_, ok, err := c.Get(context.Background(), "env")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestKeyCache_ServesAsSharedTier(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	calls := 0
	doc := testEntry(t).Raw
	fetch := fetcherFunc(func(context.Context, string) ([]byte, error) {
		calls++
		return doc, nil
	})

	newResolver := func() *jwks.Resolver {
		r, err := jwks.NewResolver(jwks.Config{}, memorystore.NewKeyCache(0), jwks.WithSharedStore(c), jwks.WithFetcher(fetch))
		require.NoError(t, err)
		return r
	}
	_, err := newResolver().Resolve(ctx, "env")
	require.NoError(t, err)
	set, err := newResolver().Resolve(ctx, "env")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, set.Len())
}

type fetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }
