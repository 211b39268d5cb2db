// Package jwks resolves the signing keys published by the identity provider
// for a given environment, caching them per environment id.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/PaulFidika/spinauth/autherr"
	"github.com/PaulFidika/spinauth/metrics"
)

const (
	// EnvironmentPlaceholder is substituted with the environment id in URL templates.
	EnvironmentPlaceholder = "{environment_id}"
	// DefaultURLTemplate is Dynamic's per-environment JWKS endpoint.
	DefaultURLTemplate = "https://app.dynamic.xyz/api/v0/sdk/" + EnvironmentPlaceholder + "/.well-known/jwks"

	DefaultCacheTTL     = 10 * time.Minute
	DefaultMaxStale     = time.Hour
	DefaultFetchTimeout = 5 * time.Second
	DefaultRetryBackoff = 200 * time.Millisecond
)

// Config controls URL derivation, caching and fetch behaviour.
type Config struct {
	URLTemplate string
	CacheTTL    time.Duration
	// MaxStale is how long past CacheTTL an entry may still be served when the
	// upstream fetch fails. Zero fails closed as soon as the TTL lapses.
	MaxStale time.Duration
	// FetchTimeout bounds each fetch attempt.
	FetchTimeout time.Duration
	// RetryBackoff is the pause before the single retry of a transient failure.
	// Negative disables the retry.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URLTemplate) == "" {
		c.URLTemplate = DefaultURLTemplate
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.MaxStale < 0 {
		c.MaxStale = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Retention is how long an entry stays useful to the resolver at all.
// Stores may drop entries older than this.
func (c Config) Retention() time.Duration {
	c = c.withDefaults()
	return c.CacheTTL + c.MaxStale
}

// URLFor derives the JWKS URL for an environment from template.
func URLFor(template, environmentID string) string {
	return strings.ReplaceAll(template, EnvironmentPlaceholder, url.PathEscape(environmentID))
}

// Resolver returns the current key set for an environment.
//
// Lookups go local store, then shared store (if any), then network. Concurrent
// misses for the same environment share a single fetch. That fetch is detached
// from the caller that triggered it, so one caller giving up does not fail the
// others or prevent the cache from being filled.
type Resolver struct {
	cfg     Config
	local   Store
	shared  Store
	fetcher Fetcher
	pinned  jwk.Set
	group   singleflight.Group
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSharedStore adds a second cache tier shared between processes.
func WithSharedStore(s Store) Option { return func(r *Resolver) { r.shared = s } }

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option { return func(r *Resolver) { r.fetcher = f } }

// WithPinnedKeys sets keys served when the upstream is unavailable and no
// usable cache entry exists.
func WithPinnedKeys(set jwk.Set) Option { return func(r *Resolver) { r.pinned = set } }

func WithLogger(l logrus.FieldLogger) Option { return func(r *Resolver) { r.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// WithClock overrides time.Now for freshness decisions.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// NewResolver builds a resolver over the given cache store.
func NewResolver(cfg Config, cache Store, opts ...Option) (*Resolver, error) {
	if cache == nil {
		return nil, errors.New("jwks: key cache store is required")
	}
	cfg = cfg.withDefaults()
	if !strings.Contains(cfg.URLTemplate, EnvironmentPlaceholder) {
		return nil, fmt.Errorf("jwks: url template %q has no %s placeholder", cfg.URLTemplate, EnvironmentPlaceholder)
	}
	r := &Resolver{
		cfg:     cfg,
		local:   cache,
		fetcher: NewHTTPFetcher(nil),
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config { return r.cfg }

// URL returns the JWKS URL for an environment.
func (r *Resolver) URL(environmentID string) string {
	return URLFor(r.cfg.URLTemplate, environmentID)
}

// Resolve returns the key set for environmentID, fetching it when the cached
// copy is missing or stale. It never returns an empty set.
func (r *Resolver) Resolve(ctx context.Context, environmentID string) (jwk.Set, error) {
	if environmentID == "" {
		return nil, autherr.New(autherr.ServerMisconfigured, "")
	}
	now := r.now()
	if e := r.get(ctx, r.local, environmentID); e.Fresh(now) {
		r.metrics.CacheResult(metrics.CacheHit)
		return e.Keys, nil
	}
	if r.shared != nil {
		if e := r.get(ctx, r.shared, environmentID); e.Fresh(now) {
			r.metrics.CacheResult(metrics.CacheSharedHit)
			_ = r.local.Put(ctx, environmentID, e)
			return e.Keys, nil
		}
	}
	r.metrics.CacheResult(metrics.CacheMiss)

	e, err := r.fetchShared(ctx, environmentID)
	if err == nil {
		return e.Keys, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, autherr.Wrap(autherr.UpstreamUnavailable, "", ctxErr)
	}
	return r.fallback(ctx, environmentID, err)
}

// Refresh fetches the environment's keys regardless of cache freshness.
// It joins an in-flight fetch if there is one.
func (r *Resolver) Refresh(ctx context.Context, environmentID string) error {
	if environmentID == "" {
		return autherr.New(autherr.ServerMisconfigured, "")
	}
	_, err := r.fetchShared(ctx, environmentID)
	return err
}

// Cached returns the locally cached entry, fresh or not.
func (r *Resolver) Cached(ctx context.Context, environmentID string) (*Entry, bool) {
	e := r.get(ctx, r.local, environmentID)
	return e, e != nil
}

// Invalidate drops the local entry, forcing the next Resolve to refetch.
// Use after a known key rotation.
func (r *Resolver) Invalidate(ctx context.Context, environmentID string) error {
	return r.local.Del(ctx, environmentID)
}

func (r *Resolver) get(ctx context.Context, s Store, environmentID string) *Entry {
	e, ok, err := s.Get(ctx, environmentID)
	if err != nil {
		r.log.WithError(err).WithField("environment_id", environmentID).Warn("jwks: cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	return e
}

// fallback decides what to serve after a failed fetch: a stale entry within
// MaxStale, then pinned keys, then nothing.
func (r *Resolver) fallback(ctx context.Context, environmentID string, fetchErr error) (jwk.Set, error) {
	now := r.now()
	log := r.log.WithError(fetchErr).WithField("environment_id", environmentID)

	stale := r.get(ctx, r.local, environmentID)
	if !stale.Usable(now, r.cfg.MaxStale) && r.shared != nil {
		stale = r.get(ctx, r.shared, environmentID)
	}
	if stale.Usable(now, r.cfg.MaxStale) {
		r.metrics.CacheResult(metrics.CacheStale)
		log.WithField("age", stale.Age(now).String()).Warn("jwks: upstream unavailable, serving stale keys")
		return stale.Keys, nil
	}
	if r.pinned != nil && r.pinned.Len() > 0 {
		r.metrics.CacheResult(metrics.CachePinned)
		log.Warn("jwks: upstream unavailable, serving pinned keys")
		return r.pinned, nil
	}
	log.Error("jwks: upstream unavailable and no usable keys cached")
	return nil, autherr.Wrap(autherr.UpstreamUnavailable, "", fetchErr)
}

// fetchShared runs at most one fetch per environment at a time. The caller
// waits for the shared result or its own cancellation, whichever is first.
func (r *Resolver) fetchShared(ctx context.Context, environmentID string) (*Entry, error) {
	base := context.WithoutCancel(ctx)
	ch := r.group.DoChan(environmentID, func() (any, error) {
		return r.fetchAndStore(base, environmentID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) fetchAndStore(ctx context.Context, environmentID string) (*Entry, error) {
	u := r.URL(environmentID)
	log := r.log.WithFields(logrus.Fields{"environment_id": environmentID, "jwks_url": u})

	start := time.Now()
	raw, err := r.fetchWithRetry(ctx, u)
	if err != nil {
		r.metrics.ObserveFetch(metrics.FetchError, time.Since(start))
		log.WithError(err).Warn("jwks: fetch failed")
		return nil, err
	}
	set, err := parseKeySet(raw)
	if err != nil {
		r.metrics.ObserveFetch(metrics.FetchError, time.Since(start))
		log.WithError(err).Warn("jwks: invalid document")
		return nil, err
	}
	r.metrics.ObserveFetch(metrics.FetchOK, time.Since(start))

	e := &Entry{
		EnvironmentID: environmentID,
		Keys:          set,
		Raw:           raw,
		FetchedAt:     r.now(),
		TTL:           r.cfg.CacheTTL,
	}
	if err := r.local.Put(ctx, environmentID, e); err != nil {
		log.WithError(err).Warn("jwks: cache write failed")
	}
	if r.shared != nil {
		if err := r.shared.Put(ctx, environmentID, e); err != nil {
			log.WithError(err).Warn("jwks: shared cache write failed")
		}
	}
	log.WithField("keys", set.Len()).Debug("jwks: refreshed")
	return e, nil
}

func (r *Resolver) fetchWithRetry(ctx context.Context, u string) ([]byte, error) {
	attempts := 2
	if r.cfg.RetryBackoff < 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(r.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		var raw []byte
		actx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		raw, err = r.fetcher.Fetch(actx, u)
		cancel()
		if err == nil {
			return raw, nil
		}
		if !retryable(err) {
			break
		}
	}
	return nil, err
}

// parseKeySet decodes a JWKS document and refuses empty sets.
func parseKeySet(raw []byte) (jwk.Set, error) {
	set, err := jwk.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("jwks contains no keys")
	}
	return set, nil
}

// ParseEntry rebuilds an Entry from a persisted raw document. Shared stores
// use it to turn bytes back into a key set.
func ParseEntry(environmentID string, raw []byte, fetchedAt time.Time, ttl time.Duration) (*Entry, error) {
	set, err := parseKeySet(raw)
	if err != nil {
		return nil, err
	}
	return &Entry{EnvironmentID: environmentID, Keys: set, Raw: raw, FetchedAt: fetchedAt, TTL: ttl}, nil
}
