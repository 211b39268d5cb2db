package jwks

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Entry is one cached JWKS snapshot for an environment. Entries are never
// mutated after creation; a refresh stores a new Entry in place of the old one.
type Entry struct {
	EnvironmentID string
	Keys          jwk.Set
	// Raw is the document as fetched, kept so shared stores can persist it.
	Raw       []byte
	FetchedAt time.Time
	TTL       time.Duration
}

// Age reports how long ago the snapshot was fetched.
func (e *Entry) Age(now time.Time) time.Duration { return now.Sub(e.FetchedAt) }

// Fresh reports whether the entry can be served without refetching.
func (e *Entry) Fresh(now time.Time) bool {
	return e != nil && e.Age(now) < e.TTL
}

// Usable reports whether the entry may still be served as a degraded
// fallback when the upstream fetch fails.
func (e *Entry) Usable(now time.Time, maxStale time.Duration) bool {
	return e != nil && e.Age(now) < e.TTL+maxStale
}

// Store holds entries by environment id. Implementations must replace
// entries atomically: a Get racing a Put observes either the old or the new
// entry in full.
type Store interface {
	Get(ctx context.Context, environmentID string) (*Entry, bool, error)
	Put(ctx context.Context, environmentID string, e *Entry) error
	Del(ctx context.Context, environmentID string) error
}
