package core

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/PaulFidika/spinauth/jwks"
)

// AcceptConfig configures verification of provider-issued JWTs (verify-only mode).
type AcceptConfig struct {
	// EnvironmentID selects the provider environment whose keys sign tokens.
	// Empty is a server misconfiguration reported on every request.
	EnvironmentID   string
	JWKSURLTemplate string // must contain {environment_id}
	CacheTTL        time.Duration
	MaxStale        time.Duration
	FetchTimeout    time.Duration
	// Skew is the leeway applied to exp and nbf.
	Skew time.Duration
	// PinnedKeys are served only when the JWKS endpoint is unreachable and
	// nothing usable is cached. See jwtkit.PinnedKeySet.
	PinnedKeys jwk.Set
}

// DefaultSkew is the exp/nbf leeway when none is configured.
const DefaultSkew = 30 * time.Second

// ResolverConfig returns the JWKS resolver settings carried by c.
func (c AcceptConfig) ResolverConfig() jwks.Config {
	return jwks.Config{
		URLTemplate:  c.JWKSURLTemplate,
		CacheTTL:     c.CacheTTL,
		MaxStale:     c.MaxStale,
		FetchTimeout: c.FetchTimeout,
	}
}

// ResolverOptions returns the resolver options implied by c.
func (c AcceptConfig) ResolverOptions() []jwks.Option {
	if c.PinnedKeys == nil || c.PinnedKeys.Len() == 0 {
		return nil
	}
	return []jwks.Option{jwks.WithPinnedKeys(c.PinnedKeys)}
}
