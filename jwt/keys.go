package jwtkit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// PinnedKeySet builds a key set from PEM-encoded RSA public keys indexed by kid.
// Pinned keys are an operator-supplied fallback for when the provider's JWKS
// endpoint is unreachable and nothing is cached yet.
func PinnedKeySet(pems map[string]string) (jwk.Set, error) {
	set := jwk.NewSet()
	kids := make([]string, 0, len(pems))
	for kid := range pems {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	for _, kid := range kids {
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("pinned key with empty kid")
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pems[kid]))
		if err != nil {
			return nil, fmt.Errorf("parse pinned key %s: %w", kid, err)
		}
		key, err := jwk.FromRaw(pub)
		if err != nil {
			return nil, fmt.Errorf("convert pinned key %s: %w", kid, err)
		}
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// ParsePinnedKeys decodes the SPINAUTH_PINNED_KEYS format, a JSON object of
// kid to PEM:
//
//	{"key-123": "-----BEGIN PUBLIC KEY-----\n..."}
//
// An empty string yields a nil set and no error.
func ParsePinnedKeys(raw string) (jwk.Set, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var pems map[string]string
	if err := json.Unmarshal([]byte(raw), &pems); err != nil {
		return nil, fmt.Errorf("failed to parse pinned keys JSON: %w", err)
	}
	if len(pems) == 0 {
		return nil, nil
	}
	return PinnedKeySet(pems)
}

// Fingerprint returns a short stable digest of a token for log correlation.
// Tokens are bearer credentials and never go into logs themselves.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return base58.Encode(sum[:16])
}
