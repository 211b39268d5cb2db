package jwtkit

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/PaulFidika/spinauth/autherr"
)

// Verifier checks RS256 signatures against a resolved key set.
//
// The token header's alg is informational only: verification always runs as
// RS256 and anything else is rejected, which rules out algorithm substitution
// (alg=none, HS256 keyed with the public modulus, ...).
//
// Audience is deliberately not validated. The provider issues tokens without
// an audience fixed to this deployment.
type Verifier struct {
	leeway time.Duration
	now    func() time.Time
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithLeeway allows clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) VerifierOpt {
	return func(v *Verifier) { v.leeway = d }
}

// WithTimeFunc overrides the clock used for exp/nbf checks.
func WithTimeFunc(fn func() time.Time) VerifierOpt {
	return func(v *Verifier) { v.now = fn }
}

// NewVerifier builds a verifier. With no options it uses time.Now and no leeway.
func NewVerifier(opts ...VerifierOpt) *Verifier {
	v := &Verifier{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify selects the key whose kid matches the token header, verifies the
// signature over header.payload and returns the decoded claims.
// Numeric claims are returned as json.Number so they round-trip exactly.
func (v *Verifier) Verify(token string, keys jwk.Set) (map[string]any, error) {
	hdr, err := ParseUnverifiedHeader(token)
	if err != nil {
		return nil, err
	}
	if keys == nil || hdr.Kid == "" {
		return nil, autherr.New(autherr.KeyNotFound, "")
	}
	key, ok := keys.LookupKeyID(hdr.Kid)
	if !ok {
		return nil, autherr.New(autherr.KeyNotFound, "")
	}
	pub, err := rs256PublicKey(key)
	if err != nil {
		return nil, autherr.Wrap(autherr.UnsupportedAlgorithm, "", err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithJSONNumber(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		return nil, autherr.Wrap(autherr.VerificationFailed, "JWT verification failed: "+failureReason(err), err)
	}
	return map[string]any(claims), nil
}

// rs256PublicKey rejects keys that cannot carry an RS256 signature.
func rs256PublicKey(key jwk.Key) (*rsa.PublicKey, error) {
	if key.KeyType() != jwa.RSA {
		return nil, fmt.Errorf("key type %q is not RSA", key.KeyType())
	}
	if alg := key.Algorithm(); alg != nil && alg.String() != "" && alg.String() != jwa.RS256.String() {
		return nil, fmt.Errorf("key algorithm %q is not RS256", alg.String())
	}
	if use := key.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
		return nil, fmt.Errorf("key use %q is not sig", use)
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("extract rsa key: %w", err)
	}
	switch k := raw.(type) {
	case *rsa.PublicKey:
		return k, nil
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	default:
		return nil, fmt.Errorf("unexpected raw key %T", raw)
	}
}

// failureReason turns a parser error into a short phrase with no key material.
func failureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token is expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token is not valid yet"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token used before issued"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature is invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return "token has invalid claims"
	default:
		return "token is invalid"
	}
}
