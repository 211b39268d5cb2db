package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"

	jwt "github.com/golang-jwt/jwt/v5"
)

// RSASigner produces RS256 tokens carrying a kid header. The gate itself
// never issues tokens; this exists so tests and local tooling can stand in
// for the identity provider.
type RSASigner struct {
	key *rsa.PrivateKey
	kid string
}

func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid}, nil
}

func (s *RSASigner) Algorithm() string           { return jwt.SigningMethodRS256.Alg() }
func (s *RSASigner) KID() string                 { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey   { return &s.key.PublicKey }
func (s *RSASigner) PrivateKey() *rsa.PrivateKey { return s.key }

// JWK returns the public half as a JWKS entry.
func (s *RSASigner) JWK() JWK {
	return RSAPublicToJWK(s.PublicKey(), s.kid, s.Algorithm())
}

func (s *RSASigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	return s.SignWithHeader(claims, nil)
}

// SignWithHeader signs claims and lets the caller override header fields,
// e.g. a different kid. An empty-string value removes the field.
func (s *RSASigner) SignWithHeader(claims jwt.MapClaims, header map[string]string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	for k, v := range header {
		if v == "" {
			delete(token.Header, k)
			continue
		}
		token.Header[k] = v
	}
	return token.SignedString(s.key)
}
