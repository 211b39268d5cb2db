// Package testing provides a fake Dynamic identity provider for tests. It
// serves a per-environment JWKS over HTTP and signs tokens that validate
// against it, so the auth gate can be exercised end to end without network
// access.
//
// Example usage:
//
//	p := authtest.NewProvider("env-123")
//	defer p.Close()
//
//	cfg.JWKSURLTemplate = p.URLTemplate()
//	token := p.CreateToken("user-123", "test@example.com")
package testing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/PaulFidika/spinauth/jwks"
	jwtkit "github.com/PaulFidika/spinauth/jwt"
)

const (
	jwksPathPrefix = "/api/v0/sdk/"
	jwksPathSuffix = "/.well-known/jwks"
)

// Provider is an httptest server posing as the identity provider for one
// environment.
type Provider struct {
	server *httptest.Server
	envID  string

	mu      sync.Mutex
	signer  *jwtkit.RSASigner
	retired []*jwtkit.RSASigner // still published after Rotate(true)
	status  int
	delay   time.Duration
	keySeq  int

	fetches atomic.Int64
}

// NewProvider starts a provider for environmentID with a fresh RSA key.
// Call Close when done.
func NewProvider(environmentID string) *Provider {
	p := &Provider{envID: environmentID}
	p.signer = p.newSigner()
	p.server = httptest.NewServer(http.HandlerFunc(p.handleJWKS))
	return p
}

func (p *Provider) newSigner() *jwtkit.RSASigner {
	p.keySeq++
	s, err := jwtkit.NewRSASigner(2048, fmt.Sprintf("test-key-%d", p.keySeq))
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	return s
}

// URL returns the base URL of the server.
func (p *Provider) URL() string { return p.server.URL }

// URLTemplate returns a JWKS URL template pointing at this provider.
func (p *Provider) URLTemplate() string {
	return p.server.URL + jwksPathPrefix + jwks.EnvironmentPlaceholder + jwksPathSuffix
}

// JWKSURL returns the concrete JWKS URL for the provider's environment.
func (p *Provider) JWKSURL() string {
	return jwks.URLFor(p.URLTemplate(), p.envID)
}

func (p *Provider) EnvironmentID() string { return p.envID }

// Signer returns the current signing key.
func (p *Provider) Signer() *jwtkit.RSASigner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signer
}

// Fetches reports how many JWKS requests the provider has answered.
func (p *Provider) Fetches() int64 { return p.fetches.Load() }

// FailWith makes the JWKS endpoint answer with status until reset with 0.
func (p *Provider) FailWith(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// SetDelay holds each JWKS response for d before answering.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Rotate switches to a new signing key. With keepOld the previous key is
// still published alongside the new one.
func (p *Provider) Rotate(keepOld bool) *jwtkit.RSASigner {
	p.mu.Lock()
	defer p.mu.Unlock()
	if keepOld {
		p.retired = append(p.retired, p.signer)
	} else {
		p.retired = nil
	}
	p.signer = p.newSigner()
	return p.signer
}

// Document returns the JWKS document currently served.
func (p *Provider) Document() jwtkit.JWKS {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks := jwtkit.JWKS{Keys: []jwtkit.JWK{p.signer.JWK()}}
	for _, s := range p.retired {
		ks.Keys = append(ks.Keys, s.JWK())
	}
	return ks
}

// Close shuts down the server.
func (p *Provider) Close() {
	if p.server != nil {
		p.server.Close()
	}
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	env, ok := strings.CutPrefix(r.URL.Path, jwksPathPrefix)
	if ok {
		env, ok = strings.CutSuffix(env, jwksPathSuffix)
	}
	if !ok || r.Method != http.MethodGet || env != p.envID {
		http.NotFound(w, r)
		return
	}
	p.fetches.Add(1)

	p.mu.Lock()
	status, delay := p.status, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	jwtkit.ServeJWKS(w, r, p.Document())
}

// Claims returns the default claims of a token for userID.
func (p *Provider) Claims(userID, email string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":            userID,
		"email":          email,
		"environment_id": p.envID,
		"iss":            "app.dynamicauth.com/" + p.envID,
		"exp":            now.Add(time.Hour).Unix(),
		"iat":            now.Unix(),
	}
}

// CreateToken signs a token for userID with the current key.
func (p *Provider) CreateToken(userID, email string) string {
	return p.CreateTokenWithClaims(userID, email, nil)
}

// CreateTokenWithClaims signs a token with extra claims merged over the
// defaults.
func (p *Provider) CreateTokenWithClaims(userID, email string, extraClaims map[string]any) string {
	claims := p.Claims(userID, email)
	for k, v := range extraClaims {
		claims[k] = v
	}
	token, err := p.Signer().Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// CreateTokenWithExpiry signs a token expiring at expiry.
func (p *Provider) CreateTokenWithExpiry(userID, email string, expiry time.Time) string {
	return p.CreateTokenWithClaims(userID, email, map[string]any{"exp": expiry.Unix()})
}

// CreateExpiredToken signs a token that expired an hour ago.
func (p *Provider) CreateExpiredToken(userID, email string) string {
	return p.CreateTokenWithExpiry(userID, email, time.Now().Add(-time.Hour))
}
