package config

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/spinauth/jwks"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DYNAMIC_ENV_ID", "")
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "", cfg.Accept.EnvironmentID)
	assert.Equal(t, jwks.DefaultURLTemplate, cfg.Accept.JWKSURLTemplate)
	assert.Equal(t, 10*time.Minute, cfg.Accept.CacheTTL)
	assert.Equal(t, time.Hour, cfg.Accept.MaxStale)
	assert.Equal(t, 5*time.Second, cfg.Accept.FetchTimeout)
	assert.Equal(t, 30*time.Second, cfg.Accept.Skew)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 60, cfg.RateLimit)
	assert.Nil(t, cfg.Accept.PinnedKeys)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DYNAMIC_ENV_ID", " env-123 ")
	t.Setenv("SPINAUTH_ADDR", ":9000")
	t.Setenv("SPINAUTH_CACHE_TTL", "2m")
	t.Setenv("SPINAUTH_MAX_STALE", "0s")
	t.Setenv("SPINAUTH_JWKS_URL_TEMPLATE", "http://localhost/{environment_id}/jwks")
	t.Setenv("SPINAUTH_RATE_LIMIT", "0")
	t.Setenv("SPINAUTH_LOG_LEVEL", "debug")
	t.Setenv("SPINAUTH_LOG_FORMAT", "json")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "env-123", cfg.Accept.EnvironmentID)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Accept.CacheTTL)
	assert.Equal(t, time.Duration(0), cfg.Accept.MaxStale)
	assert.Equal(t, "http://localhost/{environment_id}/jwks", cfg.Accept.JWKSURLTemplate)
	assert.Equal(t, 0, cfg.RateLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_PinnedKeys(t *testing.T) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	raw, err := json.Marshal(map[string]string{"pinned-1": string(pemBytes)})
	require.NoError(t, err)
	t.Setenv("SPINAUTH_PINNED_KEYS", string(raw))

	cfg, err := Load(New())
	require.NoError(t, err)
	require.NotNil(t, cfg.Accept.PinnedKeys)
	_, ok := cfg.Accept.PinnedKeys.LookupKeyID("pinned-1")
	assert.True(t, ok)
	assert.Len(t, cfg.Accept.ResolverOptions(), 1)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SPINAUTH_JWKS_URL_TEMPLATE", "http://localhost/jwks")
	t.Setenv("SPINAUTH_CACHE_TTL", "-1m")
	t.Setenv("SPINAUTH_PINNED_KEYS", "{not json")
	t.Setenv("SPINAUTH_LOG_FORMAT", "xml")

	_, err := Load(New())
	require.Error(t, err)
	for _, key := range []string{JWKSURLTemplateKey, CacheTTLKey, PinnedKeysKey, LogFormatKey} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger("loud", "text", &buf)
	assert.Error(t, err)
}
