package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/spinauth/config"
	authtest "github.com/PaulFidika/spinauth/testing"
)

func TestReadToken(t *testing.T) {
	tests := []struct {
		args  []string
		stdin string
		want  string
	}{
		{[]string{"a.b.c"}, "", "a.b.c"},
		{[]string{"Bearer a.b.c"}, "", "a.b.c"},
		{[]string{`Bearer "a.b.c"`}, "", "a.b.c"},
		{nil, "a.b.c\n", "a.b.c"},
		{nil, `"a.b.c"`, "a.b.c"},
	}
	for _, tt := range tests {
		got, err := readToken(tt.args, strings.NewReader(tt.stdin))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestVerifyCommand(t *testing.T) {
	p := authtest.NewProvider("env-cli")
	defer p.Close()
	v.Set(config.EnvironmentIDKey, "env-cli")
	v.Set(config.JWKSURLTemplateKey, p.URLTemplate())
	v.Set(config.LogLevelKey, "error")
	t.Cleanup(func() {
		v.Set(config.EnvironmentIDKey, "")
		v.Set(config.JWKSURLTemplateKey, "")
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"verify", p.CreateToken("user-cli", "cli@example.com")})
	require.NoError(t, rootCmd.Execute())

	var claims map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &claims))
	assert.Equal(t, "user-cli", claims["sub"])

	rootCmd.SetArgs([]string{"verify", "not-a-token"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed_token")
}
