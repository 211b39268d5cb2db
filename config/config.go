// Package config loads the gate's settings from the environment (and an
// optional config file) through viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/PaulFidika/spinauth/core"
	"github.com/PaulFidika/spinauth/jwks"
	jwtkit "github.com/PaulFidika/spinauth/jwt"
)

// Keys understood by Load. Each maps to SPINAUTH_<KEY> with dots replaced by
// underscores, except EnvironmentIDKey which also reads DYNAMIC_ENV_ID.
const (
	AddrKey            = "addr"
	EnvironmentIDKey   = "environment_id"
	JWKSURLTemplateKey = "jwks_url_template"
	CacheTTLKey        = "cache_ttl"
	MaxStaleKey        = "max_stale"
	FetchTimeoutKey    = "fetch_timeout"
	ClockSkewKey       = "clock_skew"
	RefreshIntervalKey = "refresh_interval"
	RedisURLKey        = "redis_url"
	DatabaseURLKey     = "database_url"
	RateLimitKey       = "rate_limit"
	PinnedKeysKey      = "pinned_keys"
	LogLevelKey        = "log.level"
	LogFormatKey       = "log.format"
)

// EnvPrefix prefixes every environment variable except DYNAMIC_ENV_ID.
const EnvPrefix = "SPINAUTH"

// Config is the fully resolved process configuration.
type Config struct {
	Addr            string
	Accept          core.AcceptConfig
	RefreshInterval time.Duration
	RedisURL        string
	DatabaseURL     string
	// RateLimit is requests per minute per client IP on POST /auth; 0 disables.
	RateLimit int
	LogLevel  string
	LogFormat string
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(AddrKey, ":8080")
	v.SetDefault(EnvironmentIDKey, "")
	v.SetDefault(JWKSURLTemplateKey, jwks.DefaultURLTemplate)
	v.SetDefault(CacheTTLKey, jwks.DefaultCacheTTL)
	v.SetDefault(MaxStaleKey, jwks.DefaultMaxStale)
	v.SetDefault(FetchTimeoutKey, jwks.DefaultFetchTimeout)
	v.SetDefault(ClockSkewKey, core.DefaultSkew)
	v.SetDefault(RefreshIntervalKey, 5*time.Minute)
	v.SetDefault(RedisURLKey, "")
	v.SetDefault(DatabaseURLKey, "")
	v.SetDefault(RateLimitKey, 60)
	v.SetDefault(PinnedKeysKey, "")
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The provider's own variable name wins over the prefixed one.
	_ = v.BindEnv(EnvironmentIDKey, "DYNAMIC_ENV_ID", EnvPrefix+"_ENVIRONMENT_ID")
	return v
}

// Load reads and validates the configuration from v. A missing environment
// id is not an error here; the gate reports it per request.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr: v.GetString(AddrKey),
		Accept: core.AcceptConfig{
			EnvironmentID:   strings.TrimSpace(v.GetString(EnvironmentIDKey)),
			JWKSURLTemplate: v.GetString(JWKSURLTemplateKey),
			CacheTTL:        v.GetDuration(CacheTTLKey),
			MaxStale:        v.GetDuration(MaxStaleKey),
			FetchTimeout:    v.GetDuration(FetchTimeoutKey),
			Skew:            v.GetDuration(ClockSkewKey),
		},
		RefreshInterval: v.GetDuration(RefreshIntervalKey),
		RedisURL:        v.GetString(RedisURLKey),
		DatabaseURL:     v.GetString(DatabaseURLKey),
		RateLimit:       v.GetInt(RateLimitKey),
		LogLevel:        v.GetString(LogLevelKey),
		LogFormat:       v.GetString(LogFormatKey),
	}

	var errs []error
	if !strings.Contains(cfg.Accept.JWKSURLTemplate, jwks.EnvironmentPlaceholder) {
		errs = append(errs, fmt.Errorf("%s must contain %s", JWKSURLTemplateKey, jwks.EnvironmentPlaceholder))
	}
	for key, d := range map[string]time.Duration{
		CacheTTLKey:        cfg.Accept.CacheTTL,
		MaxStaleKey:        cfg.Accept.MaxStale,
		FetchTimeoutKey:    cfg.Accept.FetchTimeout,
		ClockSkewKey:       cfg.Accept.Skew,
		RefreshIntervalKey: cfg.RefreshInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", RateLimitKey))
	}
	pinned, err := jwtkit.ParsePinnedKeys(v.GetString(PinnedKeysKey))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", PinnedKeysKey, err))
	}
	cfg.Accept.PinnedKeys = pinned
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", LogLevelKey, err))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("%s must be text or json", LogFormatKey))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the process logger for level and format ("text"|"json").
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
