// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package config_test

import (
	"encoding/base64"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/gatekeeper/internal/config"
	"github.com/fieldops/gatekeeper/internal/logging"
	"github.com/fieldops/gatekeeper/pkg/errutil"
)

var (
	validSigning = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", 32)))
	validAESKey  = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
)

// isolate points XDG at a temp dir and clears every secret variable.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, name := range []string{
		config.EnvSigningSecret, config.EnvEncryptionKey, config.EnvDatabaseURL, config.EnvRedisAddr,
	} {
		t.Setenv(name, "")
	}
	return dir
}

func writeDefaultFile(t *testing.T, xdgDir, body string) {
	t.Helper()
	dir := filepath.Join(xdgDir, "gatekeeper")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
}

func load(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return config.Load(fs)
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadHeaderTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
	assert.Equal(t, "gatekeeper", cfg.Token.Issuer)
	assert.Equal(t, time.Hour, cfg.Reset.TTL)
	assert.False(t, cfg.Reset.SingleUse)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, config.BackendMemory, cfg.RateLimit.Backend)
	assert.Equal(t, "gatekeeper:", cfg.Redis.KeyPrefix)
	assert.Empty(t, cfg.Secrets.DatabaseURL)
	assert.Empty(t, cfg.HTTP.TrustedProxies)
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Run("from file", func(t *testing.T) {
		dir := isolate(t)
		writeDefaultFile(t, dir, "http:\n  trusted_proxies:\n    - 10.0.0.0/8\n    - 192.0.2.7\n")

		cfg, err := load(t)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.HTTP.TrustedProxies)
	})

	t.Run("from flag", func(t *testing.T) {
		isolate(t)
		cfg, err := load(t, "--http-trusted-proxies=10.0.0.0/8,::1")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "::1"}, cfg.HTTP.TrustedProxies)
	})
}

func TestHTTPConfig_TrustedProxyPrefixes(t *testing.T) {
	c := config.HTTPConfig{TrustedProxies: []string{"10.1.2.3/8", " 192.0.2.7 ", "", "::1"}}
	got, err := c.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("::1/128"),
	}, got)
}

func TestLoad_Precedence(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		dir := isolate(t)
		writeDefaultFile(t, dir, "token:\n  ttl: 30m\nratelimit:\n  max_requests: 5\nreset:\n  single_use: true\n")

		cfg, err := load(t)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, cfg.Token.TTL)
		assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
		assert.True(t, cfg.Reset.SingleUse)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window, "unset keys keep flag defaults")
	})

	t.Run("changed flags override file", func(t *testing.T) {
		dir := isolate(t)
		writeDefaultFile(t, dir, "ratelimit:\n  max_requests: 5\n")

		cfg, err := load(t, "--ratelimit-max-requests=7", "--log-format=text")
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("explicit config path", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: 127.0.0.1:9999\n"), 0o600))

		cfg, err := load(t, "--config", path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	})

	t.Run("missing explicit config path fails", func(t *testing.T) {
		isolate(t)
		_, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
	})
}

func TestLoad_SecretsFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvSigningSecret, validSigning)
	t.Setenv(config.EnvEncryptionKey, validAESKey)
	t.Setenv(config.EnvRedisAddr, "127.0.0.1:6379")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, validSigning, cfg.Secrets.SigningSecret)
	assert.Equal(t, "127.0.0.1:6379", cfg.Secrets.RedisAddr)

	keys, err := cfg.Secrets.Keys()
	require.NoError(t, err)
	assert.Len(t, keys.SigningSecret, 32)
	assert.Len(t, keys.EncryptionKey, 32)
}

func validConfig() *config.Config {
	return &config.Config{
		HTTP:      config.HTTPConfig{Addr: ":8080"},
		Log:       config.LogConfig{Format: "json", Level: "info"},
		Token:     config.TokenConfig{TTL: time.Hour},
		Reset:     config.ResetConfig{TTL: time.Hour, LinkBase: "https://example.test/reset"},
		RateLimit: config.RateLimitConfig{MaxRequests: 100, Window: time.Minute, Backend: config.BackendMemory},
		Secrets:   config.Secrets{SigningSecret: validSigning, EncryptionKey: validAESKey},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"empty http addr", func(c *config.Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"unknown log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"unknown log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative token ttl", func(c *config.Config) { c.Token.TTL = -time.Second }, "token.ttl"},
		{"zero token ttl", func(c *config.Config) { c.Token.TTL = 0 }, "token.ttl"},
		{"bad trusted proxy cidr", func(c *config.Config) { c.HTTP.TrustedProxies = []string{"10.0.0.0/33"} }, "http.trusted_proxies"},
		{"bad trusted proxy address", func(c *config.Config) { c.HTTP.TrustedProxies = []string{"proxy.local"} }, "http.trusted_proxies"},
		{"zero reset ttl", func(c *config.Config) { c.Reset.TTL = 0 }, "reset.ttl"},
		{"empty link base", func(c *config.Config) { c.Reset.LinkBase = "" }, "reset.link_base"},
		{"zero max requests", func(c *config.Config) { c.RateLimit.MaxRequests = 0 }, "ratelimit.max_requests"},
		{"zero window", func(c *config.Config) { c.RateLimit.Window = 0 }, "ratelimit.window"},
		{"unknown backend", func(c *config.Config) { c.RateLimit.Backend = "memcached" }, "ratelimit.backend"},
		{"redis without address", func(c *config.Config) { c.RateLimit.Backend = config.BackendRedis }, "ratelimit.backend"},
		{"missing signing secret", func(c *config.Config) { c.Secrets.SigningSecret = "" }, config.EnvSigningSecret},
		{"short signing secret", func(c *config.Config) {
			c.Secrets.SigningSecret = base64.StdEncoding.EncodeToString(make([]byte, 31))
		}, config.EnvSigningSecret},
		{"undecodable signing secret", func(c *config.Config) { c.Secrets.SigningSecret = "not base64!" }, config.EnvSigningSecret},
		{"short encryption key", func(c *config.Config) {
			c.Secrets.EncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 16))
		}, config.EnvEncryptionKey},
		{"long encryption key", func(c *config.Config) {
			c.Secrets.EncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 33))
		}, config.EnvEncryptionKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}

	t.Run("redis backend with address", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.Backend = config.BackendRedis
		cfg.Secrets.RedisAddr = "127.0.0.1:6379"
		assert.NoError(t, cfg.Validate())
	})
}

func TestSecrets_Redacted(t *testing.T) {
	s := config.Secrets{SigningSecret: validSigning, DatabaseURL: "postgres://u:pw@db/gk"}
	got := s.Redacted()

	assert.Equal(t, logging.Redacted, got[config.EnvSigningSecret])
	assert.Equal(t, logging.Redacted, got[config.EnvDatabaseURL])
	assert.Empty(t, got[config.EnvEncryptionKey])
	assert.Empty(t, got[config.EnvRedisAddr])
	for _, v := range got {
		assert.NotContains(t, v, "pw")
	}
}
