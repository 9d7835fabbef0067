// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package config loads gatekeeper settings from flags, an optional YAML file
// and the environment.
//
// Precedence, lowest first: flag defaults, the YAML file, flags set on the
// command line. Key material is only ever read from the environment.
package config

import (
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/fieldops/gatekeeper/internal/logging"
	"github.com/fieldops/gatekeeper/internal/xdg"
)

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the effective non-secret configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http" yaml:"http"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Token     TokenConfig     `koanf:"token" yaml:"token"`
	Reset     ResetConfig     `koanf:"reset" yaml:"reset"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit"`
	Redis     RedisConfig     `koanf:"redis" yaml:"redis"`

	// Secrets are decoded from the environment, never from the file.
	Secrets Secrets `koanf:"-" yaml:"-"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr              string        `koanf:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" yaml:"read_header_timeout"`
	// TrustedProxies lists the CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `koanf:"trusted_proxies" yaml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, invalid("http.trusted_proxies", "entry "+raw+" is not a CIDR")
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, invalid("http.trusted_proxies", "entry "+raw+" is not an address")
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig selects the log format and minimum level.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// TokenConfig configures issued bearer tokens.
type TokenConfig struct {
	TTL    time.Duration `koanf:"ttl" yaml:"ttl"`
	Issuer string        `koanf:"issuer" yaml:"issuer"`
}

// ResetConfig configures password reset tokens.
type ResetConfig struct {
	TTL       time.Duration `koanf:"ttl" yaml:"ttl"`
	SingleUse bool          `koanf:"single_use" yaml:"single_use"`
	LinkBase  string        `koanf:"link_base" yaml:"link_base"`
}

// RateLimitConfig configures the request limiter in front of /v1.
type RateLimitConfig struct {
	MaxRequests int           `koanf:"max_requests" yaml:"max_requests"`
	Window      time.Duration `koanf:"window" yaml:"window"`
	Backend     string        `koanf:"backend" yaml:"backend"`
}

// RedisConfig holds settings shared by the Redis-backed components.
type RedisConfig struct {
	KeyPrefix string `koanf:"key_prefix" yaml:"key_prefix"`
}

// flag is one command-line flag and the config key it sets.
type flag struct {
	name, key, usage string
	def              any
}

var flags = []flag{
	{"http-addr", "http.addr", "public API listen address", ":8080"},
	{"http-read-header-timeout", "http.read_header_timeout", "maximum time to read request headers", 5 * time.Second},
	{"http-trusted-proxies", "http.trusted_proxies", "proxies whose X-Forwarded-For is trusted (CIDR or address)", []string{}},
	{"metrics-addr", "metrics.addr", "metrics/health listen address (empty = disabled)", "127.0.0.1:9100"},
	{"log-format", "log.format", "log format (json or text)", "json"},
	{"log-level", "log.level", "minimum log level (debug, info, warn, error)", "info"},
	{"token-ttl", "token.ttl", "lifetime of issued bearer tokens", time.Hour},
	{"token-issuer", "token.issuer", "iss claim stamped on tokens (empty = none)", "gatekeeper"},
	{"reset-ttl", "reset.ttl", "lifetime of password reset tokens", time.Hour},
	{"reset-single-use", "reset.single_use", "reject reset tokens after their first use", false},
	{"reset-link-base", "reset.link_base", "URL the reset token is appended to", "http://localhost:8080/reset"},
	{"ratelimit-max-requests", "ratelimit.max_requests", "requests allowed per client per window", 100},
	{"ratelimit-window", "ratelimit.window", "rate limit window length", time.Minute},
	{"ratelimit-backend", "ratelimit.backend", "rate limit state backend (memory or redis)", BackendMemory},
	{"redis-key-prefix", "redis.key_prefix", "prefix for every Redis key", "gatekeeper:"},
}

// RegisterFlags adds the configuration flags and the --config flag to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file path (default: $XDG_CONFIG_HOME/gatekeeper/config.yaml)")
	for _, f := range flags {
		switch def := f.def.(type) {
		case string:
			fs.String(f.name, def, f.usage)
		case int:
			fs.Int(f.name, def, f.usage)
		case bool:
			fs.Bool(f.name, def, f.usage)
		case time.Duration:
			fs.Duration(f.name, def, f.usage)
		case []string:
			fs.StringSlice(f.name, def, f.usage)
		}
	}
}

// Load builds the Config from fs, which must have been passed to RegisterFlags
// and parsed. Secrets are read from the environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, explicit := configPath(fs)
	if path != "" && (explicit || exists(path)) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	// Unchanged flags only fill keys the file left unset.
	keys := make(map[string]string, len(flags))
	for _, f := range flags {
		keys[f.name] = f.key
	}
	provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := keys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, err
	}
	cfg.Secrets = *secrets
	return &cfg, nil
}

// configPath returns the file to load and whether the user named it.
// Without HOME or XDG_CONFIG_HOME there is no default file.
func configPath(fs *pflag.FlagSet) (string, bool) {
	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String(), true
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", false
	}
	return path, false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return invalid("http.addr", "must not be empty")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "must be json or text")
	case c.Token.TTL <= 0:
		return invalid("token.ttl", "must be positive")
	case c.Reset.TTL <= 0:
		return invalid("reset.ttl", "must be positive")
	case c.Reset.LinkBase == "":
		return invalid("reset.link_base", "must not be empty")
	case c.RateLimit.MaxRequests < 1:
		return invalid("ratelimit.max_requests", "must be at least 1")
	case c.RateLimit.Window <= 0:
		return invalid("ratelimit.window", "must be positive")
	case c.RateLimit.Backend != BackendMemory && c.RateLimit.Backend != BackendRedis:
		return invalid("ratelimit.backend", "must be memory or redis")
	case c.RateLimit.Backend == BackendRedis && c.Secrets.RedisAddr == "":
		return invalid("ratelimit.backend", "redis backend requires REDIS_ADDR")
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	if _, err := c.Secrets.Keys(); err != nil {
		return err
	}
	return nil
}

func invalid(key, reason string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s %s", key, reason)
}
