// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package config

import (
	"encoding/base64"
	"errors"

	"github.com/joeshaw/envdecode"
	"github.com/samber/oops"

	"github.com/fieldops/gatekeeper/internal/logging"
	"github.com/fieldops/gatekeeper/internal/sealer"
	"github.com/fieldops/gatekeeper/internal/token"
)

// Environment variables read by LoadSecrets.
const (
	EnvSigningSecret = "GATEKEEPER_SIGNING_SECRET"
	EnvEncryptionKey = "GATEKEEPER_ENCRYPTION_KEY"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvRedisAddr     = "REDIS_ADDR"
)

// Secrets holds values that must never appear in a config file or log line.
type Secrets struct {
	// SigningSecret is base64 (standard alphabet) and decodes to at least 32 bytes.
	SigningSecret string `env:"GATEKEEPER_SIGNING_SECRET"`
	// EncryptionKey is base64 (standard alphabet) and decodes to exactly 32 bytes.
	EncryptionKey string `env:"GATEKEEPER_ENCRYPTION_KEY"`
	// DatabaseURL selects the Postgres store. Empty means in-memory accounts.
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisAddr enables the Redis rate limiter and reset ledger.
	RedisAddr string `env:"REDIS_ADDR"`
}

// Keys is decoded key material.
type Keys struct {
	SigningSecret []byte
	EncryptionKey []byte
}

// LoadSecrets reads Secrets from the environment. Unset variables are left empty.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}
	return &s, nil
}

// Keys decodes and checks the signing secret and encryption key.
func (s Secrets) Keys() (*Keys, error) {
	signing, err := decodeKey(EnvSigningSecret, s.SigningSecret)
	if err != nil {
		return nil, err
	}
	if len(signing) < token.MinSecretSize {
		return nil, oops.Code("CONFIG_INVALID").
			With("key", EnvSigningSecret).
			With("length", len(signing)).
			Errorf("%s must decode to at least %d bytes", EnvSigningSecret, token.MinSecretSize)
	}

	enc, err := decodeKey(EnvEncryptionKey, s.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if len(enc) != sealer.KeySize {
		return nil, oops.Code("CONFIG_INVALID").
			With("key", EnvEncryptionKey).
			With("length", len(enc)).
			Errorf("%s must decode to exactly %d bytes", EnvEncryptionKey, sealer.KeySize)
	}

	return &Keys{SigningSecret: signing, EncryptionKey: enc}, nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, oops.Code("CONFIG_INVALID").With("key", name).Errorf("%s is not set", name)
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", name).Errorf("%s is not valid base64", name)
	}
	return b, nil
}

// Redacted reports which secrets are set without revealing them.
func (s Secrets) Redacted() map[string]string {
	out := make(map[string]string, 4)
	for name, v := range map[string]string{
		EnvSigningSecret: s.SigningSecret,
		EnvEncryptionKey: s.EncryptionKey,
		EnvDatabaseURL:   s.DatabaseURL,
		EnvRedisAddr:     s.RedisAddr,
	} {
		if v == "" {
			out[name] = ""
			continue
		}
		out[name] = logging.Redacted
	}
	return out
}
