// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package reset

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultLedgerPrefix namespaces ledger keys.
const DefaultLedgerPrefix = "gatekeeper:reset:"

// RedisLedger shares consumed-token state between processes. Each digest is
// written with SET NX and a TTL matching the token's remaining lifetime.
type RedisLedger struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisLedger creates a ledger on client. An empty prefix uses DefaultLedgerPrefix.
func NewRedisLedger(client redis.Cmdable, prefix string) (*RedisLedger, error) {
	if client == nil {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultLedgerPrefix
	}
	return &RedisLedger{client: client, prefix: prefix, now: time.Now}, nil
}

// MarkConsumed implements Ledger.
func (l *RedisLedger) MarkConsumed(ctx context.Context, digest string, until time.Time) (bool, error) {
	ttl := until.Sub(l.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	ok, err := l.client.SetNX(ctx, l.prefix+digest, 1, ttl).Result()
	if err != nil {
		return false, oops.Code("RESET_LEDGER_FAILED").
			With("backend", "redis").
			Wrap(err)
	}
	return ok, nil
}

// Release implements Ledger.
func (l *RedisLedger) Release(ctx context.Context, digest string) error {
	if err := l.client.Del(ctx, l.prefix+digest).Err(); err != nil {
		return oops.Code("RESET_LEDGER_FAILED").
			With("backend", "redis").
			Wrap(err)
	}
	return nil
}
