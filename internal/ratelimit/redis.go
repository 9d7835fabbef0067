// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultKeyPrefix namespaces limiter keys in Redis.
const DefaultKeyPrefix = "gatekeeper:ratelimit:"

// RedisLimiter is a fixed-window limiter whose counters live in Redis, so
// every process sharing the server enforces one limit.
//
// Windows are aligned to multiples of the window length since the Unix epoch
// rather than to the first request, and each counter expires with its window.
type RedisLimiter struct {
	client      redis.Cmdable
	maxRequests int
	window      time.Duration
	prefix      string
	now         func() time.Time

	backendErrors prometheus.Counter
}

// NewRedisLimiter creates a limiter allowing maxRequests per client per window.
func NewRedisLimiter(client redis.Cmdable, maxRequests int, window time.Duration, opts ...Option) (*RedisLimiter, error) {
	if client == nil {
		return nil, oops.Code("RATELIMIT_INVALID_DEPENDENCY").Errorf("redis client is required")
	}
	o := buildOptions(opts)
	maxRequests, window = normalize(maxRequests, window)
	if window < time.Millisecond {
		return nil, oops.Code("RATELIMIT_INVALID_WINDOW").
			With("window", window).
			Errorf("window must be at least 1ms")
	}

	l := &RedisLimiter{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
		prefix:      o.keyPrefix,
		now:         o.now,
	}
	if o.registerer != nil {
		l.backendErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_backend_errors_total",
			Help: "Number of rate limit checks that failed to reach Redis",
		})
		o.registerer.MustRegister(l.backendErrors)
	}
	return l, nil
}

// Key returns the counter key for clientID at instant t.
func (l *RedisLimiter) Key(clientID string, t time.Time) string {
	bucket := t.UnixMilli() / l.window.Milliseconds()
	return l.prefix + clientID + ":" + strconv.FormatInt(bucket, 10)
}

// Limit returns the configured maximum and window.
func (l *RedisLimiter) Limit() (int, time.Duration) {
	return l.maxRequests, l.window
}

// AllowContext implements Limiter.
func (l *RedisLimiter) AllowContext(ctx context.Context, clientID string) (bool, error) {
	key := l.Key(clientID, l.now())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		if l.backendErrors != nil {
			l.backendErrors.Inc()
		}
		return false, oops.Code("RATELIMIT_BACKEND_FAILED").
			With("backend", "redis").
			Wrap(err)
	}
	return incr.Val() <= int64(l.maxRequests), nil
}
