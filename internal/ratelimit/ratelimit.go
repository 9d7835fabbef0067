// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package ratelimit throttles clients with fixed, non-sliding request windows.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Defaults applied when a limit or window is not positive.
const (
	DefaultMaxRequests = 100
	DefaultWindow      = time.Minute
)

// ErrRateLimited reports a request rejected by a limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter decides whether a client may make another request.
type Limiter interface {
	AllowContext(ctx context.Context, clientID string) (bool, error)
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	now        func() time.Time
	registerer prometheus.Registerer
	keyPrefix  string
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRegisterer registers the limiter's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithKeyPrefix sets the Redis key prefix. Ignored by FixedWindow.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, keyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func normalize(maxRequests int, window time.Duration) (int, time.Duration) {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return maxRequests, window
}

// FixedWindow counts requests per client in a single process-wide window.
// When the window elapses every counter is discarded at once. It is safe for
// concurrent use.
type FixedWindow struct {
	mu          sync.Mutex
	counts      map[string]int
	windowStart time.Time

	maxRequests int
	window      time.Duration
	now         func() time.Time

	clientsGauge prometheus.Gauge
	rollovers    prometheus.Counter
}

// NewFixedWindow creates a limiter allowing maxRequests per client per window.
func NewFixedWindow(maxRequests int, window time.Duration, opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	maxRequests, window = normalize(maxRequests, window)

	f := &FixedWindow{
		counts:      make(map[string]int),
		windowStart: o.now(),
		maxRequests: maxRequests,
		window:      window,
		now:         o.now,
	}

	if o.registerer != nil {
		f.clientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_ratelimit_clients",
			Help: "Number of clients counted in the current rate limit window",
		})
		f.rollovers = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_window_rollovers_total",
			Help: "Number of rate limit windows that have been reset",
		})
		o.registerer.MustRegister(f.clientsGauge, f.rollovers)
	}

	return f
}

// Allow counts a request from clientID and reports whether it is within the
// limit. The rollover check, the reset and the increment happen under one
// lock, so no request is counted against a window that is being cleared.
func (f *FixedWindow) Allow(clientID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.windowStart) > f.window {
		f.windowStart = now
		clear(f.counts)
		if f.rollovers != nil {
			f.rollovers.Inc()
		}
	}

	f.counts[clientID]++
	if f.clientsGauge != nil {
		f.clientsGauge.Set(float64(len(f.counts)))
	}
	return f.counts[clientID] <= f.maxRequests
}

// AllowContext implements Limiter. It never returns an error.
func (f *FixedWindow) AllowContext(_ context.Context, clientID string) (bool, error) {
	return f.Allow(clientID), nil
}

// Count returns the requests recorded for clientID in the current window.
func (f *FixedWindow) Count(clientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[clientID]
}

// Limit returns the configured maximum and window.
func (f *FixedWindow) Limit() (int, time.Duration) {
	return f.maxRequests, f.window
}

func rateLimited(clientID string, window time.Duration) error {
	return oops.Code("RATE_LIMITED").
		With("client", clientID).
		With("retry_after", window).
		Wrap(ErrRateLimited)
}
