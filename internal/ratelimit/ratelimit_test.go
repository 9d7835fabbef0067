// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package ratelimit_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/gatekeeper/internal/ratelimit"
	"github.com/fieldops/gatekeeper/pkg/errutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewFixedWindow_Defaults(t *testing.T) {
	t.Run("non-positive values use defaults", func(t *testing.T) {
		f := ratelimit.NewFixedWindow(0, -time.Second)
		maxRequests, window := f.Limit()
		assert.Equal(t, ratelimit.DefaultMaxRequests, maxRequests)
		assert.Equal(t, ratelimit.DefaultWindow, window)
	})

	t.Run("explicit values are kept", func(t *testing.T) {
		f := ratelimit.NewFixedWindow(5, 10*time.Second)
		maxRequests, window := f.Limit()
		assert.Equal(t, 5, maxRequests)
		assert.Equal(t, 10*time.Second, window)
	})
}

func TestFixedWindow_Allow(t *testing.T) {
	t.Run("boundary within one window", func(t *testing.T) {
		clock := newClock()
		f := ratelimit.NewFixedWindow(3, time.Minute, ratelimit.WithClock(clock.Now))

		var got []bool
		for range 4 {
			got = append(got, f.Allow("ip1"))
		}
		assert.Equal(t, []bool{true, true, true, false}, got)

		clock.Advance(time.Minute + time.Millisecond)
		assert.True(t, f.Allow("ip1"))
		assert.Equal(t, 1, f.Count("ip1"))
	})

	t.Run("rollover requires strictly more than the window", func(t *testing.T) {
		clock := newClock()
		f := ratelimit.NewFixedWindow(1, time.Minute, ratelimit.WithClock(clock.Now))

		assert.True(t, f.Allow("ip1"))
		clock.Advance(time.Minute)
		assert.False(t, f.Allow("ip1"))
		clock.Advance(time.Nanosecond)
		assert.True(t, f.Allow("ip1"))
	})

	t.Run("rollover clears every client", func(t *testing.T) {
		clock := newClock()
		f := ratelimit.NewFixedWindow(2, time.Minute, ratelimit.WithClock(clock.Now))

		f.Allow("ip1")
		f.Allow("ip2")
		f.Allow("ip2")
		clock.Advance(2 * time.Minute)
		f.Allow("ip1")

		assert.Equal(t, 1, f.Count("ip1"))
		assert.Equal(t, 0, f.Count("ip2"))
	})

	t.Run("clients are counted independently", func(t *testing.T) {
		f := ratelimit.NewFixedWindow(1, time.Minute)
		assert.True(t, f.Allow("ip1"))
		assert.True(t, f.Allow("ip2"))
		assert.False(t, f.Allow("ip1"))
	})

	t.Run("rejected requests still count", func(t *testing.T) {
		f := ratelimit.NewFixedWindow(1, time.Minute)
		f.Allow("ip1")
		f.Allow("ip1")
		f.Allow("ip1")
		assert.Equal(t, 3, f.Count("ip1"))
	})
}

func TestFixedWindow_Concurrent(t *testing.T) {
	const (
		workers = 16
		perG    = 250
		limit   = 1000
	)
	f := ratelimit.NewFixedWindow(limit, time.Hour)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for range perG {
				if f.Allow("shared") {
					n++
				}
			}
			mu.Lock()
			allowed += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perG, f.Count("shared"))
	assert.Equal(t, limit, allowed)
}

func TestFixedWindow_Metrics(t *testing.T) {
	clock := newClock()
	reg := prometheus.NewRegistry()
	f := ratelimit.NewFixedWindow(10, time.Minute,
		ratelimit.WithClock(clock.Now),
		ratelimit.WithRegisterer(reg),
	)

	f.Allow("ip1")
	f.Allow("ip2")
	f.Allow("ip3")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "gatekeeper_ratelimit_clients")
	assert.Contains(t, names, "gatekeeper_ratelimit_window_rollovers_total")

	clock.Advance(2 * time.Minute)
	f.Allow("ip1")

	expected := `
# HELP gatekeeper_ratelimit_clients Number of clients counted in the current rate limit window
# TYPE gatekeeper_ratelimit_clients gauge
gatekeeper_ratelimit_clients 1
# HELP gatekeeper_ratelimit_window_rollovers_total Number of rate limit windows that have been reset
# TYPE gatekeeper_ratelimit_window_rollovers_total counter
gatekeeper_ratelimit_window_rollovers_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"gatekeeper_ratelimit_clients",
		"gatekeeper_ratelimit_window_rollovers_total",
	))
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	f := ratelimit.NewFixedWindow(1, 30*time.Second)

	require.NoError(t, ratelimit.Check(ctx, f, "ip1"))

	err := ratelimit.Check(ctx, f, "ip1")
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)
	errutil.AssertErrorCode(t, err, "RATE_LIMITED")
	errutil.AssertErrorContext(t, err, "retry_after", 30*time.Second)
}
