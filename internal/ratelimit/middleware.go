// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// LimitedMessage is the response body for a throttled request.
const LimitedMessage = "Too many requests, please try again later.\n"

// Check counts a request from clientID. It returns an error wrapping
// ErrRateLimited when the client is over its limit, or the limiter's own
// error when the backend could not be consulted.
func Check(ctx context.Context, l Limiter, clientID string) error {
	allowed, err := l.AllowContext(ctx, clientID)
	if err != nil {
		return err
	}
	if !allowed {
		var window time.Duration
		if lw, ok := l.(interface{ Limit() (int, time.Duration) }); ok {
			_, window = lw.Limit()
		}
		return rateLimited(clientID, window)
	}
	return nil
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Logger receives backend failures. Defaults to slog.Default().
	Logger *slog.Logger
	// KeyFunc derives the client identifier. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// OnLimited is called for every rejected request.
	OnLimited func(*http.Request)
}

// Middleware rejects requests over the limit with 429 and a plain-text body.
// If the limiter itself fails the request is let through.
func Middleware(l Limiter, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := Check(r.Context(), l, keyFunc(r))
			switch {
			case err == nil:
			case errors.Is(err, ErrRateLimited):
				if cfg.OnLimited != nil {
					cfg.OnLimited(r)
				}
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(LimitedMessage))
				return
			default:
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					"path", r.URL.Path,
					"error", err,
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
