// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package httpapi exposes login and password reset over HTTP.
//
// Every /v1 route is rate limited per client address before the bearer
// token is examined.
package httpapi

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/fieldops/gatekeeper/internal/observability"
	"github.com/fieldops/gatekeeper/internal/ratelimit"
)

// Deps are the collaborators behind the routes.
type Deps struct {
	Auth     Authenticator
	Resets   PasswordResetter
	Verifier Verifier
	Limiter  ratelimit.Limiter
	// LimiterBackend labels the rate limited counter.
	LimiterBackend string
	// Metrics may be nil.
	Metrics *observability.AuthMetrics
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	// Empty means the socket peer is always the client.
	TrustedProxies []netip.Prefix
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRouter builds the /v1 API.
func NewRouter(d Deps) (http.Handler, error) {
	switch {
	case d.Auth == nil:
		return nil, oops.Code("HTTPAPI_INVALID_DEPENDENCY").Errorf("authenticator is required")
	case d.Resets == nil:
		return nil, oops.Code("HTTPAPI_INVALID_DEPENDENCY").Errorf("password resetter is required")
	case d.Verifier == nil:
		return nil, oops.Code("HTTPAPI_INVALID_DEPENDENCY").Errorf("token verifier is required")
	case d.Limiter == nil:
		return nil, oops.Code("HTTPAPI_INVALID_DEPENDENCY").Errorf("rate limiter is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{auth: d.Auth, resets: d.Resets, metrics: d.Metrics, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(clientAddress(d.TrustedProxies))
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(d.Limiter, ratelimit.MiddlewareConfig{
			Logger: logger,
			OnLimited: func(*http.Request) {
				d.Metrics.RecordRateLimited(d.LimiterBackend)
			},
		}))
		r.Use(AuthFilter(d.Verifier, FilterConfig{Logger: logger, Metrics: d.Metrics}))

		r.Post("/login", h.login)
		r.Post("/password/forgot", h.forgotPassword)
		r.Post("/password/reset", h.resetPassword)
		r.With(RequireAuth).Get("/me", h.me)
	})

	return r, nil
}
