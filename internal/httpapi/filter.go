// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/gatekeeper/internal/observability"
	"github.com/fieldops/gatekeeper/internal/token"
	"github.com/fieldops/gatekeeper/pkg/errutil"
)

var tracer = otel.Tracer("gatekeeper/httpapi")

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// FilterConfig configures AuthFilter.
type FilterConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *observability.AuthMetrics
}

// AuthFilter attaches an Identity to requests that carry a valid bearer token.
//
// It never rejects a request. A missing, malformed or unverifiable token
// leaves the request anonymous, and routes that need a caller must sit
// behind RequireAuth.
func AuthFilter(verifier Verifier, cfg FilterConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				cfg.Metrics.RecordTokenVerification(observability.ResultAbsent)
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := tracer.Start(r.Context(), "httpapi.verify_token")
			claims, err := verifier.Verify(raw)
			if err != nil {
				result := verificationResult(err)
				span.SetAttributes(attribute.String("token.result", result))
				span.End()
				cfg.Metrics.RecordTokenVerification(result)
				logger.DebugContext(ctx, "bearer token rejected, continuing anonymously",
					"code", errutil.Code(err),
					"path", r.URL.Path,
				)
				next.ServeHTTP(w, r)
				return
			}
			span.SetAttributes(attribute.String("token.result", observability.ResultSuccess))
			span.End()

			cfg.Metrics.RecordTokenVerification(observability.ResultSuccess)
			id := &Identity{Subject: claims.Subject, Claims: claims}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAuth answers 401 for requests without an Identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeText(w, http.StatusUnauthorized, "authentication required\n")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	if credential == "" || strings.ContainsAny(credential, " \t") {
		return "", false
	}
	return credential, true
}

func verificationResult(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return observability.ResultExpired
	case errors.Is(err, token.ErrInvalidSignature):
		return observability.ResultInvalidSignature
	case errors.Is(err, token.ErrMalformed):
		return observability.ResultMalformed
	default:
		return observability.ResultError
	}
}
