// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/httpapi"
	"github.com/fieldops/gatekeeper/internal/observability"
	"github.com/fieldops/gatekeeper/internal/ratelimit"
	"github.com/fieldops/gatekeeper/internal/reset"
	"github.com/fieldops/gatekeeper/internal/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTokens(t *testing.T) *token.Service {
	t.Helper()
	svc, err := token.New(testSecret, token.WithIssuer("gatekeeper-test"))
	require.NoError(t, err)
	return svc
}

type fakeAuth struct {
	login func(ctx context.Context, subject, password string) (*auth.LoginResult, error)
}

func (f *fakeAuth) Login(ctx context.Context, subject, password string) (*auth.LoginResult, error) {
	return f.login(ctx, subject, password)
}

// tokenAuth accepts exactly one subject/password pair and issues real tokens.
func tokenAuth(tokens *token.Service, subject, password string) *fakeAuth {
	return &fakeAuth{login: func(_ context.Context, s, p string) (*auth.LoginResult, error) {
		if s != subject || p != password {
			return nil, invalidCredentialsErr()
		}
		tok, err := tokens.Issue(s, map[string]string{auth.ClaimEmail: s + "@example.test"}, time.Hour)
		if err != nil {
			return nil, err
		}
		return &auth.LoginResult{AccountID: ulid.Make(), Subject: s, Token: tok}, nil
	}}
}

type fakeResets struct {
	requested []string
	requestFn func(email string) error
	resetFn   func(token, newPassword string) error
}

func (f *fakeResets) RequestReset(_ context.Context, email string) error {
	f.requested = append(f.requested, email)
	if f.requestFn != nil {
		return f.requestFn(email)
	}
	return nil
}

func (f *fakeResets) ResetPassword(_ context.Context, tok, newPassword string) error {
	if f.resetFn != nil {
		return f.resetFn(tok, newPassword)
	}
	return nil
}

type fixture struct {
	handler http.Handler
	tokens  *token.Service
	resets  *fakeResets
	metrics *observability.AuthMetrics
}

func newFixture(t *testing.T, a httpapi.Authenticator, limit int) *fixture {
	t.Helper()
	return newFixtureWith(t, a, limit, nil)
}

func newFixtureWith(t *testing.T, a httpapi.Authenticator, limit int, trusted []netip.Prefix) *fixture {
	t.Helper()
	tokens := newTokens(t)
	if a == nil {
		a = tokenAuth(tokens, "alice", "correct horse")
	}
	f := &fixture{
		tokens:  tokens,
		resets:  &fakeResets{},
		metrics: observability.NewAuthMetrics(prometheus.NewRegistry()),
	}
	h, err := httpapi.NewRouter(httpapi.Deps{
		Auth:           a,
		Resets:         f.resets,
		Verifier:       tokens,
		Limiter:        ratelimit.NewFixedWindow(limit, time.Minute),
		LimiterBackend: "memory",
		Metrics:        f.metrics,
		TrustedProxies: trusted,
		Logger:         discardLogger(),
	})
	require.NoError(t, err)
	f.handler = h
	return f
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + tok}}
}

func invalidCredentialsErr() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(auth.ErrInvalidCredentials)
}

func lockedErr(wait time.Duration) error {
	return oops.Code("AUTH_ACCOUNT_LOCKED").With("retry_after", wait).Errorf("account is temporarily locked")
}

func invalidResetErr() error {
	return oops.Code("RESET_TOKEN_INVALID").Wrap(reset.ErrInvalidOrExpiredToken)
}
