// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/gatekeeper/internal/httpapi"
	"github.com/fieldops/gatekeeper/internal/observability"
	"github.com/fieldops/gatekeeper/internal/token"
)

// downstream records the identity seen downstream of the filter.
type downstream struct {
	called bool
	id     *httpapi.Identity
}

func (p *downstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.called = true
	p.id, _ = httpapi.IdentityFrom(r.Context())
	w.WriteHeader(http.StatusOK)
}

func runFilter(t *testing.T, verifier httpapi.Verifier, metrics *observability.AuthMetrics, authz string) (*downstream, int) {
	t.Helper()
	p := &downstream{}
	h := httpapi.AuthFilter(verifier, httpapi.FilterConfig{Logger: discardLogger(), Metrics: metrics})(p)
	req := httptest.NewRequest(http.MethodGet, "/v1/anything", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.True(t, p.called, "filter must always call the next handler")
	return p, rec.Code
}

func TestAuthFilter_AttachesIdentity(t *testing.T) {
	tokens := newTokens(t)
	tok, err := tokens.Issue("alice", map[string]string{"email": "alice@example.test"}, time.Hour)
	require.NoError(t, err)

	for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
		t.Run(scheme, func(t *testing.T) {
			p, code := runFilter(t, tokens, nil, scheme+" "+tok)
			assert.Equal(t, http.StatusOK, code)
			require.NotNil(t, p.id)
			assert.Equal(t, "alice", p.id.Subject)
			email, ok := p.id.Claims.Get("email")
			assert.True(t, ok)
			assert.Equal(t, "alice@example.test", email)
		})
	}
}

func TestAuthFilter_FailsOpen(t *testing.T) {
	tokens := newTokens(t)
	valid, err := tokens.Issue("alice", nil, time.Hour)
	require.NoError(t, err)

	other, err := token.New([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)
	foreign, err := other.Issue("mallory", nil, time.Hour)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	stale, err := token.New(testSecret, token.WithIssuer("gatekeeper-test"), token.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	expired, err := stale.Issue("alice", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		result string
	}{
		{"no header", "", observability.ResultAbsent},
		{"basic scheme", "Basic YWxpY2U6cHc=", observability.ResultAbsent},
		{"scheme only", "Bearer", observability.ResultAbsent},
		{"two credentials", "Bearer " + valid + " extra", observability.ResultAbsent},
		{"garbage token", "Bearer not-a-token", observability.ResultMalformed},
		{"foreign signature", "Bearer " + foreign, observability.ResultInvalidSignature},
		{"expired", "Bearer " + expired, observability.ResultExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewAuthMetrics(prometheus.NewRegistry())

			p, code := runFilter(t, tokens, metrics, tt.header)

			assert.Equal(t, http.StatusOK, code)
			assert.Nil(t, p.id)
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.TokenVerifications.WithLabelValues(tt.result)), 0)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	protected := httpapi.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("anonymous is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("identified caller passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(httpapi.WithIdentity(req.Context(), &httpapi.Identity{Subject: "alice"}))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
	})
}

func TestIdentityFrom_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := httpapi.IdentityFrom(req.Context())
	assert.False(t, ok)

	_, ok = httpapi.IdentityFrom(httpapi.WithIdentity(req.Context(), nil))
	assert.False(t, ok)
}
