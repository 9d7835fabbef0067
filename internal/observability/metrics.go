// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package observability

import "github.com/prometheus/client_golang/prometheus"

// Result labels shared by the auth counters.
const (
	ResultSuccess          = "success"
	ResultInvalid          = "invalid"
	ResultLocked           = "locked"
	ResultError            = "error"
	ResultAbsent           = "absent"
	ResultExpired          = "expired"
	ResultInvalidSignature = "invalid_signature"
	ResultMalformed        = "malformed"
)

// Password reset stages.
const (
	StageRequest  = "request"
	StageComplete = "complete"
)

// AuthMetrics counts authentication outcomes. A nil *AuthMetrics is valid and
// records nothing.
type AuthMetrics struct {
	Logins             *prometheus.CounterVec
	TokenVerifications *prometheus.CounterVec
	RateLimited        *prometheus.CounterVec
	PasswordResets     *prometheus.CounterVec
}

// NewAuthMetrics creates the auth counters and registers them on reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_token_verifications_total",
				Help: "Bearer token checks performed by the auth filter, by result",
			},
			[]string{"result"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by backend",
			},
			[]string{"backend"},
		),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_password_resets_total",
				Help: "Password reset requests and completions by result",
			},
			[]string{"stage", "result"},
		),
	}

	reg.MustRegister(m.Logins, m.TokenVerifications, m.RateLimited, m.PasswordResets)
	return m
}

// RecordLogin counts a login attempt.
func (m *AuthMetrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// RecordTokenVerification counts a bearer token check.
func (m *AuthMetrics) RecordTokenVerification(result string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(result).Inc()
}

// RecordRateLimited counts a throttled request.
func (m *AuthMetrics) RecordRateLimited(backend string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(backend).Inc()
}

// RecordPasswordReset counts a reset request or completion.
func (m *AuthMetrics) RecordPasswordReset(stage, result string) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(stage, result).Inc()
}
