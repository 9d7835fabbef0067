// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package reset produces and consumes opaque, self-contained reset tokens.
//
// A token is an encrypted envelope carrying its purpose, expiry, a random
// salt and the subject it was issued for. Nothing is stored server side
// unless a Ledger is configured to enforce single use.
package reset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/gatekeeper/internal/secrand"
)

var tracer = otel.Tracer("gatekeeper/reset")

// SaltSize is the number of random bytes mixed into every envelope.
const SaltSize = 16

// Purpose scopes a token to one flow. A token created for one purpose is
// never accepted for another.
type Purpose string

// Known purposes.
const (
	PurposePasswordReset Purpose = "password-reset"
	PurposeEmailVerify   Purpose = "email-verify"
)

// ErrInvalidOrExpiredToken is the only error Consume reports for a token it
// rejects, whatever the underlying reason.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

func invalidToken() error {
	return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
}

// Sealer is the authenticated cipher that protects envelopes.
type Sealer interface {
	EncryptWithAD(plaintext, additionalData []byte) (string, error)
	DecryptWithAD(blob string, additionalData []byte) ([]byte, error)
}

type envelope struct {
	Purpose Purpose `json:"p"`
	Expiry  int64   `json:"e"`
	Salt    []byte  `json:"s"`
	Subject string  `json:"d"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLedger enables single-use enforcement.
func WithLedger(l Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithLogger sets the logger used for rejection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service creates and consumes reset tokens.
type Service struct {
	sealer Sealer
	ledger Ledger
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Service that seals envelopes with sealer.
func New(sealer Sealer, opts ...Option) (*Service, error) {
	if sealer == nil {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("sealer is required")
	}
	s := &Service{
		sealer: sealer,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SingleUse reports whether a ledger is configured.
func (s *Service) SingleUse() bool {
	return s.ledger != nil
}

// Create returns an opaque token for subject, valid for ttl.
func (s *Service) Create(subject string, purpose Purpose, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", oops.Code("RESET_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if purpose == "" {
		return "", oops.Code("RESET_INVALID_PURPOSE").Errorf("purpose cannot be empty")
	}
	if ttl < 0 {
		return "", oops.Code("RESET_INVALID_TTL").With("ttl", ttl).Errorf("ttl cannot be negative")
	}

	salt, err := secrand.Bytes(SaltSize)
	if err != nil {
		return "", oops.With("operation", "generate salt").Wrap(err)
	}

	payload, err := json.Marshal(envelope{
		Purpose: purpose,
		Expiry:  s.now().Add(ttl).Unix(),
		Salt:    salt,
		Subject: subject,
	})
	if err != nil {
		return "", oops.Code("RESET_CREATE_FAILED").Wrap(err)
	}

	// The purpose is bound as associated data as well as carried inside.
	token, err := s.sealer.EncryptWithAD(payload, []byte(purpose))
	if err != nil {
		return "", oops.With("operation", "seal envelope").Wrap(err)
	}
	return token, nil
}

// Consume validates token for the expected purpose and returns its subject.
// Every rejection is reported as ErrInvalidOrExpiredToken. With a ledger
// configured, a token is accepted at most once; ledger outages are returned
// as RESET_LEDGER_FAILED rather than accepting a possible replay.
func (s *Service) Consume(ctx context.Context, token string, expected Purpose) (string, error) {
	ctx, span := tracer.Start(ctx, "reset.Consume")
	defer span.End()
	span.SetAttributes(attribute.String("reset.purpose", string(expected)))

	plaintext, err := s.sealer.DecryptWithAD(token, []byte(expected))
	if err != nil {
		return "", s.reject(ctx, "decrypt")
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return "", s.reject(ctx, "decode")
	}
	if env.Purpose != expected {
		return "", s.reject(ctx, "purpose")
	}
	if env.Subject == "" || len(env.Salt) != SaltSize {
		return "", s.reject(ctx, "incomplete")
	}
	expiry := time.Unix(env.Expiry, 0)
	if !s.now().Before(expiry) {
		return "", s.reject(ctx, "expired")
	}

	if s.ledger != nil {
		fresh, err := s.ledger.MarkConsumed(ctx, Digest(token), expiry)
		if err != nil {
			return "", oops.Code("RESET_LEDGER_FAILED").
				With("operation", "mark consumed").
				Wrap(err)
		}
		if !fresh {
			return "", s.reject(ctx, "replayed")
		}
	}

	return env.Subject, nil
}

// Release undoes the single-use mark Consume left for token, for callers
// whose follow-up work failed. It is a no-op without a ledger.
func (s *Service) Release(ctx context.Context, token string) error {
	if s.ledger == nil {
		return nil
	}
	if err := s.ledger.Release(ctx, Digest(token)); err != nil {
		return oops.Code("RESET_LEDGER_FAILED").
			With("operation", "release").
			Wrap(err)
	}
	return nil
}

func (s *Service) reject(ctx context.Context, stage string) error {
	s.logger.DebugContext(ctx, "reset token rejected", "stage", stage)
	return invalidToken()
}

// Digest returns the ledger key for a token. Ledgers never see the token itself.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
