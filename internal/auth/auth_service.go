// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gatekeeper/auth")

// Claim names set on every issued session token.
const (
	ClaimEmail     = "email"
	ClaimAccountID = "account_id"
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(subject string, claims map[string]string, ttl time.Duration) (string, error)
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccountID ulid.ULID
	Subject   string
	Token     string
	ExpiresAt time.Time
}

// Service provides login and account registration.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewService creates a new Service using the default logger.
func NewService(accounts AccountRepository, hasher PasswordHasher, tokens TokenIssuer, tokenTTL time.Duration) (*Service, error) {
	return NewServiceWithLogger(accounts, hasher, tokens, tokenTTL, slog.Default())
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(
	accounts AccountRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	tokenTTL time.Duration,
	logger *slog.Logger,
) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token issuer is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	if tokenTTL < 0 {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").With("ttl", tokenTTL).Errorf("token ttl cannot be negative")
	}
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		logger:   logger,
	}, nil
}

// dummyPasswordHash is verified when the subject doesn't exist so response time
// does not reveal whether an account exists. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login verifies a subject's password and issues a session token.
// An unknown subject and a wrong password both return ErrInvalidCredentials and issue no token.
func (s *Service) Login(ctx context.Context, subject, password string) (result *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.login", trace.WithAttributes(attribute.String("auth.subject", subject)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
		}
		span.End()
	}()

	account, lookupErr := s.accounts.GetBySubject(ctx, subject)

	targetHash := dummyPasswordHash
	accountExists := false
	switch {
	case lookupErr == nil:
		targetHash = account.PasswordHash
		accountExists = true
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by subject").
			Wrap(lookupErr)
	}

	// Always verify so unknown subjects cost the same as known ones.
	valid := s.hasher.Verify(password, targetHash)

	// A throttled account answers the same whatever the password, and the
	// attempt is not counted.
	if accountExists {
		if wait := Remaining(account.LockedUntil, time.Now()); wait > 0 {
			return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
				With("retry_after", wait).
				With("failed_attempts", account.FailedAttempts).
				Errorf("account is temporarily locked")
		}
	}

	if !accountExists || !valid {
		if accountExists {
			account.RecordFailure()
			s.bestEffortUpdate(ctx, account, "record_failure")
		}
		return nil, invalidCredentials()
	}

	account.RecordSuccess()
	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			account.PasswordHash = newHash
		}
	}
	s.bestEffortUpdate(ctx, account, "record_success")

	claims := map[string]string{
		ClaimAccountID: account.ID.String(),
	}
	if account.Email != "" {
		claims[ClaimEmail] = account.Email
	}

	issuedAt := time.Now()
	token, err := s.tokens.Issue(account.Subject, claims, s.tokenTTL)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	return &LoginResult{
		AccountID: account.ID,
		Subject:   account.Subject,
		Token:     token,
		ExpiresAt: issuedAt.Add(s.tokenTTL),
	}, nil
}

// Register hashes password and stores a new account.
func (s *Service) Register(ctx context.Context, subject, email, password string) (*Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(subject, email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, oops.With("operation", "create account").Wrap(err)
	}
	return account, nil
}

// bestEffortUpdate persists account state. Failures are logged and never fail the login.
func (s *Service) bestEffortUpdate(ctx context.Context, account *Account, operation string) {
	if err := s.accounts.Update(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "best-effort account update failed",
			"operation", operation,
			"account_id", account.ID.String(),
			"error", err.Error(),
		)
	}
}
