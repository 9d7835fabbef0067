// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/fieldops/gatekeeper/internal/reset"
)

// DefaultResetTokenTTL is how long a password reset link stays valid.
const DefaultResetTokenTTL = time.Hour

// ResetTokens creates and consumes opaque reset tokens.
type ResetTokens interface {
	Create(subject string, purpose reset.Purpose, ttl time.Duration) (string, error)
	Consume(ctx context.Context, token string, expected reset.Purpose) (string, error)
	Release(ctx context.Context, token string) error
}

// ResetNotifier delivers a password reset link to the account owner.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// PasswordResetConfig configures a PasswordResetService.
type PasswordResetConfig struct {
	// LinkBase is the URL the token is appended to as the "token" query parameter.
	LinkBase string
	// TTL defaults to DefaultResetTokenTTL.
	TTL time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// PasswordResetService handles the forgot-password flow.
type PasswordResetService struct {
	accounts AccountRepository
	tokens   ResetTokens
	hasher   PasswordHasher
	notifier ResetNotifier
	linkBase *url.URL
	ttl      time.Duration
	logger   *slog.Logger
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	accounts AccountRepository,
	tokens ResetTokens,
	hasher PasswordHasher,
	notifier ResetNotifier,
	cfg PasswordResetConfig,
) (*PasswordResetService, error) {
	if accounts == nil {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("account repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("reset token service is required")
	}
	if hasher == nil {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").Errorf("notifier is required")
	}

	linkBase, err := url.Parse(cfg.LinkBase)
	if err != nil || !linkBase.IsAbs() {
		return nil, oops.Code("RESET_INVALID_DEPENDENCY").
			With("link_base", cfg.LinkBase).
			Errorf("link base must be an absolute URL")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PasswordResetService{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		linkBase: linkBase,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// RequestReset sends a reset link to the account registered under email.
// An unknown email returns nil so callers cannot enumerate accounts.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	ctx, span := tracer.Start(ctx, "auth.request_reset")
	defer span.End()

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, err := s.tokens.Create(account.Subject, reset.PurposePasswordReset, s.ttl)
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "create reset token").
			Wrap(err)
	}

	if err := s.notifier.SendPasswordReset(ctx, account.Email, s.link(token)); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "send reset link").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset link issued", "account_id", account.ID.String())
	return nil
}

// ResetPassword replaces the password of the account named in a valid reset token.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	defer span.End()

	if newPassword == "" {
		return oops.Code("RESET_PASSWORD_EMPTY").Errorf("new password cannot be empty")
	}

	subject, err := s.tokens.Consume(ctx, token, reset.PurposePasswordReset)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(reset.ErrInvalidOrExpiredToken)
		}
		s.release(ctx, token)
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get account by subject").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.release(ctx, token)
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		s.release(ctx, token)
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "account_id", account.ID.String())
	return nil
}

// release keeps a link usable after a failure that was not the token's fault.
func (s *PasswordResetService) release(ctx context.Context, token string) {
	if err := s.tokens.Release(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "reset token could not be released", "error", err)
	}
}

func (s *PasswordResetService) link(token string) string {
	u := *s.linkBase
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
