// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Subject validation constraints.
const (
	MinSubjectLength = 3
	MaxSubjectLength = 64
)

// subjectRegex matches subjects that start with a letter or digit and contain
// only letters, digits and the characters . _ @ + -
var subjectRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@+-]*$`)

// Account is a stored credential: an opaque subject identifier bound to a
// password hash, plus the failure counters used for lockout.
//
// LockedUntil is the earliest time the next login attempt is accepted. It
// covers both the short delay after a failure and the full lockout.
type Account struct {
	ID             ulid.ULID
	Subject        string
	Email          string
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAccount creates an Account with a fresh ID after validating its fields.
func NewAccount(subject, email, passwordHash string) (*Account, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_ACCOUNT").Errorf("password hash cannot be empty")
	}
	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Subject:      subject,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the account is currently locked out.
func (a *Account) IsLocked() bool {
	return IsLockedOut(a.LockedUntil)
}

// RecordFailure increments the failure counter and pushes LockedUntil out by
// FailureDelay.
func (a *Account) RecordFailure() {
	now := time.Now()
	a.FailedAttempts++
	a.LockedUntil = NextAttemptAt(a.FailedAttempts, now)
	a.UpdatedAt = now
}

// RecordSuccess resets failure counter and lockout.
func (a *Account) RecordSuccess() {
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.UpdatedAt = time.Now()
}

// ValidateSubject validates a subject identifier.
func ValidateSubject(subject string) error {
	if subject == "" {
		return oops.Code("AUTH_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if len(subject) < MinSubjectLength {
		return oops.Code("AUTH_INVALID_SUBJECT").
			With("min", MinSubjectLength).
			Errorf("subject must be at least %d characters", MinSubjectLength)
	}
	if len(subject) > MaxSubjectLength {
		return oops.Code("AUTH_INVALID_SUBJECT").
			With("max", MaxSubjectLength).
			Errorf("subject must be at most %d characters", MaxSubjectLength)
	}
	if !subjectRegex.MatchString(subject) {
		return oops.Code("AUTH_INVALID_SUBJECT").
			Errorf("subject must start with a letter or digit and contain only letters, digits and . _ @ + -")
	}
	return nil
}

// ValidateEmail accepts a bare RFC 5322 address. Display names and angle
// brackets are rejected so the stored value is exactly what mail is sent to.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return oops.Code("AUTH_INVALID_EMAIL").Wrap(err)
	}
	if addr.Name != "" || addr.Address != email {
		return oops.Code("AUTH_INVALID_EMAIL").With("email", email).Errorf("email must be a bare address")
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns ErrAccountExists on a duplicate subject or email.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetBySubject retrieves an account by subject (case-insensitive).
	GetBySubject(ctx context.Context, subject string) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Update updates failure counters, lockout and password hash.
	Update(ctx context.Context, account *Account) error

	// UpdatePassword replaces the password hash and clears any lockout.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
