// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package memstore is an in-memory auth.AccountRepository for development
// and tests. Data is lost when the process exits.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fieldops/gatekeeper/internal/auth"
)

// AccountRepository keeps accounts in maps keyed by ID. Lookups by subject
// and e-mail are case-insensitive. Returned accounts are copies.
type AccountRepository struct {
	mu        sync.RWMutex
	byID      map[ulid.ULID]*auth.Account
	bySubject map[string]ulid.ULID
	byEmail   map[string]ulid.ULID
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// New creates an empty repository.
func New() *AccountRepository {
	return &AccountRepository{
		byID:      make(map[ulid.ULID]*auth.Account),
		bySubject: make(map[string]ulid.ULID),
		byEmail:   make(map[string]ulid.ULID),
	}
}

// Create implements auth.AccountRepository.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subject := strings.ToLower(account.Subject)
	email := strings.ToLower(account.Email)
	_, idTaken := r.byID[account.ID]
	_, subjectTaken := r.bySubject[subject]
	_, emailTaken := r.byEmail[email]
	if idTaken || subjectTaken || emailTaken {
		return oops.Code("AUTH_ACCOUNT_EXISTS").
			With("subject", account.Subject).
			Wrap(auth.ErrAccountExists)
	}

	stored := clone(account)
	r.byID[stored.ID] = stored
	r.bySubject[subject] = stored.ID
	r.byEmail[email] = stored.ID
	return nil
}

// GetByID implements auth.AccountRepository.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, notFound("id", id.String())
	}
	return clone(a), nil
}

// GetBySubject implements auth.AccountRepository.
func (r *AccountRepository) GetBySubject(_ context.Context, subject string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySubject[strings.ToLower(subject)]
	if !ok {
		return nil, notFound("subject", subject)
	}
	return clone(r.byID[id]), nil
}

// GetByEmail implements auth.AccountRepository.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, notFound("email", email)
	}
	return clone(r.byID[id]), nil
}

// Update implements auth.AccountRepository. Subject and e-mail are immutable.
func (r *AccountRepository) Update(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[account.ID]
	if !ok {
		return notFound("id", account.ID.String())
	}
	stored.PasswordHash = account.PasswordHash
	stored.FailedAttempts = account.FailedAttempts
	stored.LockedUntil = copyTime(account.LockedUntil)
	stored.UpdatedAt = account.UpdatedAt
	return nil
}

// UpdatePassword implements auth.AccountRepository.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return notFound("id", id.String())
	}
	stored.PasswordHash = passwordHash
	stored.FailedAttempts = 0
	stored.LockedUntil = nil
	stored.UpdatedAt = time.Now()
	return nil
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(a *auth.Account) *auth.Account {
	c := *a
	c.LockedUntil = copyTime(a.LockedUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func notFound(key, value string) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
}
