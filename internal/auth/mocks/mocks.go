// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/reset"
)

// testingT is the subset of *testing.T the constructors need.
type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository is a mock of auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t testingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func accountResult(args mock.Arguments) (*auth.Account, error) {
	var acct *auth.Account
	if v := args.Get(0); v != nil {
		acct = v.(*auth.Account)
	}
	return acct, args.Error(1)
}

// Create provides a mock function.
func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// GetByID provides a mock function.
func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return accountResult(m.Called(ctx, id))
}

// GetBySubject provides a mock function.
func (m *MockAccountRepository) GetBySubject(ctx context.Context, subject string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, subject))
}

// GetByEmail provides a mock function.
func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return accountResult(m.Called(ctx, email))
}

// Update provides a mock function.
func (m *MockAccountRepository) Update(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// UpdatePassword provides a mock function.
func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify provides a mock function.
func (m *MockPasswordHasher) Verify(password, hash string) bool {
	return m.Called(password, hash).Bool(0)
}

// NeedsUpgrade provides a mock function.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockTokenIssuer is a mock of auth.TokenIssuer.
type MockTokenIssuer struct {
	mock.Mock
}

// NewMockTokenIssuer creates a mock that asserts its expectations on cleanup.
func NewMockTokenIssuer(t testingT) *MockTokenIssuer {
	m := &MockTokenIssuer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Issue provides a mock function.
func (m *MockTokenIssuer) Issue(subject string, claims map[string]string, ttl time.Duration) (string, error) {
	args := m.Called(subject, claims, ttl)
	return args.String(0), args.Error(1)
}

// MockResetTokens is a mock of auth.ResetTokens.
type MockResetTokens struct {
	mock.Mock
}

// NewMockResetTokens creates a mock that asserts its expectations on cleanup.
func NewMockResetTokens(t testingT) *MockResetTokens {
	m := &MockResetTokens{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockResetTokens) Create(subject string, purpose reset.Purpose, ttl time.Duration) (string, error) {
	args := m.Called(subject, purpose, ttl)
	return args.String(0), args.Error(1)
}

// Consume provides a mock function.
func (m *MockResetTokens) Consume(ctx context.Context, token string, expected reset.Purpose) (string, error) {
	args := m.Called(ctx, token, expected)
	return args.String(0), args.Error(1)
}

// Release provides a mock function.
func (m *MockResetTokens) Release(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// MockResetNotifier is a mock of auth.ResetNotifier.
type MockResetNotifier struct {
	mock.Mock
}

// NewMockResetNotifier creates a mock that asserts its expectations on cleanup.
func NewMockResetNotifier(t testingT) *MockResetNotifier {
	m := &MockResetNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendPasswordReset provides a mock function.
func (m *MockResetNotifier) SendPasswordReset(ctx context.Context, to, link string) error {
	return m.Called(ctx, to, link).Error(0)
}
