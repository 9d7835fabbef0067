// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package postgres_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/auth/postgres"
	"github.com/fieldops/gatekeeper/internal/store"
)

var _ = Describe("AccountRepository", func() {
	var repo *postgres.AccountRepository

	BeforeEach(func() {
		truncateAccounts()
		repo = postgres.NewAccountRepository(env.pool)
	})

	newAccount := func(subject, email string) *auth.Account {
		account, err := auth.NewAccount(subject, email, "$argon2id$placeholder")
		Expect(err).NotTo(HaveOccurred())
		return account
	}

	It("round-trips an account", func() {
		account := newAccount("alice", "alice@example.test")
		Expect(repo.Create(env.ctx, account)).To(Succeed())

		got, err := repo.GetByID(env.ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Subject).To(Equal("alice"))
		Expect(got.Email).To(Equal("alice@example.test"))
		Expect(got.FailedAttempts).To(BeZero())
		Expect(got.LockedUntil).To(BeNil())
	})

	It("matches subject and email case-insensitively", func() {
		Expect(repo.Create(env.ctx, newAccount("Alice", "Alice@Example.test"))).To(Succeed())

		bySubject, err := repo.GetBySubject(env.ctx, "ALICE")
		Expect(err).NotTo(HaveOccurred())
		byEmail, err := repo.GetByEmail(env.ctx, "alice@example.TEST")
		Expect(err).NotTo(HaveOccurred())
		Expect(byEmail.ID).To(Equal(bySubject.ID))
	})

	It("rejects a duplicate subject or email", func() {
		Expect(repo.Create(env.ctx, newAccount("alice", "alice@example.test"))).To(Succeed())

		err := repo.Create(env.ctx, newAccount("ALICE", "other@example.test"))
		Expect(errors.Is(err, auth.ErrAccountExists)).To(BeTrue())

		err = repo.Create(env.ctx, newAccount("bob", "ALICE@example.test"))
		Expect(errors.Is(err, auth.ErrAccountExists)).To(BeTrue())
	})

	It("reports missing accounts as not found", func() {
		_, err := repo.GetBySubject(env.ctx, "nobody")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("persists lockout state and clears it on password change", func() {
		account := newAccount("alice", "alice@example.test")
		Expect(repo.Create(env.ctx, account)).To(Succeed())

		lockedUntil := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Microsecond)
		account.FailedAttempts = 7
		account.LockedUntil = &lockedUntil
		Expect(repo.Update(env.ctx, account)).To(Succeed())

		got, err := repo.GetByID(env.ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.FailedAttempts).To(Equal(7))
		Expect(got.LockedUntil).NotTo(BeNil())
		Expect(got.LockedUntil.Equal(lockedUntil)).To(BeTrue())

		Expect(repo.UpdatePassword(env.ctx, account.ID, "$argon2id$new")).To(Succeed())

		got, err = repo.GetByID(env.ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("$argon2id$new"))
		Expect(got.FailedAttempts).To(BeZero())
		Expect(got.LockedUntil).To(BeNil())
	})
})

var _ = Describe("Migrator", func() {
	It("reports the schema as fully applied", func() {
		m, err := store.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		st, err := m.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Dirty).To(BeFalse())
		Expect(st.Pending).To(BeEmpty())
		Expect(st.Applied).To(ContainElement(uint(1)))
	})

	It("is idempotent", func() {
		Expect(migrateUp(env.connStr)).To(Succeed())
	})
})
