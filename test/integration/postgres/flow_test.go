// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package postgres_test

import (
	"errors"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/auth/postgres"
	"github.com/fieldops/gatekeeper/internal/mail"
	"github.com/fieldops/gatekeeper/internal/reset"
	"github.com/fieldops/gatekeeper/internal/sealer"
	"github.com/fieldops/gatekeeper/internal/token"
	"github.com/fieldops/gatekeeper/pkg/errutil"
)

var _ = Describe("Login and password reset against Postgres", func() {
	var (
		tokens   *token.Service
		login    *auth.Service
		resets   *auth.PasswordResetService
		outbox   *mail.Outbox
		accounts *postgres.AccountRepository
	)

	BeforeEach(func() {
		truncateAccounts()
		accounts = postgres.NewAccountRepository(env.pool)

		var err error
		tokens, err = token.New([]byte(strings.Repeat("s", 32)))
		Expect(err).NotTo(HaveOccurred())
		cipher, err := sealer.New([]byte(strings.Repeat("k", 32)))
		Expect(err).NotTo(HaveOccurred())
		resetTokens, err := reset.New(cipher, reset.WithLedger(reset.NewMemoryLedger(nil)))
		Expect(err).NotTo(HaveOccurred())

		hasher := auth.NewArgon2idHasher()
		login, err = auth.NewService(accounts, hasher, tokens, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		outbox = &mail.Outbox{}
		resets, err = auth.NewPasswordResetService(accounts, resetTokens, hasher, mail.NewLogMailer(nil, outbox),
			auth.PasswordResetConfig{LinkBase: "https://gk.example.test/reset"})
		Expect(err).NotTo(HaveOccurred())

		_, err = login.Register(env.ctx, "alice", "alice@example.test", "correct horse")
		Expect(err).NotTo(HaveOccurred())
	})

	It("issues a token only for the right password", func() {
		result, err := login.Login(env.ctx, "alice", "correct horse")
		Expect(err).NotTo(HaveOccurred())
		claims, err := tokens.Verify(result.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Subject).To(Equal("alice"))

		_, err = login.Login(env.ctx, "alice", "wrong")
		Expect(errors.Is(err, auth.ErrInvalidCredentials)).To(BeTrue())

		account, err := accounts.GetBySubject(env.ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(account.FailedAttempts).To(Equal(1))
		Expect(account.LockedUntil).NotTo(BeNil())

		_, err = login.Login(env.ctx, "alice", "correct horse")
		Expect(errutil.Code(err)).To(Equal("AUTH_ACCOUNT_LOCKED"))
	})

	It("resets a password once through the mailed link", func() {
		Expect(resets.RequestReset(env.ctx, "alice@example.test")).To(Succeed())

		msg, ok := outbox.Last()
		Expect(ok).To(BeTrue())
		Expect(msg.To).To(Equal("alice@example.test"))
		link, err := url.Parse(msg.Link)
		Expect(err).NotTo(HaveOccurred())
		resetToken := link.Query().Get("token")
		Expect(resetToken).NotTo(BeEmpty())

		Expect(resets.ResetPassword(env.ctx, resetToken, "battery staple")).To(Succeed())

		_, err = login.Login(env.ctx, "alice", "battery staple")
		Expect(err).NotTo(HaveOccurred())
		_, err = login.Login(env.ctx, "alice", "correct horse")
		Expect(errors.Is(err, auth.ErrInvalidCredentials)).To(BeTrue())

		err = resets.ResetPassword(env.ctx, resetToken, "again")
		Expect(errors.Is(err, reset.ErrInvalidOrExpiredToken)).To(BeTrue())
	})

	It("sends nothing for an unknown address", func() {
		Expect(resets.RequestReset(env.ctx, "nobody@example.test")).To(Succeed())
		Expect(outbox.Messages()).To(BeEmpty())
	})
})
