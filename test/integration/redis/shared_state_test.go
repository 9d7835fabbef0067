// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package redis_test

import (
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/fieldops/gatekeeper/internal/ratelimit"
	"github.com/fieldops/gatekeeper/internal/reset"
	"github.com/fieldops/gatekeeper/internal/sealer"
)

var _ = Describe("RedisLimiter", func() {
	It("shares one window between limiter instances", func() {
		a, err := ratelimit.NewRedisLimiter(client, 3, time.Minute, ratelimit.WithKeyPrefix("it:"))
		Expect(err).NotTo(HaveOccurred())
		b, err := ratelimit.NewRedisLimiter(client, 3, time.Minute, ratelimit.WithKeyPrefix("it:"))
		Expect(err).NotTo(HaveOccurred())

		for _, l := range []*ratelimit.RedisLimiter{a, b, a} {
			allowed, err := l.AllowContext(ctx, "10.0.0.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
		}

		allowed, err := b.AllowContext(ctx, "10.0.0.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())

		allowed, err = b.AllowContext(ctx, "10.0.0.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("expires window keys", func() {
		l, err := ratelimit.NewRedisLimiter(client, 1, time.Minute, ratelimit.WithKeyPrefix("it:"))
		Expect(err).NotTo(HaveOccurred())

		_, err = l.AllowContext(ctx, "10.0.0.3")
		Expect(err).NotTo(HaveOccurred())

		keys, err := client.Keys(ctx, "it:10.0.0.3:*").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(HaveLen(1))

		ttl, err := client.TTL(ctx, keys[0]).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(ttl).To(BeNumerically(">", 0))
		Expect(ttl).To(BeNumerically("<=", time.Minute))
	})
})

var _ = Describe("RedisLedger", func() {
	It("marks a digest once and expires it with the token", func() {
		ledger, err := reset.NewRedisLedger(client, "it:ledger:")
		Expect(err).NotTo(HaveOccurred())

		fresh, err := ledger.MarkConsumed(ctx, "digest", time.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())

		fresh, err = ledger.MarkConsumed(ctx, "digest", time.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeFalse())

		ttl, err := client.PTTL(ctx, "it:ledger:digest").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(ttl).To(BeNumerically(">", 0))
		Expect(ttl).To(BeNumerically("<=", time.Minute))
	})

	It("releases a digest so it can be marked again", func() {
		ledger, err := reset.NewRedisLedger(client, "it:ledger:")
		Expect(err).NotTo(HaveOccurred())

		fresh, err := ledger.MarkConsumed(ctx, "digest", time.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())

		Expect(ledger.Release(ctx, "digest")).To(Succeed())
		Expect(client.Exists(ctx, "it:ledger:digest").Val()).To(BeZero())

		fresh, err = ledger.MarkConsumed(ctx, "digest", time.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())
	})

	It("rejects a reset token replayed on another instance", func() {
		cipher, err := sealer.New([]byte(strings.Repeat("k", 32)))
		Expect(err).NotTo(HaveOccurred())

		newService := func() *reset.Service {
			ledger, err := reset.NewRedisLedger(client, "it:reset:")
			Expect(err).NotTo(HaveOccurred())
			svc, err := reset.New(cipher, reset.WithLedger(ledger))
			Expect(err).NotTo(HaveOccurred())
			return svc
		}
		first, second := newService(), newService()

		tok, err := first.Create("alice", reset.PurposePasswordReset, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		subject, err := first.Consume(ctx, tok, reset.PurposePasswordReset)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject).To(Equal("alice"))

		_, err = second.Consume(ctx, tok, reset.PurposePasswordReset)
		Expect(errors.Is(err, reset.ErrInvalidOrExpiredToken)).To(BeTrue())
	})
})
