// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"time"
)

// Throttling after failed logins. Each failure pushes the account's next
// allowed attempt out; at LockoutThreshold the push becomes a lockout.
const (
	LockoutThreshold = 7
	LockoutDuration  = 15 * time.Minute

	FirstFailureDelay = time.Second
	MaxFailureDelay   = 32 * time.Second
)

// FailureDelay is the wait imposed after the given number of consecutive
// failures: 1s, 2s, 4s ... capped at MaxFailureDelay, then LockoutDuration
// from LockoutThreshold on.
func FailureDelay(failures int) time.Duration {
	switch {
	case failures <= 0:
		return 0
	case failures >= LockoutThreshold:
		return LockoutDuration
	}
	return min(FirstFailureDelay<<(failures-1), MaxFailureDelay)
}

// NextAttemptAt returns the earliest time another attempt is accepted, or nil
// when failures is zero.
func NextAttemptAt(failures int, now time.Time) *time.Time {
	d := FailureDelay(failures)
	if d == 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}

// Remaining is the time left until lockedUntil, zero if it is nil or past.
func Remaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if lockedUntil == nil {
		return 0
	}
	return max(lockedUntil.Sub(now), 0)
}

// IsLockedOut returns true if lockedUntil is in the future.
func IsLockedOut(lockedUntil *time.Time) bool {
	return Remaining(lockedUntil, time.Now()) > 0
}
