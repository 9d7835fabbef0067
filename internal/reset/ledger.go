// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package reset

import (
	"context"
	"sync"
	"time"
)

// Ledger records consumed tokens so they cannot be replayed.
type Ledger interface {
	// MarkConsumed records digest until the given time. It returns false when
	// digest was already recorded and has not yet expired.
	MarkConsumed(ctx context.Context, digest string, until time.Time) (bool, error)
	// Release forgets digest so the token can be consumed again.
	Release(ctx context.Context, digest string) error
}

// MemoryLedger is a process-local Ledger. Expired entries are pruned on write.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryLedger creates an empty ledger. A nil clock uses time.Now.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		seen: make(map[string]time.Time),
		now:  now,
	}
}

// MarkConsumed implements Ledger.
func (l *MemoryLedger) MarkConsumed(_ context.Context, digest string, until time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.seen {
		if !now.Before(exp) {
			delete(l.seen, k)
		}
	}

	if _, ok := l.seen[digest]; ok {
		return false, nil
	}
	l.seen[digest] = until
	return true, nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, digest string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, digest)
	return nil
}

// Len returns the number of live entries.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
