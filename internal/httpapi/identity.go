// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"context"

	"github.com/fieldops/gatekeeper/internal/token"
)

type identityKey struct{}

// Identity is the verified caller attached by AuthFilter.
type Identity struct {
	Subject string
	Claims  *token.Claims
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx. ok is false for anonymous requests.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
