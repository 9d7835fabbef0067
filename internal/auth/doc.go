// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package auth provides credential verification for Gatekeeper.
//
// # Domain Types
//
// Account binds an opaque subject identifier to a password hash and the
// failure counters used for lockout. Accounts should be created with
// NewAccount, which validates the subject and email. Repository
// implementations receive pre-validated accounts.
//
// # Password Hashing
//
// Argon2idHasher writes PHC-formatted argon2id strings and still verifies
// legacy bcrypt hashes, reporting them through NeedsUpgrade so Login can
// rehash on the next successful attempt. Verify never returns an error: a
// malformed hash simply does not match.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - login (token issuance) and registration
//   - PasswordResetService - forgot-password and reset-password flow
//
// Services are created with New*Service constructors that validate dependencies.
package auth
