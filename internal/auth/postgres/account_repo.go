// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package postgres stores accounts in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fieldops/gatekeeper/internal/auth"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectAccount = `
	SELECT id, subject, email, password_hash, failed_attempts, locked_until, created_at, updated_at
	FROM accounts`

// AccountRepository implements auth.AccountRepository.
type AccountRepository struct {
	db  DB
	now func() time.Time
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a repository on db.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// Create inserts account. A duplicate subject or email yields auth.ErrAccountExists.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, subject, email, password_hash, failed_attempts, locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.ID.String(),
		account.Subject,
		account.Email,
		account.PasswordHash,
		account.FailedAttempts,
		account.LockedUntil,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("AUTH_ACCOUNT_EXISTS").
			With("subject", account.Subject).
			Wrap(auth.ErrAccountExists)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("subject", account.Subject).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccount+` WHERE id = $1`, id.String())
	return r.get(row, "id", id.String())
}

// GetBySubject retrieves an account by subject, ignoring case.
func (r *AccountRepository) GetBySubject(ctx context.Context, subject string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccount+` WHERE LOWER(subject) = LOWER($1)`, subject)
	return r.get(row, "subject", subject)
}

// GetByEmail retrieves an account by e-mail, ignoring case.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccount+` WHERE LOWER(email) = LOWER($1)`, email)
	return r.get(row, "email", email)
}

// Update writes the mutable fields of account.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			password_hash = $2,
			failed_attempts = $3,
			locked_until = $4,
			updated_at = $5
		WHERE id = $1
	`,
		account.ID.String(),
		account.PasswordHash,
		account.FailedAttempts,
		account.LockedUntil,
		account.UpdatedAt,
	)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("id", account.ID.String())
	}
	return nil
}

// UpdatePassword replaces the password hash and clears failure state.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			password_hash = $2,
			failed_attempts = 0,
			locked_until = NULL,
			updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, r.now())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("id", id.String())
	}
	return nil
}

func (r *AccountRepository) get(row pgx.Row, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key, value)
	}
	if err != nil {
		return nil, oops.With("operation", "get account by "+key).With(key, value).Wrap(err)
	}
	return account, nil
}

// scanAccount leaves pgx.ErrNoRows unwrapped for the caller.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr       string
		account     auth.Account
		lockedUntil pgtype.Timestamptz
	)

	err := row.Scan(
		&idStr,
		&account.Subject,
		&account.Email,
		&account.PasswordHash,
		&account.FailedAttempts,
		&lockedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with lookup context
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	account.ID = id

	if lockedUntil.Valid {
		t := lockedUntil.Time
		account.LockedUntil = &t
	}
	return &account, nil
}

func notFound(key, value string) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
