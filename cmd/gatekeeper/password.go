// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/auth/postgres"
	"github.com/fieldops/gatekeeper/internal/config"
	"github.com/fieldops/gatekeeper/internal/store"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long:  `Read one line from stdin and print its argon2id hash.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.NewArgon2idHasher().Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// NewRegisterCmd creates the register subcommand.
func NewRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register SUBJECT EMAIL",
		Short: "Create an account in the database",
		Long: `Create an account in the PostgreSQL database named by DATABASE_URL.
The password is read from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := config.LoadSecrets()
			if err != nil {
				return err
			}
			if secrets.DatabaseURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.EnvDatabaseURL)
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := store.Connect(ctx, secrets.DatabaseURL, slog.Default(), store.ConnectOptions{})
			if err != nil {
				return err
			}
			defer pool.Close()

			account, err := registerAccount(ctx, postgres.NewAccountRepository(pool), args[0], args[1], password)
			if err != nil {
				return err
			}
			cmd.Printf("Created account %s (%s)\n", account.Subject, account.ID)
			return nil
		},
	}
}

// registerAccount creates an account through the login service so the
// stored hash matches what Login expects.
func registerAccount(ctx context.Context, accounts auth.AccountRepository, subject, email, password string) (*auth.Account, error) {
	svc, err := auth.NewService(accounts, auth.NewArgon2idHasher(), noTokens{}, 0)
	if err != nil {
		return nil, err
	}
	return svc.Register(ctx, subject, email, password)
}

// noTokens satisfies auth.TokenIssuer for services that never log in.
type noTokens struct{}

func (noTokens) Issue(string, map[string]string, time.Duration) (string, error) {
	return "", oops.Code("TOKEN_ISSUER_UNAVAILABLE").Errorf("token issuing is not configured")
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")
	}
	return password, nil
}
