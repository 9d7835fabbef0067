// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"encoding/base64"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fieldops/gatekeeper/internal/config"
	"github.com/fieldops/gatekeeper/internal/sealer"
	"github.com/fieldops/gatekeeper/internal/secrand"
	"github.com/fieldops/gatekeeper/internal/token"
)

// NewKeygenCmd creates the keygen subcommand.
func NewKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing secret and encryption key",
		Long: `Print a fresh token signing secret and AES-256 key as environment
variable assignments suitable for an env file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signing, err := secrand.Bytes(token.MinSecretSize)
			if err != nil {
				return oops.With("operation", "generate signing secret").Wrap(err)
			}
			key, err := secrand.Bytes(sealer.KeySize)
			if err != nil {
				return oops.With("operation", "generate encryption key").Wrap(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s=%s\n", config.EnvSigningSecret, base64.StdEncoding.EncodeToString(signing))
			fmt.Fprintf(out, "%s=%s\n", config.EnvEncryptionKey, base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
