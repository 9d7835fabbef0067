// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - credential authentication service",
		Long: `Gatekeeper verifies passwords, issues signed bearer tokens and runs
the password reset flow behind a per-client rate limiter.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewKeygenCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewRegisterCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}
