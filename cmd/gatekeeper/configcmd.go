// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fieldops/gatekeeper/internal/config"
	"github.com/fieldops/gatekeeper/internal/xdg"
)

// effectiveConfig is what the config command prints.
type effectiveConfig struct {
	config.Config `yaml:",inline"`
	Environment    map[string]string `yaml:"environment"`
}

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration serve would use, after merging flag defaults,
the config file and command-line flags. Secrets are redacted.

With --write the non-secret settings are saved to the default config file
instead. An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			if write {
				path, err := writeConfigFile(cfg)
				if err != nil {
					return err
				}
				cmd.Printf("wrote %s\n", path)
				return nil
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(effectiveConfig{Config: *cfg, Environment: cfg.Secrets.Redacted()}); err != nil {
				return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
			}
			return enc.Close()
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&write, "write", false, "save the settings to the default config file")
	return cmd
}

func writeConfigFile(cfg *config.Config) (string, error) {
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", err
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", oops.Code("CONFIG_EXISTS").With("path", path).Errorf("config file already exists")
		}
		return "", oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		_ = f.Close()
		return "", oops.Code("CONFIG_ENCODE_FAILED").With("path", path).Wrap(err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return "", oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return "", oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}
