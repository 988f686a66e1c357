// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration management commands.
//
//	config init [--force]   Write a default config file
//	config show             Print the effective config (credentials redacted)
//	config get KEY          Print one value
//	config set KEY VALUE    Change one value in the config file
//	config keys             List every key
//	config path             Print the config file path

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/innerguide/internal/config"
)

// secretKeys are never printed by config get.
var secretKeys = map[string]bool{
	"inference.api_key":    true,
	"session.access_token": true,
	"storage.dsn":          true,
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
	}

	noConfig := map[string]string{annotationNoConfig: "true"}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default config file",
		Args:        cobra.NoArgs,
		Annotations: noConfig,
		RunE: func(*cobra.Command, []string) error {
			return a.runConfigInit(force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		initCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				fmt.Fprint(a.stdout, a.cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print one configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return a.runConfigGet(args[0])
			},
		},
		&cobra.Command{
			Use:         "set KEY VALUE",
			Short:       "Change one value in the config file",
			Example:     "  innerguide config set history.limit 100\n  innerguide config set storage.driver bolt",
			Args:        cobra.ExactArgs(2),
			Annotations: noConfig,
			RunE: func(_ *cobra.Command, args []string) error {
				return a.runConfigSet(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:         "keys",
			Short:       "List configuration keys",
			Args:        cobra.NoArgs,
			Annotations: noConfig,
			RunE: func(*cobra.Command, []string) error {
				for _, k := range config.GetAllKeys() {
					fmt.Fprintln(a.stdout, k)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:         "path",
			Short:       "Print the config file path",
			Args:        cobra.NoArgs,
			Annotations: noConfig,
			RunE: func(*cobra.Command, []string) error {
				path, err := a.resolvedConfigPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, path)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) runConfigInit(force bool) error {
	path, err := a.resolvedConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return &UsageError{Field: "config", Value: path, Reason: "already exists; pass --force to overwrite"}
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return newCommandError("config init", "write config", err)
	}
	fmt.Fprintf(a.stdout, "%s %s\n", a.out.Success.Render("Wrote"), path)
	return nil
}

func (a *app) runConfigGet(key string) error {
	value, err := a.cfg.Get(key)
	if err != nil {
		return &UsageError{Field: "key", Value: key, Reason: err.Error(), Example: "history.limit"}
	}
	if secretKeys[strings.ToLower(key)] {
		if s, _ := value.(string); s != "" {
			value = "[REDACTED]"
		}
	}
	fmt.Fprintln(a.stdout, value)
	return nil
}

// runConfigSet edits the file itself, so environment overrides and .env
// values are not written back.
func (a *app) runConfigSet(key, value string) error {
	path, err := a.resolvedConfigPath()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return newCommandError("config set", "read config", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return newCommandError("config set", "read config", err)
	}

	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Field: "key", Value: key, Reason: err.Error()}
	}
	if err := cfg.SetDefaults(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return &UsageError{Field: "value", Value: value, Reason: err.Error()}
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return newCommandError("config set", "write config", err)
	}

	shown := value
	if secretKeys[strings.ToLower(key)] {
		shown = "[REDACTED]"
	}
	fmt.Fprintf(a.stdout, "%s %s = %s\n", a.out.Success.Render("Set"), key, shown)
	return nil
}
