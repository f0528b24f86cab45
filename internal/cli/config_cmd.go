// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/casedesk/internal/config"
	"github.com/jeranaias/casedesk/internal/ui/styles"
)

// secretKeys are never printed by config get.
var secretKeys = map[string]bool{
	"functions.api_key":            true,
	"providers.openai.api_key":     true,
	"providers.perplexity.api_key": true,
	"providers.anthropic.api_key":  true,
	"server.auth_token":            true,
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, validate and edit the configuration",
		// Subcommands load the file themselves, so a broken file can
		// still be inspected and fixed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return err
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(flags.configPath); err != nil {
				var verrs config.ValidateErrors
				if errors.As(err, &verrs) && !flags.jsonOutput {
					for _, v := range verrs {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", styles.StatusIndicators.Error, v.Error())
					}
				}
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"valid": true})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), styles.RenderSuccess("configuration is valid"))
			return err
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := targetConfigPath(flags)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}

	get := &cobra.Command{
		Use:   "get KEY",
		Short: "Print one setting, e.g. server.addr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			key := strings.ToLower(args[0])
			if secretKeys[key] {
				cfg = cfg.Redacted()
			}
			v, err := cfg.Get(key)
			if err != nil {
				return NewValidationError("key", args[0], err.Error())
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{key: v})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	}

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting in the configuration file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := targetConfigPath(flags)
			if err != nil {
				return err
			}
			cfg, err := readConfigFile(p)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return NewValidationError("key", args[0], err.Error())
			}
			if err := cfg.Validate(); err != nil {
				return &ConfigError{Err: err}
			}
			if err := saveConfigFile(cfg, p); err != nil {
				return err
			}
			if !flags.jsonOutput {
				fmt.Fprintln(cmd.ErrOrStderr(), styles.RenderSuccess("updated "+args[0]))
			}
			return nil
		},
	}

	var (
		force   bool
		baseURL string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file, prompting for API keys",
		Long: `Write a configuration file, prompting for API keys.

Leave a prompt empty to skip that key. Keys are read without echo on a
terminal, and the file is written with 0600 permissions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := targetConfigPath(flags)
			if err != nil {
				return err
			}
			if _, err := os.Stat(p); err == nil && !force {
				return NewValidationError("config", p, "already exists, use --force to overwrite")
			}
			cfg := config.Default()
			if baseURL != "" {
				cfg.Functions.BaseURL = baseURL
			}
			in, out := cmd.InOrStdin(), cmd.ErrOrStderr()
			for _, k := range []struct {
				prompt string
				dst    *string
			}{
				{"Function gateway API key: ", &cfg.Functions.APIKey},
				{"OpenAI API key: ", &cfg.Providers.OpenAI.APIKey},
				{"Perplexity API key: ", &cfg.Providers.Perplexity.APIKey},
				{"Anthropic API key: ", &cfg.Providers.Anthropic.APIKey},
			} {
				v, err := readSecret(in, out, k.prompt)
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				*k.dst = v
			}
			if cfg.Providers.OpenAI.APIKey == "" && cfg.Providers.Anthropic.APIKey != "" {
				cfg.Providers.Default = "anthropic"
			}
			if cfg.Providers.Perplexity.APIKey == "" {
				cfg.Providers.Research = cfg.Providers.Default
			}
			if err := cfg.Validate(); err != nil {
				return &ConfigError{Err: err}
			}
			if err := saveConfigFile(cfg, p); err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"path": p})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), styles.RenderSuccess("wrote "+p))
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&baseURL, "base-url", "", "function gateway URL")

	cmd.AddCommand(show, validate, path, get, set, initCmd)
	return cmd
}

// targetConfigPath is --config, the existing config file, or the default
// TOML location.
func targetConfigPath(flags *globalFlags) (string, error) {
	if flags.configPath != "" {
		return flags.configPath, nil
	}
	if p, ok := configFile(); ok {
		return p, nil
	}
	p, err := config.ConfigPathTOML()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return p, nil
}

// readConfigFile loads path over the defaults without environment
// overrides, so saving it back does not persist the environment.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.LoadJSON(cfg, path)
	} else {
		err = config.LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	cfg.SetDefaults()
	return cfg, nil
}

func saveConfigFile(cfg *config.Config, path string) error {
	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}
