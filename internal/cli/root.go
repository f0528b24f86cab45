// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/config"
)

// Version information (can be overridden at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	jsonOutput bool
	noStatus   bool
}

// Execute runs the casedesk command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := &globalFlags{}
	root := newRootCmd(flags)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	code := GetExitCode(err)
	pslog.Ctx(ctx).Debug("casedesk command failed", "err", err, "exit_code", code)
	if flags.jsonOutput {
		writeErrorJSON(stdout, err)
	} else {
		displayError(stderr, err)
	}
	return code
}

func newRootCmd(flags *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "casedesk",
		Short:         "Legal case workspace with streamed AI drafting, research and analysis",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			config.SetGlobal(cfg)
			if cfg.Logging.Level != "" {
				logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level)
				cmd.SetContext(pslog.ContextWithLogger(cmd.Context(), logger))
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ValidationError{Field: "flag", Reason: err.Error(), Example: cmd.UseLine()}
	})
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.casedesk/config.toml)")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print machine-readable JSON")
	root.PersistentFlags().BoolVar(&flags.noStatus, "no-status", false, "hide the task status line")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newChatCmd(flags, "chat"))
	root.AddCommand(newChatCmd(flags, "research"))
	root.AddCommand(newDraftCmd(flags))
	root.AddCommand(newRewriteCmd(flags))
	root.AddCommand(newAnalyzeCmd(flags))
	root.AddCommand(newSummarizeCmd(flags))
	root.AddCommand(newTranslateCmd(flags))
	root.AddCommand(newUploadCmd(flags))
	root.AddCommand(newCaseCmd(flags))
	root.AddCommand(newDocCmd(flags))
	root.AddCommand(newConversationCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newVersionCmd(flags))
	return root
}

// loadConfig reads path, or the default location when path is empty.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version":    Version,
					"git_commit": GitCommit,
					"build_date": BuildDate,
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "casedesk %s (%s, %s)\n", Version, GitCommit, BuildDate)
			return err
		},
	}
}
