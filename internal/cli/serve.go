// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"cmp"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/config"
	"github.com/jeranaias/casedesk/internal/llm"
	"github.com/jeranaias/casedesk/internal/server"
	"github.com/jeranaias/casedesk/internal/tasks"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the AI function endpoints",
		Long: `Serve the AI function endpoints used by the casedesk client.

Streaming functions (chat, research, draft, rewrite) answer with SSE frames;
summarize, analyze and translate answer with JSON. Provider API keys are
reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Global()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			opts, err := server.OptionsFromConfig(cfg)
			if err != nil {
				return &ConfigError{Err: err}
			}
			reg := tasks.NewRegistry(tasks.WithExpiry(cfg.TaskExpiry()), tasks.WithLogger(pslog.Ctx(cmd.Context())))
			opts.Tasks = reg
			srv := server.New(opts, buildProviders(cfg))

			watchPath := ""
			if !noWatch {
				watchPath = flags.configPath
				if watchPath == "" {
					watchPath, _ = configFile()
				}
			}
			return runServer(cmd.Context(), srv, reg, cfg.SweepInterval(), watchPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// runServer serves until ctx ends. Finished call records are swept from reg
// and, when watchPath is set, provider changes in that file are applied
// without a restart.
func runServer(ctx context.Context, srv *server.Server, reg *tasks.Registry, sweep time.Duration, watchPath string) error {
	logger := pslog.Ctx(ctx)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		if err := reg.RunSweeper(ctx, sweep); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if watchPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, watchPath, config.DefaultWatchDebounce, func(cfg *config.Config) {
				config.SetGlobal(cfg)
				srv.SetProviders(buildProviders(cfg))
				logger.Info("configuration reloaded", "path", watchPath)
			})
		})
	} else {
		logger.Debug("config file watching disabled")
	}

	return g.Wait()
}

// configFile returns the config file in use, if one exists.
func configFile() (string, bool) {
	for _, pathFn := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return filepath.Clean(path), true
		}
	}
	return "", false
}

// buildProviders creates the upstream providers named by the config. An
// unconfigured provider is left nil so the server reports it.
func buildProviders(cfg *config.Config) server.Providers {
	return server.Providers{
		Default:  provider(cfg, cfg.Providers.Default),
		Research: provider(cfg, cfg.Providers.Research),
	}
}

func provider(cfg *config.Config, name string) llm.Provider {
	switch name {
	case "openai":
		p := cfg.Providers.OpenAI
		if p.APIKey == "" {
			return nil
		}
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			Model:      p.Model,
			MaxRetries: p.MaxRetries,
			Timeout:    p.Timeout(),
		})
	case "perplexity":
		p := cfg.Providers.Perplexity
		if p.APIKey == "" {
			return nil
		}
		return llm.NewOpenAI(llm.OpenAIConfig{
			Name:       "perplexity",
			APIKey:     p.APIKey,
			BaseURL:    cmp.Or(p.BaseURL, llm.PerplexityBaseURL),
			Model:      p.Model,
			MaxRetries: p.MaxRetries,
			Timeout:    p.Timeout(),
		})
	case "anthropic":
		p := cfg.Providers.Anthropic
		if p.APIKey == "" {
			return nil
		}
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			Model:      p.Model,
			MaxRetries: p.MaxRetries,
			Timeout:    p.Timeout(),
		})
	}
	return nil
}
