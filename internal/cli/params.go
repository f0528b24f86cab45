// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/casedesk/internal/server"
)

// paramFlags are the model options every AI command accepts.
type paramFlags struct {
	model       string
	temperature float64
	maxTokens   int
}

func (p *paramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.model, "model", "", "model override for this call")
	cmd.Flags().Float64Var(&p.temperature, "temperature", 0, "sampling temperature (0-2)")
	cmd.Flags().IntVar(&p.maxTokens, "max-tokens", 0, "response token limit")
}

// params returns the request parameters; temperature is only sent when the
// flag was given.
func (p *paramFlags) params(cmd *cobra.Command) (server.Params, error) {
	out := server.Params{Model: p.model, MaxTokens: p.maxTokens}
	if cmd.Flags().Changed("temperature") {
		if p.temperature < 0 || p.temperature > 2 {
			return server.Params{}, NewValidationError("temperature", fmt.Sprint(p.temperature), "must be between 0 and 2")
		}
		t := p.temperature
		out.Temperature = &t
	}
	if p.maxTokens < 0 {
		return server.Params{}, NewValidationError("max-tokens", fmt.Sprint(p.maxTokens), "must not be negative")
	}
	return out, nil
}

// inputText resolves the text a command works on: positional arguments,
// a file named by --file ("-" for stdin), or piped stdin.
func inputText(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(b), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && !isTerminal(f) {
		b, err := io.ReadAll(f)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	return "", nil
}
