// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm talks to the upstream language model providers behind the
// function server.
//
// Two providers are implemented: an OpenAI-compatible provider built on the
// official openai-go SDK (also used for Perplexity, whose citations are
// surfaced as sources), and an Anthropic Messages API provider over plain
// HTTP with server-sent events.
//
// # Key Types
//
//   - Provider: Complete and Stream a Request
//   - Request, Message: a prompt
//   - Delta: one streamed increment of text or sources
//   - Completion: the final text, finish reason and token usage
//   - ProviderError: a non-2xx upstream response
//
// # Usage
//
//	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: key, Model: "gpt-4o-mini"})
//	c, err := p.Stream(ctx, req, func(d llm.Delta) error {
//	    fmt.Print(d.Text)
//	    return nil
//	})
package llm
