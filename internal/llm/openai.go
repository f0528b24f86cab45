// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/sse"
)

// PerplexityBaseURL is the OpenAI-compatible Perplexity endpoint.
const PerplexityBaseURL = "https://api.perplexity.ai"

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	// Name identifies the provider in logs and errors. Defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	Model   string

	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIProvider serves requests through the Chat Completions API. It also
// speaks to Perplexity, whose citations are reported as sources.
type OpenAIProvider struct {
	name    string
	model   string
	timeout time.Duration
	client  openai.Client
	ok      bool
}

// NewOpenAI creates a provider. A missing API key is reported by the first
// request, not here.
func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:    name,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
		ok:      strings.TrimSpace(cfg.APIKey) != "",
	}
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete performs a non-streaming completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	params, err := p.params(req)
	if err != nil {
		return Completion{}, err
	}
	var callOpts []option.RequestOption
	if p.timeout > 0 {
		callOpts = append(callOpts, option.WithRequestTimeout(p.timeout))
	}
	resp, err := p.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return Completion{}, p.wrapError(err)
	}

	out := Completion{
		Model:   resp.Model,
		Sources: citations(gjson.Parse(resp.RawJSON())),
		Usage: sse.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// Stream performs a streaming completion, calling fn for every non-empty
// delta. Sources are delivered once, with the first chunk that carries them.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, fn DeltaFunc) (Completion, error) {
	params, err := p.params(req)
	if err != nil {
		return Completion{}, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	log := pslog.Ctx(ctx).With("provider", p.name)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		out  Completion
		text strings.Builder
	)
	for stream.Next() {
		chunk := stream.Current()
		if out.Model == "" {
			out.Model = chunk.Model
		}

		var d Delta
		if out.Sources == nil {
			if srcs := citations(gjson.Parse(chunk.RawJSON())); len(srcs) > 0 {
				out.Sources = srcs
				d.Sources = srcs
			}
		}
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			d.Text = choice.Delta.Content
			if choice.FinishReason != "" {
				out.FinishReason = string(choice.FinishReason)
			}
		}
		if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
			out.Usage = sse.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
			}
		}

		if d.Text == "" && len(d.Sources) == 0 {
			continue
		}
		text.WriteString(d.Text)
		if err := fn(d); err != nil {
			out.Text = text.String()
			return out, err
		}
	}
	out.Text = text.String()

	if err := stream.Err(); err != nil {
		log.Warn("stream ended with error", "err", err, "received", len(out.Text))
		return out, p.wrapError(err)
	}
	return out, nil
}

func (p *OpenAIProvider) params(req Request) (openai.ChatCompletionNewParams, error) {
	if !p.ok {
		return openai.ChatCompletionNewParams{}, ErrNotConfigured
	}
	if err := req.validate(); err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    cmp.Or(req.Model, p.model),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.name, Status: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}

// citations extracts Perplexity's search results, falling back to the bare
// citation URL list.
func citations(body gjson.Result) []sse.Source {
	var out []sse.Source
	body.Get("search_results").ForEach(func(_, item gjson.Result) bool {
		if url := item.Get("url").String(); url != "" {
			out = append(out, sse.Source{
				Title:   item.Get("title").String(),
				URL:     url,
				Snippet: item.Get("snippet").String(),
			})
		}
		return true
	})
	if len(out) > 0 {
		return out
	}
	body.Get("citations").ForEach(func(_, item gjson.Result) bool {
		if url := item.String(); url != "" {
			out = append(out, sse.Source{URL: url})
		}
		return true
	})
	return out
}
