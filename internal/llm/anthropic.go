// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/util"
)

const (
	// AnthropicBaseURL is the public Anthropic API.
	AnthropicBaseURL = "https://api.anthropic.com"

	anthropicVersion      = "2023-06-01"
	defaultAnthropicMax   = 4096
	defaultAnthropicRetry = 3
	maxResponseSize       = 10 * 1024 * 1024
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxRetries bounds attempts for non-streaming calls. Defaults to 3.
	MaxRetries int
	// Timeout bounds each non-streaming attempt and, for streams, the wait
	// for response headers. A stream may run longer once it has started.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AnthropicProvider serves requests through the Messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	timeout    time.Duration
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

// NewAnthropic creates a provider.
func NewAnthropic(cfg AnthropicConfig) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		backoff:    calculateBackoff,
	}
	if p.baseURL == "" {
		p.baseURL = AnthropicBaseURL
	}
	if p.maxRetries <= 0 {
		p.maxRetries = defaultAnthropicRetry
	}
	if p.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.Timeout
		p.httpClient = &http.Client{Transport: transport}
	}
	return p
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// =============================================================================
// REQUESTS
// =============================================================================

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

func (p *AnthropicProvider) body(req Request, stream bool) ([]byte, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	ar := anthropicRequest{
		Model:       cmp.Or(req.Model, p.model),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if ar.MaxTokens <= 0 {
		ar.MaxTokens = defaultAnthropicMax
	}
	return json.Marshal(ar)
}

func (p *AnthropicProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete performs a non-streaming request, retrying rate limits and server
// errors with exponential backoff.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	body, err := p.body(req, false)
	if err != nil {
		return Completion{}, err
	}
	log := pslog.Ctx(ctx).With("provider", p.Name())

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt - 1)
			log.Debug("retrying request", "attempt", attempt+1, "delay", delay, "err", lastErr)
			if err := sleepCtx(ctx, delay); err != nil {
				return Completion{}, err
			}
		}

		out, err := p.complete(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return Completion{}, err
		}
	}
	return Completion{}, fmt.Errorf("max retries (%d) exceeded: %w", p.maxRetries, lastErr)
}

func (p *AnthropicProvider) complete(ctx context.Context, body []byte) (Completion, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return Completion{}, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Completion{}, p.errorResponse(resp.StatusCode, data)
	}

	root := gjson.ParseBytes(data)
	var text strings.Builder
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	out := Completion{
		Text:         text.String(),
		Model:        root.Get("model").String(),
		FinishReason: root.Get("stop_reason").String(),
	}
	out.Usage.PromptTokens = int(root.Get("usage.input_tokens").Int())
	out.Usage.CompletionTokens = int(root.Get("usage.output_tokens").Int())
	return out, nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream performs a streaming request. Streaming calls are not retried: a
// retry after partial output would duplicate text already delivered.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, fn DeltaFunc) (Completion, error) {
	body, err := p.body(req, true)
	if err != nil {
		return Completion{}, err
	}
	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return Completion{}, p.errorResponse(resp.StatusCode, data)
	}

	var (
		out  Completion
		text strings.Builder
	)
	events := newEventReader(resp.Body)
	for {
		event, data, err := events.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Text = text.String()
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			return out, fmt.Errorf("stream interrupted: %w", err)
		}

		root := gjson.ParseBytes(data)
		if event == "" {
			event = root.Get("type").String()
		}
		switch event {
		case "message_start":
			out.Model = root.Get("message.model").String()
			out.Usage.PromptTokens = int(root.Get("message.usage.input_tokens").Int())
		case "content_block_delta":
			if root.Get("delta.type").String() != "text_delta" {
				continue
			}
			delta := root.Get("delta.text").String()
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if err := fn(Delta{Text: delta}); err != nil {
				out.Text = text.String()
				return out, err
			}
		case "message_delta":
			if reason := root.Get("delta.stop_reason").String(); reason != "" {
				out.FinishReason = reason
			}
			if n := root.Get("usage.output_tokens"); n.Exists() {
				out.Usage.CompletionTokens = int(n.Int())
			}
		case "error":
			out.Text = text.String()
			return out, &ProviderError{
				Provider: p.Name(),
				Status:   overloadStatus(root.Get("error.type").String()),
				Message:  root.Get("error.message").String(),
			}
		case "message_stop":
			out.Text = text.String()
			return out, nil
		}
	}
	out.Text = text.String()
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

// =============================================================================
// ERRORS
// =============================================================================

func (p *AnthropicProvider) errorResponse(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = util.TruncateRunes(strings.TrimSpace(string(body)), 200)
	}
	return &ProviderError{Provider: p.Name(), Status: status, Message: msg}
}

// overloadStatus maps in-stream error types to the HTTP status they would
// have carried.
func overloadStatus(kind string) int {
	switch kind {
	case "overloaded_error":
		return 529
	case "rate_limit_error":
		return http.StatusTooManyRequests
	case "authentication_error":
		return http.StatusUnauthorized
	case "invalid_request_error":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
