// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jeranaias/casedesk/internal/sse"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured is returned when a provider has no API key.
	ErrNotConfigured = errors.New("provider not configured: missing API key")

	// ErrRateLimited is matched by a ProviderError with status 429.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrAuthFailed is matched by a ProviderError with status 401 or 403.
	ErrAuthFailed = errors.New("provider rejected credentials")

	// ErrEmptyRequest is returned for a request without messages.
	ErrEmptyRequest = errors.New("request has no messages")
)

// ProviderError is a non-2xx response from a provider.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Message)
}

// Is lets errors.Is match the status class sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Retryable reports whether the request may succeed when repeated.
func (e *ProviderError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// =============================================================================
// REQUESTS
// =============================================================================

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System   string
	Messages []Message

	// Model overrides the provider's default model when set.
	Model string

	// Temperature is left to the provider default when nil.
	Temperature *float64

	// MaxTokens is left to the provider default when zero.
	MaxTokens int
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, prompt string) Request {
	return Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
}

func (r Request) validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyRequest
	}
	return nil
}

// =============================================================================
// RESPONSES
// =============================================================================

// Delta is one streamed increment. Either field may be empty.
type Delta struct {
	Text    string
	Sources []sse.Source
}

// Completion is the final outcome of a request.
type Completion struct {
	Text         string
	Sources      []sse.Source
	FinishReason string
	Model        string
	Usage        sse.Usage
}

// DeltaFunc receives streamed increments. Returning an error aborts the
// stream and the error is returned from Stream.
type DeltaFunc func(Delta) error

// Provider is an upstream model API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
	Stream(ctx context.Context, req Request, fn DeltaFunc) (Completion, error)
}

// =============================================================================
// RETRIES
// =============================================================================

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// calculateBackoff returns the exponential delay before retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}

func isRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
