// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEndpoint indicates the endpoint name is not in the table.
	ErrUnknownEndpoint = errors.New("unknown function endpoint")

	// ErrNotStreaming indicates Run was called on a JSON-only endpoint.
	ErrNotStreaming = errors.New("function endpoint does not stream")

	// ErrEmptyResult indicates a JSON response carried neither result nor error.
	ErrEmptyResult = errors.New("function returned no result")
)

// HTTPError is a non-2xx response received before any stream data.
type HTTPError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("function call failed (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("function call failed (HTTP %d): %s", e.Status, e.Message)
}

// FunctionError is an application error reported by the function itself,
// either as an {"error": "..."} body or as an error frame mid-stream.
type FunctionError struct {
	Endpoint string
	Message  string
}

// Error implements the error interface.
func (e *FunctionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// StreamError is a failure after the stream started, preserving the text
// received before it.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
