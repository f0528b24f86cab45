// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - error types and exit codes shared by every casedesk command.
//
// Commands always return errors; Execute decides how to display them.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/jeranaias/casedesk/internal/config"
	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/functions"
	"github.com/jeranaias/casedesk/internal/llm"
	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/ui/styles"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates rejected credentials
	ExitAuthError = 4
	// ExitNetworkError indicates the function gateway could not be reached
	// or failed on its side
	ExitNetworkError = 5
	// ExitNotFoundError indicates a case, document or blob was not found
	ExitNotFoundError = 6
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 7
	// ExitConflictError indicates a streamed insert was rejected after a
	// concurrent edit
	ExitConflictError = 8
	// ExitInterrupted indicates the user canceled the command
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// ConfigError wraps failures to load or save the configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) || errors.Is(err, storage.ErrInvalid) || errors.Is(err, editor.ErrOutOfRange) {
		return ExitUsageError
	}

	var configErr *ConfigError
	var validateErrs config.ValidateErrors
	if errors.As(err, &configErr) || errors.As(err, &validateErrs) || errors.Is(err, llm.ErrNotConfigured) {
		return ExitConfigError
	}

	if errors.Is(err, llm.ErrAuthFailed) {
		return ExitAuthError
	}
	var httpErr *functions.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden:
			return ExitAuthError
		case httpErr.Status == http.StatusNotFound:
			return ExitNotFoundError
		case httpErr.Status == http.StatusGatewayTimeout:
			return ExitTimeoutError
		case httpErr.Status >= 500 || httpErr.Status == http.StatusTooManyRequests:
			return ExitNetworkError
		default:
			return ExitUsageError
		}
	}

	if errors.Is(err, storage.ErrNotFound) {
		return ExitNotFoundError
	}
	if errors.Is(err, editor.ErrConflict) {
		return ExitConflictError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ExitTimeoutError
		}
		return ExitNetworkError
	}
	var streamErr *functions.StreamError
	if errors.As(err, &streamErr) {
		return ExitNetworkError
	}

	return ExitGeneralError
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// errorJSON is the body printed for failures in --json mode.
type errorJSON struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
	Field    string `json:"field,omitempty"`
}

// displayError prints err for a person, with a hint for the common cases.
func displayError(w io.Writer, err error) {
	fmt.Fprintln(w, styles.RenderError("Error: "+err.Error()))
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(w, styles.RenderMuted(hint))
	}
}

func errorHint(err error) string {
	switch GetExitCode(err) {
	case ExitConfigError:
		return "Check the configuration with: casedesk config validate"
	case ExitAuthError:
		return "Check functions.api_key, or the provider keys on the server"
	case ExitNetworkError:
		return "Is the function server running? Start one with: casedesk serve"
	}
	return ""
}

// writeErrorJSON prints err as JSON.
func writeErrorJSON(w io.Writer, err error) {
	out := errorJSON{Error: err.Error(), ExitCode: GetExitCode(err)}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		out.Field = validationErr.Field
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
