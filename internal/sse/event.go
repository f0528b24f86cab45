// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// DIALECTS
// =============================================================================

// Dialect selects the payload encoding of a stream.
type Dialect int

const (
	// DialectGeneric is "data: <json-string>" framing with a [DONE] sentinel.
	DialectGeneric Dialect = iota

	// DialectDataStream is the Vercel AI SDK data stream protocol.
	DialectDataStream
)

// String returns the configuration name of the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectGeneric:
		return "generic"
	case DialectDataStream:
		return "vercel-ai-sdk"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// ParseDialect maps a configuration value to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic", "sse":
		return DialectGeneric, nil
	case "vercel-ai-sdk", "vercel", "data-stream", "datastream":
		return DialectDataStream, nil
	default:
		return DialectGeneric, fmt.Errorf("unknown stream dialect %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Dialect) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dialect) UnmarshalText(b []byte) error {
	parsed, err := ParseDialect(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind tags an Event.
type EventKind int

const (
	// EventChunk carries a text delta in Event.Text.
	EventChunk EventKind = iota

	// EventMetadata carries sources or other annotations in Event.Metadata.
	EventMetadata

	// EventError carries a server-reported failure in Event.Message.
	EventError

	// EventDone marks the end of the stream.
	EventDone
)

// String returns a short name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventMetadata:
		return "metadata"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded protocol frame.
type Event struct {
	Kind EventKind

	// Text is the delta for EventChunk.
	Text string

	// Metadata is set for EventMetadata.
	Metadata Metadata

	// Message is the error text for EventError.
	Message string

	// FinishReason is reported by some EventDone frames.
	FinishReason string
}

// Chunk builds an EventChunk.
func Chunk(text string) Event { return Event{Kind: EventChunk, Text: text} }

// Done builds an EventDone.
func Done() Event { return Event{Kind: EventDone} }

// Source is a reference the model cited (a case, statute, web page).
type Source struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Metadata is the payload of an EventMetadata frame.
type Metadata struct {
	Sources []Source `json:"sources,omitempty"`

	// Raw is the undecoded frame payload, kept for callers that understand
	// endpoint-specific annotations.
	Raw json.RawMessage `json:"-"`
}

// Usage reports token counts in a data stream finish frame.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}
