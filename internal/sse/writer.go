// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/sjson"
)

// =============================================================================
// WRITER
// =============================================================================

// Writer encodes frames in one dialect. Every frame is flushed immediately
// when the destination is an http.Flusher. The first write error sticks and
// is returned by all later calls.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	dialect Dialect
	err     error
}

// NewWriter creates a frame writer.
func NewWriter(w io.Writer, dialect Dialect) *Writer {
	fw := &Writer{w: w, dialect: dialect}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// ContentType is the response content type for the writer's dialect.
func (fw *Writer) ContentType() string {
	if fw.dialect == DialectDataStream {
		return "text/plain; charset=utf-8"
	}
	return "text/event-stream"
}

// Err returns the first write error.
func (fw *Writer) Err() error {
	return fw.err
}

// Chunk writes a text delta.
func (fw *Writer) Chunk(text string) error {
	encoded, err := json.Marshal(text)
	if err != nil {
		return err
	}
	if fw.dialect == DialectDataStream {
		return fw.part(codeText, encoded)
	}
	return fw.data(encoded)
}

// Metadata writes a sources/annotation frame.
func (fw *Writer) Metadata(meta Metadata) error {
	var payload []byte
	if len(meta.Raw) > 0 {
		// Frames are line delimited; pretty-printed JSON would split them.
		var buf bytes.Buffer
		if err := json.Compact(&buf, meta.Raw); err != nil {
			return fmt.Errorf("invalid raw metadata: %w", err)
		}
		payload = buf.Bytes()
	} else {
		var err error
		payload, err = json.Marshal(struct {
			Sources []Source `json:"sources"`
		}{Sources: meta.Sources})
		if err != nil {
			return err
		}
	}
	if fw.dialect == DialectDataStream {
		if payload[0] != '[' {
			payload = append(append([]byte{'['}, payload...), ']')
		}
		return fw.part(codeAnnotations, payload)
	}
	return fw.data(payload)
}

// Error writes a server-side failure frame.
func (fw *Writer) Error(message string) error {
	if fw.dialect == DialectDataStream {
		encoded, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return fw.part(codeError, encoded)
	}
	payload, err := sjson.Set(`{}`, "error", message)
	if err != nil {
		return err
	}
	return fw.data([]byte(payload))
}

// Done writes the completion frame. Usage is only representable in the data
// stream dialect and is ignored otherwise.
func (fw *Writer) Done(finishReason string, usage *Usage) error {
	if fw.dialect != DialectDataStream {
		return fw.data([]byte(doneSentinel))
	}
	if finishReason == "" {
		finishReason = "stop"
	}
	payload, err := sjson.Set(`{}`, "finishReason", finishReason)
	if err != nil {
		return err
	}
	if usage != nil {
		if payload, err = sjson.Set(payload, "usage.promptTokens", usage.PromptTokens); err != nil {
			return err
		}
		if payload, err = sjson.Set(payload, "usage.completionTokens", usage.CompletionTokens); err != nil {
			return err
		}
	}
	return fw.part(codeFinish, []byte(payload))
}

func (fw *Writer) data(payload []byte) error {
	return fw.write("data: %s\n\n", payload)
}

func (fw *Writer) part(code string, payload []byte) error {
	return fw.write(code+":%s\n", payload)
}

func (fw *Writer) write(format string, payload []byte) error {
	if fw.err != nil {
		return fw.err
	}
	if _, err := fmt.Fprintf(fw.w, format, payload); err != nil {
		fw.err = err
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}
