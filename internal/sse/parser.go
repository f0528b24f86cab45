// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/util"
)

// doneSentinel terminates a generic dialect stream.
const doneSentinel = "[DONE]"

// maxLoggedLine bounds how much of a rejected frame ends up in the log.
const maxLoggedLine = 120

// =============================================================================
// PARSER
// =============================================================================

// Parser turns decoded text into frames. Network chunks do not align with
// lines, so anything after the last newline stays buffered until the next
// Feed. A Parser is not safe for concurrent use; one stream owns one Parser.
type Parser struct {
	dialect Dialect
	buf     string
	done    bool
	log     pslog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger sets the logger used for skipped frames.
func WithLogger(l pslog.Logger) ParserOption {
	return func(p *Parser) {
		p.log = l
	}
}

// NewParser creates a parser for the given dialect.
func NewParser(dialect Dialect, opts ...ParserOption) *Parser {
	p := &Parser{dialect: dialect}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dialect returns the dialect this parser decodes.
func (p *Parser) Dialect() Dialect {
	return p.dialect
}

// Done reports whether a completion frame has been seen. Input fed after
// that point is discarded.
func (p *Parser) Done() bool {
	return p.done
}

// Residual returns the buffered, not yet newline-terminated text.
func (p *Parser) Residual() string {
	return p.buf
}

// Feed appends text to the buffer and returns every frame completed by it,
// in order. Lines that do not decode are logged and skipped.
func (p *Parser) Feed(text string) []Event {
	if p.done || text == "" {
		return nil
	}
	p.buf += text

	var events []Event
	for !p.done {
		i := strings.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(p.buf[:i], "\r")
		p.buf = p.buf[i+1:]
		events = p.appendLine(events, line)
	}
	return events
}

// Flush is called at end of input. A residual line that forms a complete
// frame is decoded; anything else is logged and dropped.
func (p *Parser) Flush() []Event {
	if p.done || p.buf == "" {
		p.buf = ""
		return nil
	}
	line := strings.TrimSuffix(p.buf, "\r")
	p.buf = ""
	return p.appendLine(nil, line)
}

func (p *Parser) appendLine(events []Event, line string) []Event {
	var (
		ev Event
		ok bool
	)
	switch p.dialect {
	case DialectDataStream:
		ev, ok = p.parseDataStreamLine(line)
	default:
		ev, ok = p.parseGenericLine(line)
	}
	if !ok {
		return events
	}
	if ev.Kind == EventDone {
		p.done = true
		p.buf = ""
	}
	return append(events, ev)
}

// =============================================================================
// GENERIC DIALECT
// =============================================================================

func (p *Parser) parseGenericLine(line string) (Event, bool) {
	if line == "" || strings.HasPrefix(line, ":") {
		return Event{}, false
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// event:, id: and retry: fields carry nothing we act on.
		return Event{}, false
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Event{}, false
	}
	if payload == doneSentinel {
		return Done(), true
	}
	if !gjson.Valid(payload) {
		p.skip("malformed generic frame", line)
		return Event{}, false
	}

	res := gjson.Parse(payload)
	switch {
	case res.Type == gjson.String:
		var text string
		if err := json.Unmarshal([]byte(payload), &text); err != nil {
			p.skip("undecodable generic frame", line)
			return Event{}, false
		}
		return Chunk(text), true
	case res.IsObject():
		if msg, ok := errorMessage(res); ok {
			return Event{Kind: EventError, Message: msg}, true
		}
		if meta, ok := metadataFromObject(res); ok {
			return Event{Kind: EventMetadata, Metadata: meta}, true
		}
	}
	p.trace("ignoring generic frame", line)
	return Event{}, false
}

// =============================================================================
// DATA STREAM DIALECT
// =============================================================================

// Data stream part codes acted on by the parser. Every other code is part of
// the protocol (tool calls, step markers, reasoning) but irrelevant here.
const (
	codeText        = "0"
	codeData        = "2"
	codeError       = "3"
	codeAnnotations = "8"
	codeFinish      = "d"
)

func (p *Parser) parseDataStreamLine(line string) (Event, bool) {
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}
	code, payload, ok := strings.Cut(line, ":")
	if !ok || code == "" {
		p.skip("data stream frame without type code", line)
		return Event{}, false
	}

	switch code {
	case codeText:
		var text string
		if err := json.Unmarshal([]byte(payload), &text); err != nil {
			p.skip("malformed text part", line)
			return Event{}, false
		}
		return Chunk(text), true

	case codeData, codeAnnotations:
		if !gjson.Valid(payload) {
			p.skip("malformed data part", line)
			return Event{}, false
		}
		res := gjson.Parse(payload)
		meta := Metadata{Raw: json.RawMessage(payload)}
		if res.IsArray() {
			for _, item := range res.Array() {
				meta.Sources = append(meta.Sources, sourcesFromItem(item)...)
			}
		} else if res.IsObject() {
			meta.Sources = sourcesFromItem(res)
		}
		return Event{Kind: EventMetadata, Metadata: meta}, true

	case codeError:
		var msg string
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			p.skip("malformed error part", line)
			return Event{}, false
		}
		return Event{Kind: EventError, Message: msg}, true

	case codeFinish:
		if !gjson.Valid(payload) {
			p.skip("malformed finish part", line)
			return Event{}, false
		}
		return Event{
			Kind:         EventDone,
			FinishReason: gjson.Get(payload, "finishReason").String(),
		}, true

	default:
		p.trace("ignoring data stream part", line)
		return Event{}, false
	}
}

// =============================================================================
// PAYLOAD HELPERS
// =============================================================================

func errorMessage(obj gjson.Result) (string, bool) {
	e := obj.Get("error")
	if !e.Exists() {
		return "", false
	}
	if e.IsObject() {
		if msg := e.Get("message").String(); msg != "" {
			return msg, true
		}
		return e.Raw, true
	}
	return e.String(), true
}

// metadataFromObject recognises the source lists the function endpoints and
// upstream providers attach to a stream.
func metadataFromObject(obj gjson.Result) (Metadata, bool) {
	for _, key := range []string{"sources", "snippets", "citations"} {
		list := obj.Get(key)
		if !list.IsArray() {
			continue
		}
		return Metadata{
			Sources: parseSources(list),
			Raw:     json.RawMessage(obj.Raw),
		}, true
	}
	return Metadata{}, false
}

func sourcesFromItem(item gjson.Result) []Source {
	if meta, ok := metadataFromObject(item); ok {
		return meta.Sources
	}
	if src, ok := parseSource(item); ok {
		return []Source{src}
	}
	return nil
}

func parseSources(list gjson.Result) []Source {
	var out []Source
	for _, item := range list.Array() {
		if src, ok := parseSource(item); ok {
			out = append(out, src)
		}
	}
	return out
}

// parseSource accepts a bare URL string (Perplexity citations) or an object.
func parseSource(item gjson.Result) (Source, bool) {
	if item.Type == gjson.String {
		return Source{URL: item.String()}, item.String() != ""
	}
	if !item.IsObject() {
		return Source{}, false
	}
	src := Source{
		Title:   firstString(item, "title", "name"),
		URL:     firstString(item, "url", "link", "href"),
		Snippet: firstString(item, "snippet", "text", "content"),
	}
	return src, src != Source{}
}

func firstString(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (p *Parser) skip(msg, line string) {
	if p.log == nil {
		return
	}
	p.log.Warn(msg, "dialect", p.dialect.String(), "line", util.TruncateRunes(line, maxLoggedLine))
}

func (p *Parser) trace(msg, line string) {
	if p.log == nil {
		return
	}
	p.log.Trace(msg, "dialect", p.dialect.String(), "line", util.TruncateRunes(line, maxLoggedLine))
}
