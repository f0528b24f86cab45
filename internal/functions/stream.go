// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/sse"
)

// readBufferSize is the size of each body read handed to the parser.
const readBufferSize = 4096

// Callbacks receives stream events in transport order. Every hook is optional
// and runs on the goroutine that called Run.
type Callbacks struct {
	OnChunk    func(text string)
	OnMetadata func(meta sse.Metadata)
	OnError    func(message string)
}

// Result is the accumulated outcome of one streaming call.
type Result struct {
	Success      bool
	Err          error
	FullResponse string
	Sources      []sse.Source
	FinishReason string
}

// ErrorMessage returns the failure text suitable for display, or "".
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	var fe *FunctionError
	if errors.As(r.Err, &fe) {
		return fe.Message
	}
	var he *HTTPError
	if errors.As(r.Err, &he) && he.Message != "" {
		return he.Message
	}
	return r.Err.Error()
}

// Canceled reports whether the call ended because ctx was done.
func (r Result) Canceled() bool {
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)
}

// =============================================================================
// RUN
// =============================================================================

// Run streams one call to the named endpoint using the endpoint's dialect.
func (c *Client) Run(ctx context.Context, name string, payload any, cb Callbacks) Result {
	ep, err := c.Endpoint(name)
	if err != nil {
		return Result{Err: err}
	}
	return c.run(ctx, name, ep, ep.Dialect, payload, cb)
}

// RunWithDialect is Run with the parser dialect chosen by the caller.
func (c *Client) RunWithDialect(ctx context.Context, name string, payload any, dialect sse.Dialect, cb Callbacks) Result {
	ep, err := c.Endpoint(name)
	if err != nil {
		return Result{Err: err}
	}
	return c.run(ctx, name, ep, dialect, payload, cb)
}

func (c *Client) run(ctx context.Context, name string, ep Endpoint, dialect sse.Dialect, payload any, cb Callbacks) Result {
	if !ep.Streaming {
		return Result{Err: fmt.Errorf("%w: %q", ErrNotStreaming, name)}
	}
	log := c.logger(ctx).With("endpoint", name, "dialect", dialect.String())

	body, err := encodePayload(payload, true)
	if err != nil {
		return Result{Err: fmt.Errorf("encode %s payload: %w", name, err)}
	}
	req, err := c.newRequest(ctx, ep, body, "text/event-stream")
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Debug("stream canceled before response", "err", ctxErr)
			return Result{Err: fmt.Errorf("call %s: %w", name, ctxErr)}
		}
		log.Error("stream request failed", "err", err)
		return Result{Err: fmt.Errorf("call %s: %w", name, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := &HTTPError{Status: resp.StatusCode, Message: bodyMessage(data)}
		log.Error("stream rejected", "status", resp.StatusCode, "err", herr.Message)
		if cb.OnError != nil {
			cb.OnError(herr.Error())
		}
		return Result{Err: herr}
	}

	if isJSONBody(resp.Header.Get("Content-Type")) {
		return jsonInsteadOfStream(name, resp.Body, cb, log)
	}

	s := &streamState{
		name:   name,
		cb:     cb,
		log:    log,
		parser: sse.NewParser(dialect, sse.WithLogger(log)),
	}
	res := s.consume(ctx, sse.NewTextReader(resp.Body))
	log.Debug("stream finished", "success", res.Success, "chars", len(res.FullResponse),
		"sources", len(res.Sources), "duration_ms", time.Since(start).Milliseconds())
	return res
}

// isJSONBody reports whether a Content-Type names a JSON document.
func isJSONBody(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// jsonInsteadOfStream handles a streaming endpoint that answered with a single
// JSON object. {"error"} fails the call; a string {"result"} is delivered as
// one chunk.
func jsonInsteadOfStream(name string, body io.Reader, cb Callbacks, log pslog.Logger) Result {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseSize))
	if err != nil {
		return Result{Err: fmt.Errorf("read %s response: %w", name, err)}
	}
	fail := func(msg string) Result {
		log.Error("function failed", "err", msg)
		if cb.OnError != nil {
			cb.OnError(msg)
		}
		return Result{Err: &FunctionError{Endpoint: name, Message: msg}}
	}
	if msg, ok := errorField(data); ok {
		return fail(msg)
	}
	if res := gjson.GetBytes(data, "result"); res.Type == gjson.String {
		if cb.OnChunk != nil && res.Str != "" {
			cb.OnChunk(res.Str)
		}
		return Result{Success: true, FullResponse: res.Str}
	}
	return fail("expected an event stream, got a JSON body without a result")
}

// =============================================================================
// STREAM STATE
// =============================================================================

type streamState struct {
	name    string
	cb      Callbacks
	log     pslog.Logger
	parser  *sse.Parser
	acc     strings.Builder
	sources []sse.Source
	finish  string
	failure error
}

func (s *streamState) consume(ctx context.Context, r io.Reader) Result {
	buf := make([]byte, readBufferSize)
	for {
		n, rerr := r.Read(buf)
		if ctx.Err() != nil {
			return s.canceled(ctx)
		}
		if n > 0 {
			if stop := s.dispatch(ctx, s.parser.Feed(string(buf[:n]))); stop {
				return s.result(ctx)
			}
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			s.dispatch(ctx, s.parser.Flush())
			return s.result(ctx)
		}

		msg := fmt.Sprintf("stream interrupted: %v", rerr)
		s.log.Warn("stream read failed", "err", rerr, "partial_chars", s.acc.Len())
		if s.cb.OnError != nil {
			s.cb.OnError(msg)
		}
		s.failure = rerr
		return s.result(ctx)
	}
}

// dispatch delivers events and reports whether the stream is finished.
func (s *streamState) dispatch(ctx context.Context, events []sse.Event) bool {
	for _, ev := range events {
		if ctx.Err() != nil {
			return true
		}
		switch ev.Kind {
		case sse.EventChunk:
			s.acc.WriteString(ev.Text)
			if s.cb.OnChunk != nil {
				s.cb.OnChunk(ev.Text)
			}
		case sse.EventMetadata:
			s.sources = append(s.sources, ev.Metadata.Sources...)
			if s.cb.OnMetadata != nil {
				s.cb.OnMetadata(ev.Metadata)
			}
		case sse.EventError:
			if s.cb.OnError != nil {
				s.cb.OnError(ev.Message)
			}
			s.failure = &FunctionError{Endpoint: s.name, Message: ev.Message}
			return true
		case sse.EventDone:
			s.finish = ev.FinishReason
			return true
		}
	}
	return false
}

func (s *streamState) result(ctx context.Context) Result {
	if ctx.Err() != nil {
		return s.canceled(ctx)
	}
	res := Result{
		Success:      s.failure == nil,
		FullResponse: s.acc.String(),
		Sources:      s.sources,
		FinishReason: s.finish,
	}
	if s.failure != nil {
		res.Err = &StreamError{Partial: res.FullResponse, Err: s.failure}
	}
	return res
}

func (s *streamState) canceled(ctx context.Context) Result {
	return Result{
		Err:          &StreamError{Partial: s.acc.String(), Err: ctx.Err()},
		FullResponse: s.acc.String(),
		Sources:      s.sources,
	}
}
