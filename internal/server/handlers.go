// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/llm"
	"github.com/jeranaias/casedesk/internal/sse"
)

// ============================================================================
// REQUEST TYPES
// ============================================================================

// Params are the model parameters accepted by every function.
type Params struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// ChatRequest is the body of the chat function.
type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
	Prompt   string        `json:"prompt,omitempty"`
	Context  string        `json:"context,omitempty"`
	Params
}

// ResearchRequest is the body of the research function.
type ResearchRequest struct {
	Query    string        `json:"query"`
	Messages []llm.Message `json:"messages,omitempty"`
	Params
}

// DraftRequest is the body of the draft function. Before and After hold the
// document text around the insertion point.
type DraftRequest struct {
	Instructions string `json:"instructions"`
	Before       string `json:"before,omitempty"`
	After        string `json:"after,omitempty"`
	Params
}

// RewriteRequest is the body of the rewrite function.
type RewriteRequest struct {
	Text         string `json:"text"`
	Instructions string `json:"instructions"`
	Context      string `json:"context,omitempty"`
	Params
}

// SummarizeRequest is the body of the summarize function.
type SummarizeRequest struct {
	Text string `json:"text"`
	// Length is "short", "medium" or "long".
	Length string `json:"length,omitempty"`
	Params
}

// AnalyzeRequest is the body of the analyze function.
type AnalyzeRequest struct {
	Text  string `json:"text"`
	Focus string `json:"focus,omitempty"`
	Params
}

// TranslateRequest is the body of the translate function.
type TranslateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
	Source string `json:"source,omitempty"`
	Params
}

func (o Params) apply(req llm.Request) llm.Request {
	req.Model = o.Model
	req.Temperature = o.Temperature
	req.MaxTokens = o.MaxTokens
	return req
}

func (o Params) validate() error {
	if o.MaxTokens < 0 || o.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be between 1 and %d", MaxTokensLimit)
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		return errors.New("temperature must be between 0.0 and 2.0")
	}
	return nil
}

// ============================================================================
// VALIDATION
// ============================================================================

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return checkLength(field, value)
}

func checkLength(field, value string) error {
	if utf8.RuneCountInString(value) > MaxTextLength {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, MaxTextLength)
	}
	return nil
}

// validateMessages only accepts user and assistant turns; the system prompt
// is always the server's.
func validateMessages(messages []llm.Message) error {
	if len(messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return fmt.Errorf("invalid role %q at message %d: must be user or assistant", m.Role, i)
		}
		if err := checkLength(fmt.Sprintf("message %d", i), m.Content); err != nil {
			return err
		}
	}
	return nil
}

// decode reads a JSON body into v and writes the error response itself when
// it fails.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", tooLarge.Limit))
			return false
		}
		pslog.Ctx(r.Context()).Debug("invalid request body", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, errs ...error) bool {
	if err := errors.Join(errs...); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return true
	}
	return false
}

// ============================================================================
// STREAMING FUNCTIONS
// ============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if !decode(w, r, &body) {
		return
	}
	messages := body.Messages
	if body.Prompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: body.Prompt})
	}
	if len(messages) == 0 {
		writeError(w, http.StatusBadRequest, "request must contain at least one message")
		return
	}
	if badRequest(w, body.validate(), validateMessages(messages), checkLength("context", body.Context)) {
		return
	}
	req := body.apply(llm.Request{System: chatSystemPrompt(body.Context), Messages: messages})
	s.stream(w, r, "chat", req)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var body ResearchRequest
	if !decode(w, r, &body) {
		return
	}
	if badRequest(w, body.validate(), requireText("query", body.Query), validateMessages(body.Messages)) {
		return
	}
	messages := append(body.Messages, llm.Message{Role: llm.RoleUser, Content: body.Query})
	req := body.apply(llm.Request{System: researchSystemPrompt, Messages: messages})
	s.stream(w, r, "research", req)
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var body DraftRequest
	if !decode(w, r, &body) {
		return
	}
	if badRequest(w, body.validate(), requireText("instructions", body.Instructions),
		checkLength("before", body.Before), checkLength("after", body.After)) {
		return
	}
	req := body.apply(llm.UserPrompt(draftSystemPrompt, draftPrompt(body)))
	s.stream(w, r, "draft", req)
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var body RewriteRequest
	if !decode(w, r, &body) {
		return
	}
	if badRequest(w, body.validate(), requireText("text", body.Text),
		requireText("instructions", body.Instructions), checkLength("context", body.Context)) {
		return
	}
	req := body.apply(llm.UserPrompt(rewriteSystemPrompt, rewritePrompt(body)))
	s.stream(w, r, "rewrite", req)
}

// stream forwards provider deltas as frames in the function's dialect. Once
// the response has started, failures are reported as an error frame.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, name string, req llm.Request) {
	ctx := r.Context()
	logger := pslog.Ctx(ctx).With("function", name)
	provider := s.currentProviders().forFunction(name)
	if provider == nil {
		s.stats.Record(name, sse.Usage{}, true)
		writeError(w, http.StatusServiceUnavailable, "AI provider is not configured")
		return
	}

	done := s.track(r, name)
	fw := sse.NewWriter(w, s.endpoints[name].Dialect)
	w.Header().Set("Content-Type", fw.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	comp, err := provider.Stream(ctx, req, func(d llm.Delta) error {
		if len(d.Sources) > 0 {
			if err := fw.Metadata(sse.Metadata{Sources: d.Sources}); err != nil {
				return err
			}
		}
		if d.Text != "" {
			return fw.Chunk(d.Text)
		}
		return nil
	})
	done(err)
	if err != nil {
		s.stats.Record(name, comp.Usage, true)
		if ctx.Err() != nil || fw.Err() != nil {
			logger.Debug("stream aborted by client", "err", err, "partial_runes", utf8.RuneCountInString(comp.Text))
			return
		}
		logger.Error("stream failed", "provider", provider.Name(), "err", err)
		_ = fw.Error(publicMessage(err))
		return
	}

	s.stats.Record(name, comp.Usage, false)
	usage := comp.Usage
	if err := fw.Done(comp.FinishReason, &usage); err != nil {
		logger.Debug("write done frame", "err", err)
	}
}

// ============================================================================
// JSON FUNCTIONS
// ============================================================================

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var body SummarizeRequest
	if !decode(w, r, &body) {
		return
	}
	length, err := summaryLength(body.Length)
	if badRequest(w, body.validate(), requireText("text", body.Text), err) {
		return
	}
	req := body.apply(llm.UserPrompt(summarizeSystemPrompt(length), body.Text))
	comp, ok := s.complete(w, r, "summarize", req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": strings.TrimSpace(comp.Text)})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var body TranslateRequest
	if !decode(w, r, &body) {
		return
	}
	if badRequest(w, body.validate(), requireText("text", body.Text), requireText("target", body.Target)) {
		return
	}
	req := body.apply(llm.UserPrompt(translateSystemPrompt(body.Source, body.Target), body.Text))
	comp, ok := s.complete(w, r, "translate", req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": strings.TrimSpace(comp.Text)})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if !decode(w, r, &body) {
		return
	}
	if badRequest(w, body.validate(), requireText("text", body.Text), checkLength("focus", body.Focus)) {
		return
	}
	req := body.apply(llm.UserPrompt(analyzeSystemPrompt(body.Focus), body.Text))
	comp, ok := s.complete(w, r, "analyze", req)
	if !ok {
		return
	}
	spans, err := parseSpans(comp.Text, body.Text)
	if err != nil {
		pslog.Ctx(r.Context()).Warn("analysis output rejected", "err", err)
		writeError(w, http.StatusBadGateway, "AI provider returned an unreadable analysis")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": spans})
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, name string, req llm.Request) (llm.Completion, bool) {
	provider := s.currentProviders().forFunction(name)
	if provider == nil {
		s.stats.Record(name, sse.Usage{}, true)
		writeError(w, http.StatusServiceUnavailable, "AI provider is not configured")
		return llm.Completion{}, false
	}
	done := s.track(r, name)
	comp, err := provider.Complete(r.Context(), req)
	done(err)
	if err != nil {
		s.stats.Record(name, comp.Usage, true)
		pslog.Ctx(r.Context()).Error("completion failed", "function", name, "provider", provider.Name(), "err", err)
		writeError(w, statusFor(err), publicMessage(err))
		return llm.Completion{}, false
	}
	s.stats.Record(name, comp.Usage, false)
	return comp, true
}

func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown function %q", r.PathValue("name")))
}

// ============================================================================
// ANALYSIS PARSING
// ============================================================================

// parseSpans reads the model's findings. Each finding locates its passage
// either by a verbatim "quote" or by rune offsets. Findings that cannot be
// placed inside text are dropped.
func parseSpans(output, text string) ([]editor.Span, error) {
	raw := extractJSON(output)
	if !gjson.Valid(raw) {
		return nil, errors.New("output is not JSON")
	}
	list := gjson.Parse(raw)
	if list.IsObject() {
		list = list.Get("findings")
	}
	if !list.IsArray() {
		return nil, errors.New("output has no findings array")
	}

	runeLen := utf8.RuneCountInString(text)
	spans := []editor.Span{}
	for _, item := range list.Array() {
		span := editor.Span{
			Label:       strings.TrimSpace(item.Get("label").String()),
			Explanation: strings.TrimSpace(item.Get("explanation").String()),
		}
		if span.Label == "" {
			continue
		}
		if quote := item.Get("quote").String(); quote != "" {
			start, ok := runeIndex(text, quote)
			if !ok {
				continue
			}
			span.Start, span.End = start, start+utf8.RuneCountInString(quote)
		} else if item.Get("start").Exists() && item.Get("end").Exists() {
			span.Start, span.End = int(item.Get("start").Int()), int(item.Get("end").Int())
		} else {
			continue
		}
		spans = append(spans, span)
	}
	return editor.ClampSpans(spans, runeLen), nil
}

// extractJSON strips a Markdown code fence around the model output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// runeIndex is strings.Index in rune units.
func runeIndex(s, substr string) (int, bool) {
	i := strings.Index(s, substr)
	if i < 0 {
		return 0, false
	}
	return utf8.RuneCountInString(s[:i]), true
}

// ============================================================================
// ERRORS
// ============================================================================

func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case isTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// publicMessage hides provider details from clients; they are logged
// instead.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return "AI provider is not configured"
	case errors.Is(err, llm.ErrRateLimited):
		return "AI provider rate limit reached, try again shortly"
	case errors.Is(err, llm.ErrAuthFailed):
		return "AI provider rejected the server credentials"
	case isTimeout(err):
		return "AI provider timed out, try again shortly"
	default:
		return "AI provider request failed"
	}
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
