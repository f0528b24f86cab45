// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/sse"
)

const (
	// DefaultTimeout bounds non-streaming calls. Streams are bounded by ctx only.
	DefaultTimeout = 60 * time.Second

	// pathPrefix is where the function gateway mounts the handlers.
	pathPrefix = "/functions/v1/"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024

	// maxResponseSize caps non-streaming response bodies.
	maxResponseSize = 10 * 1024 * 1024
)

// =============================================================================
// ENDPOINTS
// =============================================================================

// Endpoint describes how one function is called.
type Endpoint struct {
	Path      string
	Dialect   sse.Dialect
	Streaming bool
}

// DefaultEndpoints returns the built-in endpoint table.
func DefaultEndpoints() map[string]Endpoint {
	return map[string]Endpoint{
		"chat":      {Path: pathPrefix + "chat", Dialect: sse.DialectGeneric, Streaming: true},
		"draft":     {Path: pathPrefix + "draft", Dialect: sse.DialectDataStream, Streaming: true},
		"rewrite":   {Path: pathPrefix + "rewrite", Dialect: sse.DialectGeneric, Streaming: true},
		"research":  {Path: pathPrefix + "research", Dialect: sse.DialectDataStream, Streaming: true},
		"summarize": {Path: pathPrefix + "summarize"},
		"analyze":   {Path: pathPrefix + "analyze"},
		"translate": {Path: pathPrefix + "translate"},
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls function endpoints on one gateway. It is safe for concurrent
// use once constructed.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	endpoints  map[string]Endpoint
	log        pslog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the key sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithHTTPClient replaces the transport. Its Timeout should be zero or
// streams will be cut off.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the deadline applied to non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithEndpoint adds or replaces one endpoint.
func WithEndpoint(name string, ep Endpoint) Option {
	return func(c *Client) {
		c.endpoints[name] = ep
	}
}

// WithDialect overrides the dialect of a known endpoint. Unknown names are
// ignored.
func WithDialect(name string, d sse.Dialect) Option {
	return func(c *Client) {
		if ep, ok := c.endpoints[name]; ok {
			ep.Dialect = d
			c.endpoints[name] = ep
		}
	}
}

// WithLogger sets the logger. Without it the logger is taken from the
// request context.
func WithLogger(l pslog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		endpoints:  DefaultEndpoints(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint looks up an endpoint by name.
func (c *Client) Endpoint(name string) (Endpoint, error) {
	ep, ok := c.endpoints[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}
	return ep, nil
}

func (c *Client) logger(ctx context.Context) pslog.Logger {
	if c.log != nil {
		return c.log
	}
	return pslog.Ctx(ctx)
}

// =============================================================================
// NON-STREAMING CALLS
// =============================================================================

// Invoke calls a JSON endpoint and returns its result as text. A string
// result is returned unquoted; any other JSON value is returned raw.
func (c *Client) Invoke(ctx context.Context, name string, payload any) (string, error) {
	res, err := c.invoke(ctx, name, payload)
	if err != nil {
		return "", err
	}
	if res.Type == gjson.String {
		return res.String(), nil
	}
	return res.Raw, nil
}

// InvokeJSON calls a JSON endpoint and decodes its result into out. A result
// that is itself a JSON-encoded string is decoded from that string.
func (c *Client) InvokeJSON(ctx context.Context, name string, payload any, out any) error {
	res, err := c.invoke(ctx, name, payload)
	if err != nil {
		return err
	}
	raw := res.Raw
	if res.Type == gjson.String && gjson.Valid(res.String()) {
		raw = res.String()
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, name string, payload any) (gjson.Result, error) {
	ep, err := c.Endpoint(name)
	if err != nil {
		return gjson.Result{}, err
	}
	body, err := encodePayload(payload, false)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode %s payload: %w", name, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, ep, body, "application/json")
	if err != nil {
		return gjson.Result{}, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger(ctx).Error("function call failed", "endpoint", name, "err", err)
		return gjson.Result{}, fmt.Errorf("call %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read %s response: %w", name, err)
	}
	c.logger(ctx).Debug("function call finished", "endpoint", name, "status", resp.StatusCode,
		"bytes", len(data), "duration_ms", time.Since(start).Milliseconds())

	if msg, ok := errorField(data); ok {
		if resp.StatusCode/100 != 2 {
			return gjson.Result{}, &HTTPError{Status: resp.StatusCode, Message: msg}
		}
		return gjson.Result{}, &FunctionError{Endpoint: name, Message: msg}
	}
	if resp.StatusCode/100 != 2 {
		return gjson.Result{}, &HTTPError{Status: resp.StatusCode, Message: bodyMessage(data)}
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s: response is not JSON", name)
	}
	res := gjson.GetBytes(data, "result")
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("%s: %w", name, ErrEmptyResult)
	}
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newRequest(ctx context.Context, ep Endpoint, body []byte, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ep.Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}
	return req, nil
}

// encodePayload marshals payload unless it already is JSON. When stream is
// set and the payload is an object, "stream": true is added to it.
func encodePayload(payload any, stream bool) ([]byte, error) {
	var body []byte
	switch p := payload.(type) {
	case nil:
		body = []byte("{}")
	case json.RawMessage:
		body = p
	case []byte:
		body = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		body = b
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	if stream && gjson.ParseBytes(body).IsObject() {
		return sjson.SetBytes(body, "stream", true)
	}
	return body, nil
}

// errorField extracts {"error": "..."} or {"error": {"message": "..."}}.
func errorField(data []byte) (string, bool) {
	if !gjson.ValidBytes(data) {
		return "", false
	}
	e := gjson.GetBytes(data, "error")
	if !e.Exists() || e.Type == gjson.Null {
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

func bodyMessage(data []byte) string {
	if msg, ok := errorField(data); ok {
		return msg
	}
	return strings.TrimSpace(string(data))
}
