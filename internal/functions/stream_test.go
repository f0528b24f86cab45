// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/sse"
)

// =============================================================================
// HELPERS
// =============================================================================

// streamServer answers every request by writing parts with a flush between
// each, so the client observes them as separate reads.
func streamServer(t *testing.T, parts ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range parts {
			_, _ = io.WriteString(w, p)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu     sync.Mutex
	chunks []string
	meta   []sse.Metadata
	errs   []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnChunk: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chunks = append(r.chunks, text)
		},
		OnMetadata: func(meta sse.Metadata) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.meta = append(r.meta, meta)
		},
		OnError: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, msg)
		},
	}
}

func quietClient(baseURL string, opts ...Option) *Client {
	logger := pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	return New(baseURL, append([]Option{WithLogger(logger)}, opts...)...)
}

// =============================================================================
// SUCCESSFUL STREAMS
// =============================================================================

func TestRun_EndToEndExample(t *testing.T) {
	srv := streamServer(t, `data: "Hel`, "lo\"\n\n", "data: \" world\"\n\ndata: [DONE]\n\n")
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", map[string]string{"message": "hi"}, rec.callbacks())

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "Hello world", res.FullResponse)
	assert.Equal(t, []string{"Hello", " world"}, rec.chunks)
	assert.Empty(t, rec.errs)
}

func TestRun_SentinelStopsFurtherChunks(t *testing.T) {
	srv := streamServer(t, "data: \"a\"\n\ndata: [DONE]\n\n", "data: \"late\"\n\n")
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.True(t, res.Success)
	assert.Equal(t, "a", res.FullResponse)
	assert.Equal(t, []string{"a"}, rec.chunks)
}

func TestRun_MalformedFrameIsNotFatal(t *testing.T) {
	srv := streamServer(t, "data: \"one\"\n\ndata: {broken\n\ndata: \"two\"\n\n")
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.True(t, res.Success)
	assert.Equal(t, "onetwo", res.FullResponse)
	assert.Empty(t, rec.errs)
}

func TestRun_EndOfInputWithoutSentinelSucceeds(t *testing.T) {
	srv := streamServer(t, "data: \"only\"\n\n", `data: "tail"`)

	res := quietClient(srv.URL).Run(context.Background(), "rewrite", nil, Callbacks{})

	assert.True(t, res.Success)
	assert.Equal(t, "onlytail", res.FullResponse)
}

func TestRun_DataStreamDialect(t *testing.T) {
	srv := streamServer(t,
		"0:\"Motion \"\n",
		"8:[{\"sources\":[{\"title\":\"Rule 12\",\"url\":\"https://law.example/r12\"}]}]\n0:\"granted.\"\n",
		"d:{\"finishReason\":\"stop\"}\n",
	)
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "draft", nil, rec.callbacks())

	require.True(t, res.Success)
	assert.Equal(t, "Motion granted.", res.FullResponse)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, []sse.Source{{Title: "Rule 12", URL: "https://law.example/r12"}}, res.Sources)
	require.Len(t, rec.meta, 1)
}

func TestRunWithDialect_OverridesEndpointDialect(t *testing.T) {
	srv := streamServer(t, "0:\"override\"\nd:{}\n")

	res := quietClient(srv.URL).RunWithDialect(context.Background(), "chat", nil, sse.DialectDataStream, Callbacks{})

	assert.True(t, res.Success)
	assert.Equal(t, "override", res.FullResponse)
}

func TestRun_MultiByteRunesSplitAcrossWrites(t *testing.T) {
	frame := "data: \"Schriftsatz für Müller ✓\"\n\n"
	b := []byte(frame)
	cut := strings.Index(frame, "ü") + 1 // inside the two-byte sequence
	srv := streamServer(t, string(b[:cut]), string(b[cut:]))

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, Callbacks{})

	assert.True(t, res.Success)
	assert.Equal(t, "Schriftsatz für Müller ✓", res.FullResponse)
}

func TestRun_SendsStreamFlagAndCredentials(t *testing.T) {
	var (
		body   string
		header http.Header
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body, header, path = string(data), r.Header.Clone(), r.URL.Path
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	res := quietClient(srv.URL+"/", WithAPIKey(" secret ")).Run(context.Background(), "research",
		map[string]any{"query": "statute of limitations"}, Callbacks{})

	require.True(t, res.Success)
	assert.Equal(t, "/functions/v1/research", path)
	assert.True(t, gjson.Get(body, "stream").Bool())
	assert.Equal(t, "statute of limitations", gjson.Get(body, "query").String())
	assert.Equal(t, "Bearer secret", header.Get("Authorization"))
	assert.Equal(t, "secret", header.Get("apikey"))
	assert.Equal(t, "text/event-stream", header.Get("Accept"))
}

// =============================================================================
// FAILURES
// =============================================================================

func TestRun_ErrorFrameStopsStream(t *testing.T) {
	srv := streamServer(t, "data: \"partial \"\n\ndata: {\"error\":\"quota exceeded\"}\n\ndata: \"never\"\n\n")
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.False(t, res.Success)
	assert.Equal(t, "partial ", res.FullResponse)
	assert.Equal(t, []string{"quota exceeded"}, rec.errs)
	assert.Equal(t, "quota exceeded", res.ErrorMessage())

	var se *StreamError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, "partial ", se.Partial)
	var fe *FunctionError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, "chat", fe.Endpoint)
}

func TestRun_JSONErrorBodyIsAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"error":"OpenAI quota exceeded"}`)
	}))
	defer srv.Close()

	for _, endpoint := range []string{"chat", "draft"} {
		t.Run(endpoint, func(t *testing.T) {
			var rec recorder
			res := quietClient(srv.URL).Run(context.Background(), endpoint, nil, rec.callbacks())

			assert.False(t, res.Success)
			assert.Empty(t, res.FullResponse)
			assert.Equal(t, []string{"OpenAI quota exceeded"}, rec.errs)
			var fe *FunctionError
			require.ErrorAs(t, res.Err, &fe)
			assert.Equal(t, endpoint, fe.Endpoint)
			assert.Equal(t, "OpenAI quota exceeded", res.ErrorMessage())
		})
	}
}

func TestRun_JSONResultBodyIsOneChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result":"Hello world"}`)
	}))
	defer srv.Close()
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.True(t, res.Success)
	assert.Equal(t, "Hello world", res.FullResponse)
	assert.Equal(t, []string{"Hello world"}, rec.chunks)

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"queued"}`)
	}))
	defer other.Close()
	res = quietClient(other.URL).Run(context.Background(), "chat", nil, Callbacks{})
	assert.False(t, res.Success)
	var fe *FunctionError
	assert.ErrorAs(t, res.Err, &fe)
}

func TestRun_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid api key"}`)
	}))
	defer srv.Close()
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.False(t, res.Success)
	var he *HTTPError
	require.ErrorAs(t, res.Err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Status)
	assert.Equal(t, "invalid api key", res.ErrorMessage())
	require.Len(t, rec.errs, 1)
	assert.Empty(t, rec.chunks)
}

func TestRun_NetworkFailureBeforeResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	var rec recorder

	res := quietClient(url).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.False(t, res.Canceled())
	assert.Empty(t, rec.chunks)
	assert.Empty(t, rec.errs)
	assert.Empty(t, res.FullResponse)
}

func TestRun_ConnectionDropMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: \"kept\"\n\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()
	var rec recorder

	res := quietClient(srv.URL).Run(context.Background(), "chat", nil, rec.callbacks())

	assert.False(t, res.Success)
	assert.Equal(t, "kept", res.FullResponse)
	require.Len(t, rec.errs, 1)
	assert.Contains(t, rec.errs[0], "stream interrupted")
	var se *StreamError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, "kept", se.Partial)
}

func TestRun_CancellationStopsCallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: \"first\"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rec recorder
	cb := rec.callbacks()
	onChunk := cb.OnChunk
	cb.OnChunk = func(text string) {
		onChunk(text)
		cancel()
	}

	res := quietClient(srv.URL).Run(ctx, "chat", nil, cb)

	assert.False(t, res.Success)
	assert.True(t, res.Canceled())
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "first", res.FullResponse)
	assert.Equal(t, []string{"first"}, rec.chunks)
	assert.Empty(t, rec.errs)
}

func TestRun_UnknownAndNonStreamingEndpoints(t *testing.T) {
	c := quietClient("http://127.0.0.1:0")

	res := c.Run(context.Background(), "subpoena", nil, Callbacks{})
	assert.True(t, errors.Is(res.Err, ErrUnknownEndpoint))

	res = c.Run(context.Background(), "summarize", nil, Callbacks{})
	assert.True(t, errors.Is(res.Err, ErrNotStreaming))
}
