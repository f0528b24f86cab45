// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkt.systems/pslog"

	"net/http/httptest"

	"github.com/jeranaias/casedesk/internal/config"
	"github.com/jeranaias/casedesk/internal/llm"
	"github.com/jeranaias/casedesk/internal/server"
)

// =============================================================================
// HARNESS
// =============================================================================

// scriptedProvider answers every completion with text and streams deltas,
// failing after failAt deltas when failAt >= 0.
type scriptedProvider struct {
	text   string
	deltas []string
	failAt int

	mu       sync.Mutex
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) record(req llm.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

func (p *scriptedProvider) last() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	p.record(req)
	return llm.Completion{Text: p.text, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request, fn llm.DeltaFunc) (llm.Completion, error) {
	p.record(req)
	var acc strings.Builder
	for i, d := range p.deltas {
		if i == p.failAt {
			return llm.Completion{Text: acc.String()}, &llm.ProviderError{Provider: "scripted", Status: 500, Message: "upstream broke"}
		}
		acc.WriteString(d)
		if err := fn(llm.Delta{Text: d}); err != nil {
			return llm.Completion{Text: acc.String()}, err
		}
	}
	return llm.Completion{Text: acc.String(), FinishReason: "stop"}, nil
}

func quietLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
}

// setup isolates the config and data directories and points the client at
// a function server backed by p.
func setup(t *testing.T, p *scriptedProvider) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CASEDESK_HOME", home)
	t.Setenv("CASEDESK_DATA_DIR", "")
	t.Setenv("CASEDESK_LOG_LEVEL", "")
	t.Cleanup(config.ResetGlobalForTesting)

	if p != nil {
		srv := server.New(server.Options{}, server.Providers{Default: p})
		ts := httptest.NewServer(srv.Handler(quietLogger()))
		t.Cleanup(ts.Close)
		t.Setenv("CASEDESK_FUNCTIONS_URL", ts.URL)
	}
	return home
}

type result struct {
	stdout string
	stderr string
	code   int
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	ctx := pslog.ContextWithLogger(context.Background(), quietLogger())
	code := execute(ctx, args, strings.NewReader(stdin), &stdout, &stderr)
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func mustRun(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	r := run(t, stdin, args...)
	require.Equal(t, ExitSuccess, r.code, "stderr: %s\nstdout: %s", r.stderr, r.stdout)
	return r
}

func decodeJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out), s)
	return out
}

func createCase(t *testing.T) string {
	t.Helper()
	r := mustRun(t, "", "case", "create", "--json", "--client", "Acme Ltd", "Acme", "v", "Widgets")
	return decodeJSON(t, r.stdout)["id"].(string)
}

func createDoc(t *testing.T, caseID, text string) string {
	t.Helper()
	r := mustRun(t, text, "doc", "new", "--json", "--case", caseID, "--title", "Supply agreement", "-")
	return decodeJSON(t, r.stdout)["id"].(string)
}

func exportDoc(t *testing.T, id string) string {
	t.Helper()
	return mustRun(t, "", "doc", "export", id).stdout
}

// =============================================================================
// TESTS
// =============================================================================

func TestVersion(t *testing.T) {
	setup(t, nil)
	r := mustRun(t, "", "version")
	assert.Contains(t, r.stdout, "casedesk "+Version)

	r = mustRun(t, "", "version", "--json")
	assert.Equal(t, Version, decodeJSON(t, r.stdout)["version"])
}

func TestCaseAndDocumentLifecycle(t *testing.T) {
	setup(t, nil)
	caseID := createCase(t)
	docID := createDoc(t, caseID, "The Supplier shall deliver.\n")

	assert.Equal(t, "The Supplier shall deliver.\n", exportDoc(t, docID))

	r := mustRun(t, "", "case", "list")
	assert.Contains(t, r.stdout, "Acme v Widgets")
	assert.Contains(t, r.stdout, "Acme Ltd")

	r = mustRun(t, "", "case", "show", caseID, "--json")
	docs := decodeJSON(t, r.stdout)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, docID, docs[0].(map[string]any)["id"])

	out := filepath.Join(t.TempDir(), "export.txt")
	mustRun(t, "", "doc", "export", docID, "-o", out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "The Supplier shall deliver.\n", string(data))

	mustRun(t, "", "doc", "delete", docID)
	r = run(t, "", "doc", "show", docID)
	assert.Equal(t, ExitNotFoundError, r.code)

	mustRun(t, "", "case", "delete", caseID)
	r = run(t, "", "case", "show", caseID)
	assert.Equal(t, ExitNotFoundError, r.code)
	assert.Contains(t, r.stderr, "Error:")
}

func TestDraft_InsertsStreamedTextAtCursor(t *testing.T) {
	p := &scriptedProvider{deltas: []string{"Hello", " world"}, failAt: -1}
	setup(t, p)
	docID := createDoc(t, createCase(t), "AB")

	r := mustRun(t, "", "draft", "--doc", docID, "--at", "1", "--json", "greet", "them")
	out := decodeJSON(t, r.stdout)
	assert.Equal(t, "Hello world", out["text"])
	assert.EqualValues(t, 1, out["start"])
	assert.EqualValues(t, 12, out["end"])

	assert.Equal(t, "AHello worldB\n", exportDoc(t, docID))
	assert.Contains(t, p.last().Messages[len(p.last().Messages)-1].Content, "greet them")
}

func TestDraft_DefaultsToEndOfDocument(t *testing.T) {
	p := &scriptedProvider{deltas: []string{" and more"}, failAt: -1}
	setup(t, p)
	docID := createDoc(t, createCase(t), "Text")

	mustRun(t, "", "draft", "--doc", docID, "-q", "continue")
	assert.Equal(t, "Text and more\n", exportDoc(t, docID))
}

func TestDraft_RejectsBadConflictPolicy(t *testing.T) {
	setup(t, &scriptedProvider{failAt: -1})
	r := run(t, "", "draft", "--doc", "x", "--conflict", "merge", "go")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestRewrite_ReplacesRange(t *testing.T) {
	p := &scriptedProvider{deltas: []string{"must"}, failAt: -1}
	setup(t, p)
	docID := createDoc(t, createCase(t), "The Supplier may deliver.")

	r := mustRun(t, "", "rewrite", "--doc", docID, "--from", "13", "--to", "16", "make it mandatory")
	assert.Equal(t, "[-may-]{+must+}\n", r.stdout)
	assert.Contains(t, r.stderr, "+1 -1 words")
	assert.Equal(t, "The Supplier must deliver.\n", exportDoc(t, docID))
}

func TestRewrite_RestoresOriginalOnFailure(t *testing.T) {
	p := &scriptedProvider{deltas: []string{"sh", "all"}, failAt: 1}
	setup(t, p)
	docID := createDoc(t, createCase(t), "The Supplier may deliver.")

	r := run(t, "", "rewrite", "--doc", docID, "--from", "13", "--to", "16", "make it mandatory")
	assert.NotEqual(t, ExitSuccess, r.code)
	assert.Equal(t, "The Supplier may deliver.\n", exportDoc(t, docID))
}

func TestAnalyze_SavesFindingsAsMarks(t *testing.T) {
	p := &scriptedProvider{
		text:   `[{"quote":"indemnify","label":"risk","explanation":"Uncapped."},{"quote":"not in text","label":"note"}]`,
		failAt: -1,
	}
	setup(t, p)
	docID := createDoc(t, createCase(t), "Buyer shall indemnify Seller.")

	r := mustRun(t, "", "analyze", "--doc", docID, "--json")
	spans := decodeJSON(t, r.stdout)["spans"].([]any)
	require.Len(t, spans, 1)
	span := spans[0].(map[string]any)
	assert.Equal(t, "risk", span["label"])
	assert.EqualValues(t, 12, span["start"])
	assert.EqualValues(t, 21, span["end"])

	r = mustRun(t, "", "doc", "show", docID, "--analyses")
	assert.Contains(t, r.stdout, `[risk] "indemnify"`)
	assert.Contains(t, r.stdout, "Uncapped.")
	assert.Contains(t, r.stdout, "1 findings")
}

func TestSummarize(t *testing.T) {
	p := &scriptedProvider{text: "A short summary.", failAt: -1}
	setup(t, p)

	r := mustRun(t, "", "summarize", "--json", "--length", "short", "Long", "contract", "text")
	assert.Equal(t, "A short summary.", decodeJSON(t, r.stdout)["summary"])
	assert.Equal(t, "Long contract text", p.last().Messages[len(p.last().Messages)-1].Content)

	r = run(t, "", "summarize", "--length", "epic", "text")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "", "summarize", "--file", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Equal(t, ExitGeneralError, r.code)
}

func TestTranslate_SavesNewDocument(t *testing.T) {
	p := &scriptedProvider{text: "Le Fournisseur livre.", failAt: -1}
	setup(t, p)
	caseID := createCase(t)
	docID := createDoc(t, caseID, "The Supplier delivers.")

	r := mustRun(t, "", "translate", "--doc", docID, "--to", "French", "--save-as", "Contrat", "--json")
	out := decodeJSON(t, r.stdout)
	assert.Equal(t, "Le Fournisseur livre.", out["translation"])
	newID := out["document_id"].(string)
	assert.NotEqual(t, docID, newID)
	assert.Equal(t, "Le Fournisseur livre.\n", exportDoc(t, newID))

	r = run(t, "", "translate", "text")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestChat_SavesConversation(t *testing.T) {
	p := &scriptedProvider{deltas: []string{"Clause 4 ", "applies."}, failAt: -1}
	setup(t, p)
	caseID := createCase(t)

	r := mustRun(t, "", "chat", "--case", caseID, "--json", "Which", "clause?")
	out := decodeJSON(t, r.stdout)
	assert.Equal(t, "Clause 4 applies.", out["response"])
	convID := out["conversation_id"].(string)

	r = mustRun(t, "", "conversation", "export", convID)
	assert.Contains(t, r.stdout, "Which clause?")
	assert.Contains(t, r.stdout, "Clause 4 applies.")

	dir := t.TempDir() + "/"
	mustRun(t, "", "conversation", "export", convID, "--format", "html", "-o", dir)
	files, err := filepath.Glob(filepath.Join(dir, "conversation_*.html"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	page, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(page), "<p>Clause 4 applies.</p>")

	r = run(t, "", "conversation", "export", convID, "--format", "pdf")
	assert.Equal(t, ExitUsageError, r.code)

	r = mustRun(t, "", "conversation", "list", "--case", caseID, "--search", "clause")
	assert.Contains(t, r.stdout, convID)
}

func TestChat_InteractiveSessionKeepsHistory(t *testing.T) {
	p := &scriptedProvider{deltas: []string{"Answer."}, failAt: -1}
	setup(t, p)

	r := mustRun(t, "first question\nsecond question\nexit\n", "chat", "-i")
	assert.Equal(t, 2, strings.Count(r.stdout, "Answer."))
	msgs := p.last().Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "first question", msgs[len(msgs)-3].Content)
	assert.Equal(t, "second question", msgs[len(msgs)-1].Content)
}

func TestUpload(t *testing.T) {
	setup(t, nil)
	caseID := createCase(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "brief.pdf")
	require.NoError(t, os.WriteFile(file, bytes.Repeat([]byte("x"), 100_000), 0o644))

	r := mustRun(t, "", "upload", "--case", caseID, file)
	assert.Contains(t, r.stdout, caseID+"/brief.pdf")
	assert.Contains(t, r.stdout, "100 kB")

	r = run(t, "", "upload", "--case", caseID, filepath.Join(dir, "missing.pdf"))
	assert.NotEqual(t, ExitSuccess, r.code)
	assert.Contains(t, r.stdout, "missing.pdf")

	r = mustRun(t, "", "case", "show", caseID)
	assert.Contains(t, r.stdout, "Uploads (1)")
}

func TestConfigCommands(t *testing.T) {
	home := setup(t, nil)

	mustRun(t, "", "config", "set", "server.addr", "0.0.0.0:9000")
	r := mustRun(t, "", "config", "get", "server.addr")
	assert.Equal(t, "0.0.0.0:9000\n", r.stdout)

	r = mustRun(t, "", "config", "path")
	assert.Equal(t, filepath.Join(home, "config.toml")+"\n", r.stdout)

	mustRun(t, "", "config", "set", "functions.api_key", "sk-secret")
	r = mustRun(t, "", "config", "get", "functions.api_key")
	assert.NotContains(t, r.stdout, "sk-secret")
	r = mustRun(t, "", "config", "show")
	assert.NotContains(t, r.stdout, "sk-secret")

	r = run(t, "", "config", "set", "providers.default", "ollama")
	assert.Equal(t, ExitConfigError, r.code)

	r = run(t, "", "config", "get", "nope.key")
	assert.Equal(t, ExitUsageError, r.code)

	mustRun(t, "", "config", "validate")
}

func TestConfigInit_PromptsForKeys(t *testing.T) {
	home := setup(t, nil)

	mustRun(t, "gw-key\n\n\nant-key\n", "config", "init", "--base-url", "http://127.0.0.1:9999")
	cfg, err := config.LoadFromPath(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "gw-key", cfg.Functions.APIKey)
	assert.Equal(t, "ant-key", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, "anthropic", cfg.Providers.Default)
	assert.Equal(t, "anthropic", cfg.Providers.Research)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Functions.BaseURL)

	r := run(t, "\n\n\n\n", "config", "init")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestInvalidConfigFileFailsWithConfigExitCode(t *testing.T) {
	home := setup(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte("[bogus]\nx = 1\n"), 0o600))

	r := run(t, "", "case", "list")
	assert.Equal(t, ExitConfigError, r.code)
	assert.Contains(t, r.stderr, "casedesk config validate")

	r = run(t, "", "config", "validate")
	assert.Equal(t, ExitConfigError, r.code)
}

func TestUsageErrors(t *testing.T) {
	setup(t, nil)

	r := run(t, "", "case", "list", "--bogus")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "", "upload", "file.txt")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "", "--json", "doc", "list")
	assert.Equal(t, ExitUsageError, r.code)
	out := decodeJSON(t, r.stdout)
	assert.Equal(t, "case", out["field"])
	assert.EqualValues(t, ExitUsageError, out["exit_code"])
}
