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
	"sort"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/config"
	"github.com/jeranaias/casedesk/internal/functions"
	"github.com/jeranaias/casedesk/internal/llm"
	"github.com/jeranaias/casedesk/internal/sse"
	"github.com/jeranaias/casedesk/internal/tasks"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxTextLength caps any single text field, in runes.
	MaxTextLength = 100000

	// MaxMessageCount caps the conversation history of a chat request.
	MaxMessageCount = 100

	// MaxTokensLimit caps the max_tokens parameter.
	MaxTokensLimit = 128000

	// DefaultMaxBodyBytes is used when Options.MaxBodyBytes is zero.
	DefaultMaxBodyBytes = 1 << 20

	// Version is reported by the health endpoint.
	Version = "0.3.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts handled function calls.
type Stats struct {
	mu               sync.Mutex
	startTime        time.Time
	totalRequests    int64
	failedRequests   int64
	promptTokens     int64
	completionTokens int64
	perFunction      map[string]int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalRequests    int64            `json:"total_requests"`
	FailedRequests   int64            `json:"failed_requests"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	PerFunction      map[string]int64 `json:"per_function"`
	UptimeSeconds    int64            `json:"uptime_seconds"`
}

// NewStats creates an empty Stats starting now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now(), perFunction: make(map[string]int64)}
}

// Record adds one call to the counters.
func (s *Stats) Record(function string, usage sse.Usage, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	if failed {
		s.failedRequests++
	}
	s.promptTokens += int64(usage.PromptTokens)
	s.completionTokens += int64(usage.CompletionTokens)
	s.perFunction[function]++
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	per := make(map[string]int64, len(s.perFunction))
	for k, v := range s.perFunction {
		per[k] = v
	}
	return StatsSnapshot{
		TotalRequests:    s.totalRequests,
		FailedRequests:   s.failedRequests,
		PromptTokens:     s.promptTokens,
		CompletionTokens: s.completionTokens,
		PerFunction:      per,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}
}

// ============================================================================
// OPTIONS
// ============================================================================

// Options configures a Server.
type Options struct {
	Addr         string
	AuthToken    string
	CORSOrigins  []string
	RateLimit    float64 // requests per second per client; <= 0 disables
	RateBurst    int
	MaxBodyBytes int64

	// Dialects overrides the frame dialect of streaming functions.
	Dialects map[string]sse.Dialect

	// Tasks, when set, records every function call as a task.
	Tasks *tasks.Registry

	// Logger is used for request logs. Defaults to the context logger of
	// Run, or pslog.Ctx of each request.
	Logger pslog.Logger
}

// OptionsFromConfig maps the [server] and [functions] sections.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		Addr:         cfg.Server.Addr,
		AuthToken:    cfg.Server.AuthToken,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Dialects:     make(map[string]sse.Dialect, len(cfg.Functions.Dialects)),
	}
	for name, value := range cfg.Functions.Dialects {
		d, err := sse.ParseDialect(value)
		if err != nil {
			return Options{}, fmt.Errorf("functions.dialects.%s: %w", name, err)
		}
		opts.Dialects[name] = d
	}
	return opts, nil
}

// Providers are the upstream models behind the functions. Research falls
// back to Default when nil.
type Providers struct {
	Default  llm.Provider
	Research llm.Provider
}

func (p Providers) forFunction(name string) llm.Provider {
	if name == "research" && p.Research != nil {
		return p.Research
	}
	return p.Default
}

// ============================================================================
// SERVER
// ============================================================================

// Server serves the function endpoints consumed by functions.Client.
type Server struct {
	opts      Options
	endpoints map[string]functions.Endpoint
	router    *http.ServeMux
	stats     *Stats

	providersMu sync.RWMutex
	providers   Providers

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server. Streaming functions use the dialects of
// functions.DefaultEndpoints unless overridden in opts.
func New(opts Options, providers Providers) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	endpoints := functions.DefaultEndpoints()
	for name, d := range opts.Dialects {
		if ep, ok := endpoints[name]; ok {
			ep.Dialect = d
			endpoints[name] = ep
		}
	}

	s := &Server{
		opts:      opts,
		providers: providers,
		endpoints: endpoints,
		router:    http.NewServeMux(),
		stats:     NewStats(),
	}
	s.setupRoutes()
	return s
}

// SetProviders replaces the upstream providers. Calls in flight finish on
// the providers they started with.
func (s *Server) SetProviders(p Providers) {
	s.providersMu.Lock()
	s.providers = p
	s.providersMu.Unlock()
}

func (s *Server) currentProviders() Providers {
	s.providersMu.RLock()
	defer s.providersMu.RUnlock()
	return s.providers
}

// Stats returns the server counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

// Functions lists the served function names.
func (s *Server) Functions() []string {
	names := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /functions/v1/chat", s.handleChat)
	s.router.HandleFunc("POST /functions/v1/draft", s.handleDraft)
	s.router.HandleFunc("POST /functions/v1/rewrite", s.handleRewrite)
	s.router.HandleFunc("POST /functions/v1/research", s.handleResearch)
	s.router.HandleFunc("POST /functions/v1/summarize", s.handleSummarize)
	s.router.HandleFunc("POST /functions/v1/analyze", s.handleAnalyze)
	s.router.HandleFunc("POST /functions/v1/translate", s.handleTranslate)
	s.router.HandleFunc("POST /functions/v1/{name}", s.handleUnknown)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
	s.router.HandleFunc("GET /tasks", s.handleTasks)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler(logger pslog.Logger) http.Handler {
	if logger == nil {
		logger = s.opts.Logger
	}
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
	}
	if logger != nil {
		middlewares = append(middlewares, LoggingMiddleware(logger))
	}
	middlewares = append(middlewares,
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig(s.opts.CORSOrigins)),
		AuthMiddleware(s.opts.AuthToken),
	)
	if s.opts.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.opts.RateLimit, s.opts.RateBurst)))
	}
	middlewares = append(middlewares, BodyLimitMiddleware(s.opts.MaxBodyBytes))
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Providers map[string]string `json:"providers"`
	Functions []string          `json:"functions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Version:   Version,
		Providers: map[string]string{},
		Functions: s.Functions(),
	}
	providers := s.currentProviders()
	if providers.Default == nil {
		health.Status = "degraded"
		health.Providers["default"] = "not_configured"
	} else {
		health.Providers["default"] = providers.Default.Name()
	}
	if p := providers.forFunction("research"); p != nil {
		health.Providers["research"] = p.Name()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// TasksResponse is returned by GET /tasks.
type TasksResponse struct {
	Tasks  []tasks.Task `json:"tasks"`
	Counts tasks.Counts `json:"counts"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	resp := TasksResponse{Tasks: []tasks.Task{}}
	if reg := s.opts.Tasks; reg != nil {
		resp.Tasks = reg.List()
		resp.Counts = reg.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

// track records a running call in Options.Tasks and returns the function
// that finishes it.
func (s *Server) track(r *http.Request, name string) func(error) {
	reg := s.opts.Tasks
	if reg == nil {
		return func(error) {}
	}
	id := reg.Add(tasks.New(name + " for " + GetClientIP(r)))
	reg.Update(id, tasks.Patch{}.WithStatus(tasks.StatusRunning))
	return func(err error) {
		if err != nil {
			reg.Update(id, tasks.Patch{}.WithStatus(tasks.StatusError).WithError(publicMessage(err)))
			return
		}
		reg.Update(id, tasks.Patch{}.WithStatus(tasks.StatusSuccess).WithProgress(100))
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run listens on Options.Addr and serves until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := pslog.Ctx(ctx)
	srv := &http.Server{
		Handler:           s.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("function server listening", "addr", ln.Addr().String(), "version", Version)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("function server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error": "..."} body function clients expect.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
