// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server serves the AI functions that the casedesk client calls.
//
// Streaming functions answer with frames in the dialect their endpoint is
// configured for (see the sse package); JSON functions answer with
// {"result": ...} or {"error": "..."}.
//
// # Endpoints
//
//   - POST /functions/v1/chat      - streamed case chat
//   - POST /functions/v1/research  - streamed research with sources
//   - POST /functions/v1/draft     - streamed text for insertion at a cursor
//   - POST /functions/v1/rewrite   - streamed replacement for a selection
//   - POST /functions/v1/summarize - JSON summary
//   - POST /functions/v1/analyze   - JSON array of highlighted spans
//   - POST /functions/v1/translate - JSON translation
//   - GET  /health                 - health check
//   - GET  /stats                  - call counters
//   - GET  /tasks                  - recent calls, when a task registry is set
//
// # Middleware
//
// Recovery, request logging, security headers, CORS, bearer or apikey
// authentication, per-client rate limiting and a request body limit.
//
// # Key Types
//
//   - Server: router, providers and counters
//   - Options: listen address, auth and limits
//   - Providers: the llm.Provider behind ordinary and research functions
//
// # Usage
//
//	opts, err := server.OptionsFromConfig(cfg)
//	if err != nil {
//		return err
//	}
//	srv := server.New(opts, server.Providers{Default: openai, Research: perplexity})
//	return srv.Run(ctx)
package server
