// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package functions calls the serverless AI function endpoints.
//
// Streaming endpoints answer with an event stream in one of the two sse
// dialects; the rest answer with a single JSON object, either {"result": ...}
// or {"error": "..."}. Each endpoint's dialect is fixed in the endpoint table
// and can be overridden from configuration or per call.
//
// # Key Types
//
//   - Client: endpoint table, credentials and HTTP transport
//   - Callbacks: per-event hooks invoked while a stream is read
//   - Result: the accumulated outcome of one streaming call
//   - HTTPError, FunctionError, StreamError: typed failures
//
// # Usage
//
//	client := functions.New(cfg.Functions.BaseURL, functions.WithAPIKey(key))
//	res := client.Run(ctx, "draft", payload, functions.Callbacks{
//	    OnChunk: func(text string) { fmt.Print(text) },
//	})
//	if !res.Success {
//	    return res.Err
//	}
//
// Run never returns a bare error. Transport failures, error frames and
// cancellation all end up in Result.Err, with whatever text arrived before
// the failure kept in Result.FullResponse.
package functions
