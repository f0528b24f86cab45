// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes and encodes the streamed responses produced by the
// casedesk function endpoints.
//
// Two payload dialects are in use and each endpoint is bound to exactly one:
//
//   - DialectGeneric: classic Server-Sent Events where every frame is a
//     "data:" line carrying a JSON string (a text delta) and the literal
//     sentinel [DONE] ends the stream.
//   - DialectDataStream: the single-character prefixed stream protocol used by
//     the Vercel AI SDK ("0:" text, "2:"/"8:" data, "3:" error, "d:" finish).
//
// # Key Types
//
//   - Parser: incremental frame parser that buffers partial lines across chunks
//   - Event: one decoded frame (Chunk, Metadata, Error, Done)
//   - Writer: frame encoder used by the function server
//
// # Usage
//
//	p := sse.NewParser(sse.DialectGeneric, sse.WithLogger(logger))
//	for _, chunk := range chunks {
//	    for _, ev := range p.Feed(chunk) {
//	        ...
//	    }
//	}
//	events := p.Flush()
//
// Network reads should go through NewTextReader so that multi-byte UTF-8
// sequences split across reads are decoded intact.
package sse
