// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud talks to the streaming chat inference endpoint.
//
// The endpoint is OpenAI-compatible: a POST of role/content messages answered
// with a server-sent event stream whose data lines carry
// choices[0].delta.content fragments and end with "data: [DONE]".
//
// # Key Types
//
//   - Client: posts request envelopes and classifies error statuses
//   - StatusError: non-2xx response (429 and 402 unwrap to sentinels)
//   - Decoder: chunk-boundary tolerant SSE decoder for one response body
//
// # Usage
//
// Stream a reply:
//
//	client := cloud.NewClient(cloud.Options{URL: endpoint, Logger: log})
//	body, err := client.Stream(ctx, token, []cloud.ChatMessage{{Role: "user", Content: "Hello"}})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//
//	for delta, err := range cloud.Deltas(ctx, body) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(delta)
//	}
//
// # Security
//
// Credentials are never logged. Log lines carry an 8-character SHA-256
// fingerprint instead.
package cloud
