// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates a streaming chat session.
//
// An Orchestrator owns one Transcript and moves through
// Idle -> Sending -> Streaming -> Idle, or through Failed back to Idle.
// Turns are shown immediately and written behind to a storage.Gateway;
// the two pipelines meet only when history is hydrated at session start.
//
// # Key Types
//
//   - Orchestrator: SendMessage, ClearChat, Hydrate
//   - Identity: the user and bearer credential a session acts for
//   - Error: classified failure (RateLimited, QuotaExhausted, RequestFailed,
//     StreamIncomplete, TransportError)
//   - Notifier: receives user-visible notifications
//
// # Usage
//
//	orch, err := chat.New(chat.Options{
//		Client:   cloud.NewClient(opts),
//		Gateway:  gw,
//		Notifier: notifier,
//		Identity: chat.Identity{UserID: id, Token: token},
//		Logger:   logger,
//	})
//	orch.Hydrate(ctx)
//	res, err := orch.SendMessage(ctx, "hello")
//	if res != nil && res.Partial {
//		// stream broke; res.Assistant holds what arrived
//	}
//	defer orch.Close()
package chat
