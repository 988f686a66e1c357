// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversation turns and the
// in-memory transcript.
//
// # Key Types
//
//   - Turn: One user or assistant entry with a stable client-side ID
//   - Transcript: Ordered, append-only turn log for the active session
//   - Role: Turn role enumeration (user, assistant)
//   - Message: Role/content pair sent to the inference endpoint
//
// # Usage
//
// Stream an assistant answer into a transcript:
//
//	tr := model.NewTranscript()
//	tr.Append(model.NewUserTurn("I feel anxious today"))
//
//	reply := model.NewAssistantTurn()
//	_ = tr.BeginStreaming(reply)
//	_ = tr.AppendDelta(reply.ID, "That sounds hard.")
//	final, _ := tr.EndStreaming(reply.ID)
//
// Render on every change:
//
//	stop := tr.Subscribe(func(turns []model.Turn) { render(turns) })
//	defer stop()
package model
